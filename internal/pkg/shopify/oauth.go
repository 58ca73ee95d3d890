package shopify

import (
	"golang.org/x/oauth2"
)

// OAuthConfig builds the per-shop authorization code configuration. Shopify
// serves the authorize and token endpoints from the shop's own domain, so the
// endpoint is derived from baseURL (normally "https://<shop>").
func OAuthConfig(baseURL, apiKey, apiSecret string, scopes []string, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     apiKey,
		ClientSecret: apiSecret,
		Scopes:       scopes,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   baseURL + "/admin/oauth/authorize",
			TokenURL:  baseURL + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// GrantedScope reads the comma separated scope Shopify returns with the token.
func GrantedScope(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	if scope, ok := token.Extra("scope").(string); ok {
		return scope
	}
	return ""
}
