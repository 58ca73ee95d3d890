package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// VerifyQueryHMAC checks the hmac parameter Shopify appends to OAuth and
// app-launch redirects: hex HMAC-SHA256 over the remaining parameters sorted
// by key and joined as k=v pairs with '&'.
func VerifyQueryHMAC(query url.Values, secret string) bool {
	provided := query.Get("hmac")
	if provided == "" || secret == "" {
		return false
	}

	expected := SignQuery(query, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}

// SignQuery computes the hex digest VerifyQueryHMAC expects.
func SignQuery(query url.Values, secret string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(query[k], ","))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookHMAC checks the X-Shopify-Hmac-Sha256 header: base64
// HMAC-SHA256 of the raw request body.
func VerifyWebhookHMAC(body []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}

	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}

	return hmac.Equal(provided, SignWebhook(body, secret))
}

// SignWebhook returns the raw HMAC-SHA256 digest of body.
func SignWebhook(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
