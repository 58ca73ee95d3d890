package shop

import "errors"

var (
	ErrNoShop       = errors.New("shop is required")
	ErrInvalidShop  = errors.New("invalid shop domain")
	ErrNotInstalled = errors.New("app is not installed for this shop")

	ErrInvalidState = errors.New("invalid oauth state")
	ErrInvalidHMAC  = errors.New("invalid hmac signature")

	ErrInternal = errors.New("internal error")
)
