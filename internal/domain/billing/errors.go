package billing

import "errors"

var (
	ErrUnknownPack        = errors.New("unknown credit pack")
	ErrCustomBelowMinimum = errors.New("custom amount is below the minimum")
	ErrInvalidChargeID    = errors.New("invalid charge id")
	ErrAmountMismatch     = errors.New("charge price does not match the requested credits")

	ErrChargeNotFound    = errors.New("charge not found")
	ErrChargeDeclined    = errors.New("charge was declined")
	ErrChargeNotApproved = errors.New("charge is not approved yet")
	ErrGatewayFailure    = errors.New("billing gateway failure")

	ErrInternal = errors.New("internal error")
)
