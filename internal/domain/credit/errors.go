package credit

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit would make the balance negative
	ErrInsufficientBalance = errors.New("insufficient credits")

	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrMissingShop is returned when no shop key is given
	ErrMissingShop = errors.New("shop key is required")

	// ErrMissingReference is returned when a credit has no idempotency key
	ErrMissingReference = errors.New("idempotency key is required")

	// ErrReferenceConflict is returned when a key is reused with a different amount
	ErrReferenceConflict = errors.New("reference already applied with a different amount")

	ErrInternal = errors.New("internal error")
)
