package generation

import "errors"

var (
	ErrMissingPerson   = errors.New("person image is required")
	ErrMissingGarment  = errors.New("garment image or garment url is required")
	ErrInvalidCategory = errors.New("invalid garment category")
	ErrInvalidImage    = errors.New("invalid image")

	// ErrRateLimited is returned when the shopper used up the shop's daily limit
	ErrRateLimited = errors.New("daily try-on limit reached")

	// ErrProviderFailure covers provider timeouts and errors; nothing is debited
	ErrProviderFailure = errors.New("try-on provider failed")

	// ErrCreditRace means the balance checked before inference was spent
	// elsewhere before the debit. The result is withheld.
	ErrCreditRace = errors.New("credits were consumed concurrently")
)
