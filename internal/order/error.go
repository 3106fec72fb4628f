package order

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrEntityNotFound      = errors.New("entity not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrAmountMismatch is a Conflict that webhook handlers report to the
	// provider with a dedicated code; errors.Is matches it as ErrConflict too.
	ErrAmountMismatch = fmt.Errorf("%w: amount mismatch", ErrConflict)
)
