package escrow

import "errors"

var (
	// ErrInvalidAmount is returned when the gross amount is <= 0
	ErrInvalidAmount = errors.New("invalid escrow amount")

	// ErrInvalidFraction is returned when the refund fraction is outside [0, 1]
	ErrInvalidFraction = errors.New("refund fraction must be between 0 and 1")

	// ErrNotFound is returned when the escrow record does not exist
	ErrNotFound = errors.New("escrow record not found")

	// ErrAlreadyResolved is returned when resolving a non-HELD escrow
	ErrAlreadyResolved = errors.New("escrow already resolved")
)
