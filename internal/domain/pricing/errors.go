package pricing

import "errors"

var (
	// ErrUnknownTier is returned when no active plan exists for a tier
	ErrUnknownTier = errors.New("unknown pricing tier")
)
