package billing

import "errors"

var (
	// ErrInsufficientFunds is returned when the payer cannot cover one billing unit
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidSessionState is returned for explicit operations on a session
	// already ENDED or ABORTED; late ticks are a no-op instead
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrSessionNotFound is returned when the session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidParticipants is returned when the start request is malformed
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrRetryExhausted is returned when concurrent-modification retries ran out
	ErrRetryExhausted = errors.New("concurrent modification retries exhausted")
)
