package wallet

import "errors"

var (
	// ErrInvalidAmount is returned when amount is <= 0 or the transfer is malformed
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when the source wallet cannot cover the amount
	ErrInsufficientFunds = errors.New("insufficient wallet balance")

	// ErrWalletFrozen is returned when either wallet is under a compliance hold
	ErrWalletFrozen = errors.New("wallet is frozen")

	// ErrIdempotencyConflict is returned when a transaction id is replayed
	// with parameters differing from the committed record
	ErrIdempotencyConflict = errors.New("transaction id already used with different parameters")

	// ErrConcurrentModification is returned when the ledger lost a serialization
	// race; safe to retry a bounded number of times
	ErrConcurrentModification = errors.New("concurrent wallet modification")

	// ErrWalletNotFound is returned when the wallet does not exist
	ErrWalletNotFound = errors.New("wallet not found")
)
