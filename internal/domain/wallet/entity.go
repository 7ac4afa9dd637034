package wallet

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies ledger transactions by the interaction that produced them.
type Kind string

const (
	KindChat    Kind = "CHAT"
	KindCall    Kind = "CALL"
	KindBooking Kind = "BOOKING"
	KindRefund  Kind = "REFUND"
	KindFee     Kind = "FEE"
	KindTopup   Kind = "TOPUP"
)

// Wallet holds a user's token balance in minor units. Balances are only
// ever mutated through ledger transfers; version increments on every write.
type Wallet struct {
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	BalanceMinor int64     `db:"balance_minor" json:"balance_minor"`
	Version      int64     `db:"version" json:"version"`
	Frozen       bool      `db:"frozen" json:"frozen"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable ledger record. A nil FromWalletID means the
// amount was minted (e.g. a refund source); a nil ToWalletID means it was
// burned (platform revenue sink). Corrections are new transactions.
type Transaction struct {
	ID               string     `db:"id" json:"id"`
	FromWalletID     *uuid.UUID `db:"from_wallet_id" json:"from_wallet_id,omitempty"`
	ToWalletID       *uuid.UUID `db:"to_wallet_id" json:"to_wallet_id,omitempty"`
	AmountMinor      int64      `db:"amount_minor" json:"amount_minor"`
	Kind             Kind       `db:"kind" json:"kind"`
	RelatedSessionID *string    `db:"related_session_id" json:"related_session_id,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// TransferRequest describes one transfer. ID is the idempotency key:
// replaying the same ID with identical parameters returns the stored
// record, replaying it with different parameters is a caller bug.
type TransferRequest struct {
	ID               string
	FromWalletID     *uuid.UUID
	ToWalletID       *uuid.UUID
	AmountMinor      int64
	Kind             Kind
	RelatedSessionID *string
}

// matches reports whether an already-committed transaction was produced
// by an identical request. Used to detect idempotency conflicts.
func (t *Transaction) matches(req TransferRequest) bool {
	if t.AmountMinor != req.AmountMinor || t.Kind != req.Kind {
		return false
	}
	if !uuidPtrEqual(t.FromWalletID, req.FromWalletID) || !uuidPtrEqual(t.ToWalletID, req.ToWalletID) {
		return false
	}
	return strPtrEqual(t.RelatedSessionID, req.RelatedSessionID)
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
