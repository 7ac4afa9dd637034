package escrow

import (
	"time"

	"github.com/google/uuid"
)

// Status is the escrow lifecycle. Records are never deleted, only transitioned.
type Status string

const (
	StatusHeld              Status = "HELD"
	StatusReleased          Status = "RELEASED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Record tracks funds held between booking payment and resolution. The
// platform fee is taken at hold time and is never part of any refund; only
// the held remainder moves on release or refund.
type Record struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	BookingID        uuid.UUID  `db:"booking_id" json:"booking_id"`
	PayerID          uuid.UUID  `db:"payer_id" json:"payer_id"`
	EarnerID         uuid.UUID  `db:"earner_id" json:"earner_id"`
	GrossAmountMinor int64      `db:"gross_amount_minor" json:"gross_amount_minor"`
	PlatformFeeMinor int64      `db:"platform_fee_minor" json:"platform_fee_minor"`
	HeldAmountMinor  int64      `db:"held_amount_minor" json:"held_amount_minor"`
	Status           Status     `db:"status" json:"status"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

func (r *Record) resolved() bool {
	return r.Status != StatusHeld
}

// HoldRequest creates a new escrow. PayerTier selects the booking fee rate.
type HoldRequest struct {
	BookingID        uuid.UUID
	PayerID          uuid.UUID
	EarnerID         uuid.UUID
	GrossAmountMinor int64
	PayerTier        string
}
