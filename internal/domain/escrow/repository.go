package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/amoria/billing-api/internal/domain/wallet"
)

// Repository persists escrow records and composes ledger transfers into the
// same database transaction, so a hold or resolution either fully applies
// or leaves no trace.
type Repository struct {
	db     *sqlx.DB
	ledger *wallet.Repository
}

func NewRepository(db *sqlx.DB, ledger *wallet.Repository) *Repository {
	return &Repository{db: db, ledger: ledger}
}

// Hold debits the payer for the gross amount and records the escrow. The fee
// leg burns to platform revenue immediately; the held remainder is tracked as
// a liability on the record, not as a separate wallet.
func (r *Repository) Hold(ctx context.Context, rec *Record) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ref := escrowRef(rec.ID)

	if rec.PlatformFeeMinor > 0 {
		if _, err := r.ledger.TransferTx(ctx, tx, wallet.TransferRequest{
			ID:               ref + ":fee",
			FromWalletID:     &rec.PayerID,
			AmountMinor:      rec.PlatformFeeMinor,
			Kind:             wallet.KindFee,
			RelatedSessionID: &ref,
		}); err != nil {
			return err
		}
	}
	if _, err := r.ledger.TransferTx(ctx, tx, wallet.TransferRequest{
		ID:               ref + ":hold",
		FromWalletID:     &rec.PayerID,
		AmountMinor:      rec.HeldAmountMinor,
		Kind:             wallet.KindBooking,
		RelatedSessionID: &ref,
	}); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escrows (
			id, booking_id, payer_id, earner_id,
			gross_amount_minor, platform_fee_minor, held_amount_minor, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.BookingID, rec.PayerID, rec.EarnerID,
		rec.GrossAmountMinor, rec.PlatformFeeMinor, rec.HeldAmountMinor, string(rec.Status),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	err := r.db.GetContext(ctx, &rec, `
		SELECT id, booking_id, payer_id, earner_id, gross_amount_minor,
		       platform_fee_minor, held_amount_minor, status, created_at, resolved_at
		FROM escrows WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]Record, error) {
	var recs []Record
	err := r.db.SelectContext(ctx, &recs, `
		SELECT id, booking_id, payer_id, earner_id, gross_amount_minor,
		       platform_fee_minor, held_amount_minor, status, created_at, resolved_at
		FROM escrows WHERE payer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, payerID, limit, offset)
	return recs, err
}

// Resolve transitions a HELD escrow, minting refundMinor back to the payer
// and earnerMinor to the earner as one atomic unit. The escrow row is locked
// for the duration, so concurrent resolutions serialize and the loser sees
// ErrAlreadyResolved.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID, refundMinor, earnerMinor int64, next Status) (*Record, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var rec Record
	err = tx.GetContext(ctx, &rec, `
		SELECT id, booking_id, payer_id, earner_id, gross_amount_minor,
		       platform_fee_minor, held_amount_minor, status, created_at, resolved_at
		FROM escrows WHERE id = $1 FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.resolved() {
		return nil, ErrAlreadyResolved
	}
	if refundMinor+earnerMinor != rec.HeldAmountMinor {
		return nil, fmt.Errorf("resolution amounts %d+%d do not cover held %d",
			refundMinor, earnerMinor, rec.HeldAmountMinor)
	}

	ref := escrowRef(rec.ID)

	if refundMinor > 0 {
		if _, err := r.ledger.TransferTx(ctx, tx, wallet.TransferRequest{
			ID:               ref + ":refund",
			ToWalletID:       &rec.PayerID,
			AmountMinor:      refundMinor,
			Kind:             wallet.KindRefund,
			RelatedSessionID: &ref,
		}); err != nil {
			return nil, err
		}
	}
	if earnerMinor > 0 {
		if _, err := r.ledger.TransferTx(ctx, tx, wallet.TransferRequest{
			ID:               ref + ":release",
			ToWalletID:       &rec.EarnerID,
			AmountMinor:      earnerMinor,
			Kind:             wallet.KindBooking,
			RelatedSessionID: &ref,
		}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE escrows SET status = $1, resolved_at = $2 WHERE id = $3
	`, string(next), now, rec.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	rec.Status = next
	rec.ResolvedAt = &now
	return &rec, nil
}

func escrowRef(id uuid.UUID) string {
	return "esc:" + id.String()
}
