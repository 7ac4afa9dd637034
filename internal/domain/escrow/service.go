package escrow

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/amoria/billing-api/internal/domain/pricing"
)

// PriceSource supplies the booking fee rate for the payer's tier.
type PriceSource interface {
	PriceBookFor(ctx context.Context, tier pricing.Tier) (*pricing.PriceBook, error)
}

// Notifier pushes escrow resolutions to external callers. Nil is valid.
type Notifier interface {
	Publish(ctx context.Context, event string, userID uuid.UUID, payload interface{})
}

type Service struct {
	repo     *Repository
	prices   PriceSource
	notifier Notifier
}

func NewService(repo *Repository, prices PriceSource, notifier Notifier) *Service {
	return &Service{repo: repo, prices: prices, notifier: notifier}
}

// Hold captures a booking payment. The payer is debited the gross amount;
// the platform fee is taken immediately and is non-refundable from this
// point on; the remainder stays HELD until release or refund.
func (s *Service) Hold(ctx context.Context, req HoldRequest) (*Record, error) {
	if req.GrossAmountMinor <= 0 {
		return nil, ErrInvalidAmount
	}

	book, err := s.prices.PriceBookFor(ctx, pricing.Tier(req.PayerTier))
	if err != nil {
		return nil, err
	}

	fee := req.GrossAmountMinor * int64(book.BookingFeeBps) / 10000
	rec := &Record{
		ID:               uuid.New(),
		BookingID:        req.BookingID,
		PayerID:          req.PayerID,
		EarnerID:         req.EarnerID,
		GrossAmountMinor: req.GrossAmountMinor,
		PlatformFeeMinor: fee,
		HeldAmountMinor:  req.GrossAmountMinor - fee,
		Status:           StatusHeld,
	}

	if err := s.repo.Hold(ctx, rec); err != nil {
		return nil, err
	}

	log.Info().
		Str("escrow_id", rec.ID.String()).
		Str("booking_id", rec.BookingID.String()).
		Int64("gross_minor", rec.GrossAmountMinor).
		Int64("fee_minor", rec.PlatformFeeMinor).
		Int64("held_minor", rec.HeldAmountMinor).
		Msg("escrow held")
	return rec, nil
}

// Release transfers the held remainder to the earner.
func (s *Service) Release(ctx context.Context, escrowID uuid.UUID) (*Record, error) {
	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.repo.Resolve(ctx, escrowID, 0, rec.HeldAmountMinor, StatusReleased)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("escrow_id", resolved.ID.String()).
		Int64("released_minor", resolved.HeldAmountMinor).
		Msg("escrow released")
	s.publish(ctx, resolved)
	return resolved, nil
}

// Refund returns a fraction of the held remainder to the payer and the rest
// to the earner. The platform fee taken at hold time is never refunded.
func (s *Service) Refund(ctx context.Context, escrowID uuid.UUID, fraction float64) (*Record, error) {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return nil, ErrInvalidFraction
	}

	rec, err := s.repo.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	// The fraction is quantized to basis points so the refund amount is
	// computed in integer math, floored per policy.
	bps := int64(math.Round(fraction * 10000))
	refund := rec.HeldAmountMinor * bps / 10000
	earnerShare := rec.HeldAmountMinor - refund

	next := StatusPartiallyRefunded
	switch {
	case refund == rec.HeldAmountMinor:
		next = StatusRefunded
	case refund == 0:
		next = StatusReleased
	}

	resolved, err := s.repo.Resolve(ctx, escrowID, refund, earnerShare, next)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("escrow_id", resolved.ID.String()).
		Int64("refund_minor", refund).
		Int64("earner_minor", earnerShare).
		Str("status", string(resolved.Status)).
		Msg("escrow refunded")
	s.publish(ctx, resolved)
	return resolved, nil
}

func (s *Service) Get(ctx context.Context, escrowID uuid.UUID) (*Record, error) {
	return s.repo.Get(ctx, escrowID)
}

func (s *Service) ListByPayer(ctx context.Context, payerID uuid.UUID, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPayer(ctx, payerID, limit, offset)
}

func (s *Service) publish(ctx context.Context, rec *Record) {
	if s.notifier == nil {
		return
	}
	payload := map[string]interface{}{
		"escrow_id":  rec.ID,
		"booking_id": rec.BookingID,
		"status":     rec.Status,
	}
	s.notifier.Publish(ctx, "escrow_resolved", rec.PayerID, payload)
	s.notifier.Publish(ctx, "escrow_resolved", rec.EarnerID, payload)
}
