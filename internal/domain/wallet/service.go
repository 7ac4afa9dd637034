package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Split divides a charge into the earner share and the platform share.
// The earner share is floored; the platform share is always the remainder,
// so the two shares sum to amount exactly for every input.
func Split(amountMinor int64, earnerShareBps int) (earnerMinor, platformMinor int64) {
	if amountMinor <= 0 {
		return 0, 0
	}
	earnerMinor = amountMinor * int64(earnerShareBps) / 10000
	platformMinor = amountMinor - earnerMinor
	return earnerMinor, platformMinor
}

func (s *Service) EnsureWallet(ctx context.Context, userID uuid.UUID) error {
	return s.repo.EnsureWallet(ctx, userID)
}

func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return s.repo.GetWallet(ctx, userID)
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if req.AmountMinor <= 0 || req.ID == "" {
		return nil, ErrInvalidAmount
	}
	rec, err := s.repo.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("transaction_id", rec.ID).
		Int64("amount_minor", rec.AmountMinor).
		Str("kind", string(rec.Kind)).
		Msg("ledger transfer applied")
	return rec, nil
}

func (s *Service) TransferPair(ctx context.Context, a, b TransferRequest) (*Transaction, *Transaction, error) {
	if a.AmountMinor <= 0 || b.AmountMinor <= 0 || a.ID == "" || b.ID == "" || a.ID == b.ID {
		return nil, nil, ErrInvalidAmount
	}
	recA, recB, err := s.repo.TransferPair(ctx, a, b)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("transaction_id", recA.ID).
		Str("fee_transaction_id", recB.ID).
		Int64("amount_minor", recA.AmountMinor+recB.AmountMinor).
		Msg("ledger split transfer applied")
	return recA, recB, nil
}

// Mint credits a wallet out of nothing. Admin top-ups and escrow payouts
// use this; the escrow liability is tracked on the escrow record.
func (s *Service) Mint(ctx context.Context, userID uuid.UUID, amountMinor int64, txID string, kind Kind, sessionID *string) (*Transaction, error) {
	return s.Transfer(ctx, TransferRequest{
		ID:               txID,
		ToWalletID:       &userID,
		AmountMinor:      amountMinor,
		Kind:             kind,
		RelatedSessionID: sessionID,
	})
}

// Burn debits a wallet into the platform revenue sink.
func (s *Service) Burn(ctx context.Context, userID uuid.UUID, amountMinor int64, txID string, kind Kind, sessionID *string) (*Transaction, error) {
	return s.Transfer(ctx, TransferRequest{
		ID:               txID,
		FromWalletID:     &userID,
		AmountMinor:      amountMinor,
		Kind:             kind,
		RelatedSessionID: sessionID,
	})
}

func (s *Service) Freeze(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.SetFrozen(ctx, userID, true); err != nil {
		return err
	}
	log.Warn().Str("user_id", userID.String()).Msg("wallet frozen")
	return nil
}

func (s *Service) Unfreeze(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.SetFrozen(ctx, userID, false); err != nil {
		return err
	}
	log.Info().Str("user_id", userID.String()).Msg("wallet unfrozen")
	return nil
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactions(ctx, userID, limit, offset)
}

func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]Transaction, error) {
	return s.repo.ListBySession(ctx, sessionID)
}
