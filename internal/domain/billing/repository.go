package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/amoria/billing-api/internal/domain/wallet"
)

// Store persists billing sessions. Updates use compare-and-swap on the
// version column; a lost race surfaces as ErrConcurrentModification for the
// orchestrator's bounded retry.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	UpdateCAS(ctx context.Context, s *Session, expectedVersion int64) error
	ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO billing_sessions (
			id, session_type, participant_a, participant_b, initiator_id,
			payer_id, earner_id, payer_tier, unit_price_minor, bucket_words,
			earner_share_bps, units_accrued, units_billed, elapsed_seconds,
			state, version, started_at, last_activity_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		s.ID, string(s.Type), s.ParticipantA, s.ParticipantB, s.InitiatorID,
		s.PayerID, s.EarnerID, s.PayerTier, s.UnitPriceMinor, s.BucketWords,
		s.EarnerShareBps, s.UnitsAccrued, s.UnitsBilled, s.ElapsedSeconds,
		string(s.State), s.Version, s.StartedAt, s.LastActivityAt,
	)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.db.GetContext(ctx, &s, `
		SELECT id, session_type, participant_a, participant_b, initiator_id,
		       payer_id, earner_id, payer_tier, unit_price_minor, bucket_words,
		       earner_share_bps, units_accrued, units_billed, elapsed_seconds,
		       state, version, started_at, last_activity_at, ended_at
		FROM billing_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateCAS writes the mutable session fields if the stored version still
// matches. On success s.Version is bumped to the committed value.
func (r *Repository) UpdateCAS(ctx context.Context, s *Session, expectedVersion int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE billing_sessions
		SET units_accrued = $1, units_billed = $2, elapsed_seconds = $3,
		    state = $4, last_activity_at = $5, ended_at = $6,
		    version = version + 1
		WHERE id = $7 AND version = $8
	`, s.UnitsAccrued, s.UnitsBilled, s.ElapsedSeconds,
		string(s.State), s.LastActivityAt, s.EndedAt, s.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wallet.ErrConcurrentModification
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *Repository) ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM billing_sessions
		WHERE state = 'ACTIVE' AND last_activity_at < $1
		ORDER BY last_activity_at ASC
		LIMIT $2
	`, cutoff, limit)
	return ids, err
}
