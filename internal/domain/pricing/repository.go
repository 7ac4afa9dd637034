package pricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetPlan(ctx context.Context, tier Tier) (*Plan, error) {
	var p Plan
	err := r.db.GetContext(ctx, &p, `
		SELECT id, name, is_active, created_at, price_book
		FROM pricing_plans
		WHERE id = $1 AND is_active = true
	`, string(tier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownTier
	}
	if err != nil {
		return nil, err
	}
	p.ParseJSONB()
	return &p, nil
}

func (r *Repository) ListPlans(ctx context.Context) ([]*Plan, error) {
	var plans []*Plan
	err := r.db.SelectContext(ctx, &plans, `
		SELECT id, name, is_active, created_at, price_book
		FROM pricing_plans
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		p.ParseJSONB()
	}
	return plans, nil
}

// SeedDefaults inserts the built-in plans when the table is empty.
// Existing rows are never overwritten.
func (r *Repository) SeedDefaults(ctx context.Context) error {
	for _, p := range defaultPlans {
		raw, err := json.Marshal(p.PriceBook)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO pricing_plans (id, name, is_active, price_book)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, string(p.ID), p.Name, p.IsActive, raw); err != nil {
			return err
		}
	}
	return nil
}
