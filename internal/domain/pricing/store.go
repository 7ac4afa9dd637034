package pricing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheKeyPrefix = "pricing:plan:"

// Store is the read path for pricing rules. Lookups are pure: a session
// captures its price book once at start and never re-reads it mid-session.
// Redis acts as a read-through cache; a nil client falls back to Postgres.
type Store struct {
	repo     *Repository
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewStore(repo *Repository, redisClient *redis.Client, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Store{repo: repo, redis: redisClient, cacheTTL: cacheTTL}
}

// PriceBookFor returns the price book for a tier.
func (s *Store) PriceBookFor(ctx context.Context, tier Tier) (*PriceBook, error) {
	if book := s.fromCache(ctx, tier); book != nil {
		return book, nil
	}

	plan, err := s.repo.GetPlan(ctx, tier)
	if err != nil {
		return nil, err
	}

	s.toCache(ctx, tier, &plan.PriceBook)
	return &plan.PriceBook, nil
}

func (s *Store) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListPlans(ctx)
}

func (s *Store) SeedDefaults(ctx context.Context) error {
	return s.repo.SeedDefaults(ctx)
}

func (s *Store) fromCache(ctx context.Context, tier Tier) *PriceBook {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, cacheKeyPrefix+string(tier)).Bytes()
	if err != nil {
		return nil
	}
	var book PriceBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil
	}
	return &book
}

func (s *Store) toCache(ctx context.Context, tier Tier, book *PriceBook) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(book)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKeyPrefix+string(tier), raw, s.cacheTTL).Err(); err != nil {
		log.Warn().Err(err).Str("tier", string(tier)).Msg("failed to cache price book")
	}
}
