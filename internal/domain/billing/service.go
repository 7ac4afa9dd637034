package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/amoria/billing-api/internal/domain/pricing"
	"github.com/amoria/billing-api/internal/domain/wallet"
)

// Ledger is the wallet surface the orchestrator needs. Satisfied by
// *wallet.Service; tests use an in-memory fake.
type Ledger interface {
	EnsureWallet(ctx context.Context, userID uuid.UUID) error
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	Transfer(ctx context.Context, req wallet.TransferRequest) (*wallet.Transaction, error)
	TransferPair(ctx context.Context, a, b wallet.TransferRequest) (*wallet.Transaction, *wallet.Transaction, error)
}

// PriceSource is the pricing lookup surface. Satisfied by *pricing.Store.
type PriceSource interface {
	PriceBookFor(ctx context.Context, tier pricing.Tier) (*pricing.PriceBook, error)
}

// Notifier pushes engine events to external callers. A nil notifier is valid.
type Notifier interface {
	Publish(ctx context.Context, event string, userID uuid.UUID, payload interface{})
}

// Config is orchestrator policy.
type Config struct {
	Resolver    ResolverConfig
	IdleTimeout time.Duration
	MaxRetries  int
}

// Service coordinates resolver, meter, pricing and ledger into billing
// ticks. All money movement goes through the ledger's transfer path.
type Service struct {
	store    Store
	ledger   Ledger
	prices   PriceSource
	resolver *Resolver
	notifier Notifier
	cfg      Config
}

func NewService(store Store, ledger Ledger, prices PriceSource, notifier Notifier, cfg Config) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return &Service{
		store:    store,
		ledger:   ledger,
		prices:   prices,
		resolver: NewResolver(cfg.Resolver),
		notifier: notifier,
		cfg:      cfg,
	}
}

// StartRequest describes a new paid interaction.
type StartRequest struct {
	Type        SessionType
	A           Participant
	B           Participant
	InitiatorID uuid.UUID
}

// StartSession resolves roles, captures the payer's price book and verifies
// the payer can cover at least one billing unit. A session that cannot pay
// for its first unit never becomes ACTIVE.
func (svc *Service) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	payerID, earnerID := svc.resolver.Resolve(req.A, req.B, req.InitiatorID)

	payer := req.A
	if payerID == req.B.ID {
		payer = req.B
	}

	book, err := svc.prices.PriceBookFor(ctx, pricing.Tier(payer.Tier))
	if err != nil {
		return nil, err
	}

	unitPrice, bucketWords := unitPriceFor(book, req.Type)
	if unitPrice <= 0 {
		return nil, fmt.Errorf("no price configured for %s on tier %s", req.Type, payer.Tier)
	}

	if err := svc.ledger.EnsureWallet(ctx, req.A.ID); err != nil {
		return nil, err
	}
	if err := svc.ledger.EnsureWallet(ctx, req.B.ID); err != nil {
		return nil, err
	}

	balance, err := svc.ledger.GetBalance(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if balance < unitPrice {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Type:           req.Type,
		ParticipantA:   req.A.ID,
		ParticipantB:   req.B.ID,
		InitiatorID:    req.InitiatorID,
		PayerID:        payerID,
		EarnerID:       earnerID,
		PayerTier:      payer.Tier,
		UnitPriceMinor: unitPrice,
		BucketWords:    bucketWords,
		EarnerShareBps: book.EarnerShareBps,
		State:          StateActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	if err := svc.store.Create(ctx, s); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", s.ID).
		Str("session_type", string(s.Type)).
		Str("payer_id", payerID.String()).
		Int64("unit_price_minor", unitPrice).
		Msg("billing session started")

	svc.publish(ctx, "session_started", s, nil)
	return s, nil
}

// RecordUsage accumulates billable units and runs a tick when at least one
// full unit is due. Usage arriving after the session ended is a benign no-op.
func (svc *Service) RecordUsage(ctx context.Context, sessionID string, delta UsageDelta) (*Session, error) {
	for attempt := 0; attempt <= svc.cfg.MaxRetries; attempt++ {
		s, err := svc.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.terminal() {
			log.Debug().Str("session_id", sessionID).Msg("usage after terminal state ignored")
			return s, nil
		}

		prevVersion := s.Version
		svc.accrue(s, delta)
		s.LastActivityAt = time.Now().UTC()

		exhausted, err := svc.settle(ctx, s)
		if err != nil {
			return nil, err
		}
		if exhausted {
			svc.markEnded(s)
		}

		if err := svc.store.UpdateCAS(ctx, s, prevVersion); err != nil {
			if errors.Is(err, wallet.ErrConcurrentModification) {
				continue
			}
			return nil, err
		}

		svc.afterTick(ctx, s, exhausted)
		return s, nil
	}
	return nil, ErrRetryExhausted
}

// EndSession runs the final settling tick and returns the billing summary.
// Ending an already terminal session is an error; the caller is telling us
// something new about a session that no longer exists.
func (svc *Service) EndSession(ctx context.Context, sessionID string, final *UsageDelta) (*FinalSummary, error) {
	for attempt := 0; attempt <= svc.cfg.MaxRetries; attempt++ {
		s, err := svc.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if s.terminal() {
			return nil, ErrInvalidSessionState
		}

		prevVersion := s.Version
		if final != nil {
			svc.accrue(s, *final)
		}

		if _, err := svc.settle(ctx, s); err != nil {
			return nil, err
		}
		svc.markEnded(s)

		if err := svc.store.UpdateCAS(ctx, s, prevVersion); err != nil {
			if errors.Is(err, wallet.ErrConcurrentModification) {
				continue
			}
			return nil, err
		}

		svc.afterTick(ctx, s, true)
		return svc.summary(s), nil
	}
	return nil, ErrRetryExhausted
}

// GetSession returns a session by id.
func (svc *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return svc.store.Get(ctx, sessionID)
}

// Summary returns the billing summary for a terminal session.
func (svc *Service) Summary(ctx context.Context, sessionID string) (*FinalSummary, error) {
	s, err := svc.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.terminal() {
		return nil, ErrInvalidSessionState
	}
	return svc.summary(s), nil
}

// abortIdle transitions one idle session to ABORTED, settling only what was
// accrued before the abort. Racing against a concurrent final tick is safe:
// terminal states and fresh activity are both no-ops here.
func (svc *Service) abortIdle(ctx context.Context, sessionID string, cutoff time.Time) error {
	for attempt := 0; attempt <= svc.cfg.MaxRetries; attempt++ {
		s, err := svc.store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.terminal() || s.LastActivityAt.After(cutoff) {
			return nil
		}

		prevVersion := s.Version
		if _, err := svc.settle(ctx, s); err != nil {
			return err
		}
		now := time.Now().UTC()
		s.State = StateAborted
		s.EndedAt = &now

		if err := svc.store.UpdateCAS(ctx, s, prevVersion); err != nil {
			if errors.Is(err, wallet.ErrConcurrentModification) {
				continue
			}
			return err
		}

		log.Warn().
			Str("session_id", s.ID).
			Int64("units_billed", s.UnitsBilled).
			Msg("billing session aborted on idle timeout")
		svc.publish(ctx, "session_aborted", s, svc.summary(s))
		return nil
	}
	return ErrRetryExhausted
}

// RunReaper aborts idle sessions until ctx is cancelled. Run it once per
// instance; abortIdle tolerates overlapping reapers.
func (svc *Service) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-svc.cfg.IdleTimeout)
			ids, err := svc.store.ListIdleActive(ctx, cutoff, 100)
			if err != nil {
				log.Error().Err(err).Msg("reaper failed to list idle sessions")
				continue
			}
			for _, id := range ids {
				if err := svc.abortIdle(ctx, id, cutoff); err != nil {
					log.Error().Err(err).Str("session_id", id).Msg("reaper failed to abort session")
				}
			}
		}
	}
}

// accrue folds a usage delta into the session counters. Chat accrues whole
// buckets per message; calls track cumulative elapsed seconds so retried
// heartbeats cannot inflate the accrued minutes.
func (svc *Service) accrue(s *Session, delta UsageDelta) {
	switch s.Type {
	case SessionTypeChat:
		words := delta.Words
		if delta.Text != "" {
			words = CountWords(delta.Text)
		}
		s.UnitsAccrued += BucketsFor(words, s.BucketWords)
	case SessionTypeVoiceCall, SessionTypeVideoCall:
		if delta.ElapsedSeconds > s.ElapsedSeconds {
			s.ElapsedSeconds = delta.ElapsedSeconds
		}
		if mins := MinutesFor(s.ElapsedSeconds); mins > s.UnitsAccrued {
			s.UnitsAccrued = mins
		}
	}
}

// settle bills all due units. When the payer cannot cover the full amount,
// the last fully coverable units are still billed and exhausted=true tells
// the caller to end the session; partial units are never charged.
func (svc *Service) settle(ctx context.Context, s *Session) (exhausted bool, err error) {
	units := s.dueUnits()
	if units <= 0 {
		return false, nil
	}

	for units > 0 {
		err := svc.transferUnits(ctx, s, units)
		if err == nil {
			s.UnitsBilled += units
			// Units left due means the payer could not cover everything.
			return s.dueUnits() > 0, nil
		}
		if !errors.Is(err, wallet.ErrInsufficientFunds) {
			return false, err
		}

		balance, berr := svc.ledger.GetBalance(ctx, s.PayerID)
		if berr != nil {
			return false, berr
		}
		affordable := balance / s.UnitPriceMinor
		if affordable >= units {
			affordable = units - 1
		}
		units = affordable
	}

	return true, nil
}

// transferUnits moves the charge for a contiguous unit range. The
// transaction ids encode the range, so a replayed tick can never bill the
// same units twice.
func (svc *Service) transferUnits(ctx context.Context, s *Session, units int64) error {
	amount := units * s.UnitPriceMinor
	base := fmt.Sprintf("sess:%s:u:%d-%d", s.ID, s.UnitsBilled+1, s.UnitsBilled+units)
	kind := wallet.KindCall
	if s.Type == SessionTypeChat {
		kind = wallet.KindChat
	}
	sessionRef := s.ID

	if s.EarnerID == nil {
		_, err := svc.ledger.Transfer(ctx, wallet.TransferRequest{
			ID:               base,
			FromWalletID:     &s.PayerID,
			AmountMinor:      amount,
			Kind:             kind,
			RelatedSessionID: &sessionRef,
		})
		return err
	}

	earnerShare, platformShare := wallet.Split(amount, s.EarnerShareBps)
	switch {
	case earnerShare == 0:
		_, err := svc.ledger.Transfer(ctx, wallet.TransferRequest{
			ID:               base + ":fee",
			FromWalletID:     &s.PayerID,
			AmountMinor:      platformShare,
			Kind:             wallet.KindFee,
			RelatedSessionID: &sessionRef,
		})
		return err
	case platformShare == 0:
		_, err := svc.ledger.Transfer(ctx, wallet.TransferRequest{
			ID:               base + ":earn",
			FromWalletID:     &s.PayerID,
			ToWalletID:       s.EarnerID,
			AmountMinor:      earnerShare,
			Kind:             kind,
			RelatedSessionID: &sessionRef,
		})
		return err
	default:
		_, _, err := svc.ledger.TransferPair(ctx,
			wallet.TransferRequest{
				ID:               base + ":earn",
				FromWalletID:     &s.PayerID,
				ToWalletID:       s.EarnerID,
				AmountMinor:      earnerShare,
				Kind:             kind,
				RelatedSessionID: &sessionRef,
			},
			wallet.TransferRequest{
				ID:               base + ":fee",
				FromWalletID:     &s.PayerID,
				AmountMinor:      platformShare,
				Kind:             wallet.KindFee,
				RelatedSessionID: &sessionRef,
			},
		)
		return err
	}
}

func (svc *Service) markEnded(s *Session) {
	now := time.Now().UTC()
	s.State = StateEnded
	s.EndedAt = &now
}

func (svc *Service) afterTick(ctx context.Context, s *Session, terminal bool) {
	svc.publish(ctx, "balance_updated", s, map[string]interface{}{
		"session_id":   s.ID,
		"units_billed": s.UnitsBilled,
	})
	if terminal {
		log.Info().
			Str("session_id", s.ID).
			Int64("units_billed", s.UnitsBilled).
			Int64("amount_minor", s.UnitsBilled*s.UnitPriceMinor).
			Msg("billing session ended")
		svc.publish(ctx, "session_ended", s, svc.summary(s))
	}
}

func (svc *Service) summary(s *Session) *FinalSummary {
	endedAt := s.LastActivityAt
	if s.EndedAt != nil {
		endedAt = *s.EndedAt
	}
	return &FinalSummary{
		SessionID:         s.ID,
		State:             s.State,
		UnitsBilled:       s.UnitsBilled,
		AmountBilledMinor: s.UnitsBilled * s.UnitPriceMinor,
		PayerID:           s.PayerID,
		EarnerID:          s.EarnerID,
		EndedAt:           endedAt,
	}
}

func (svc *Service) publish(ctx context.Context, event string, s *Session, payload interface{}) {
	if svc.notifier == nil {
		return
	}
	if payload == nil {
		payload = map[string]interface{}{"session_id": s.ID, "state": s.State}
	}
	svc.notifier.Publish(ctx, event, s.ParticipantA, payload)
	svc.notifier.Publish(ctx, event, s.ParticipantB, payload)
}

func validateStart(req StartRequest) error {
	switch req.Type {
	case SessionTypeChat, SessionTypeVoiceCall, SessionTypeVideoCall:
	default:
		return ErrInvalidParticipants
	}
	if req.A.ID == uuid.Nil || req.B.ID == uuid.Nil || req.A.ID == req.B.ID {
		return ErrInvalidParticipants
	}
	if req.InitiatorID != req.A.ID && req.InitiatorID != req.B.ID {
		return ErrInvalidParticipants
	}
	return nil
}

func unitPriceFor(book *pricing.PriceBook, t SessionType) (price int64, bucketWords int) {
	switch t {
	case SessionTypeChat:
		return book.ChatBucketPriceMinor, book.ChatBucketWords
	case SessionTypeVoiceCall:
		return book.VoiceMinutePrice, 0
	case SessionTypeVideoCall:
		return book.VideoMinutePrice, 0
	}
	return 0, 0
}
