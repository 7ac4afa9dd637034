package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amoria/billing-api/internal/domain/pricing"
	"github.com/amoria/billing-api/internal/domain/wallet"
)

// fakeStore is an in-memory Store with real CAS semantics. It can be told to
// reject the next update so retry paths get exercised.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[string]Session
	failCASes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]Session)}
}

func (f *fakeStore) Create(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

func (f *fakeStore) UpdateCAS(ctx context.Context, s *Session, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCASes > 0 {
		f.failCASes--
		return wallet.ErrConcurrentModification
	}
	stored, ok := f.sessions[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if stored.Version != expectedVersion {
		return wallet.ErrConcurrentModification
	}
	s.Version = expectedVersion + 1
	f.sessions[s.ID] = *s
	return nil
}

func (f *fakeStore) ListIdleActive(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.sessions {
		if s.State == StateActive && s.LastActivityAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// fakeLedger mirrors the repository's transfer semantics in memory, including
// idempotent replay by transaction id.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	byID     map[string]wallet.TransferRequest
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[uuid.UUID]int64),
		byID:     make(map[string]wallet.TransferRequest),
	}
}

func (f *fakeLedger) EnsureWallet(ctx context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[userID]; !ok {
		f.balances[userID] = 0
	}
	return nil
}

func (f *fakeLedger) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeLedger) Transfer(ctx context.Context, req wallet.TransferRequest) (*wallet.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyLocked(req); err != nil {
		return nil, err
	}
	return recordOf(req), nil
}

func (f *fakeLedger) TransferPair(ctx context.Context, a, b wallet.TransferRequest) (*wallet.Transaction, *wallet.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Both-or-neither: validate the combined debit before applying either leg.
	if _, replayA := f.byID[a.ID]; !replayA {
		need := a.AmountMinor + b.AmountMinor
		if a.FromWalletID != nil && f.balances[*a.FromWalletID] < need {
			return nil, nil, wallet.ErrInsufficientFunds
		}
	}
	if err := f.applyLocked(a); err != nil {
		return nil, nil, err
	}
	if err := f.applyLocked(b); err != nil {
		return nil, nil, err
	}
	return recordOf(a), recordOf(b), nil
}

func (f *fakeLedger) applyLocked(req wallet.TransferRequest) error {
	if stored, ok := f.byID[req.ID]; ok {
		if stored.AmountMinor != req.AmountMinor {
			return wallet.ErrIdempotencyConflict
		}
		return nil
	}
	if req.FromWalletID != nil {
		if f.balances[*req.FromWalletID] < req.AmountMinor {
			return wallet.ErrInsufficientFunds
		}
		f.balances[*req.FromWalletID] -= req.AmountMinor
	}
	if req.ToWalletID != nil {
		f.balances[*req.ToWalletID] += req.AmountMinor
	}
	f.byID[req.ID] = req
	return nil
}

func recordOf(req wallet.TransferRequest) *wallet.Transaction {
	return &wallet.Transaction{
		ID:           req.ID,
		FromWalletID: req.FromWalletID,
		ToWalletID:   req.ToWalletID,
		AmountMinor:  req.AmountMinor,
		Kind:         req.Kind,
		CreatedAt:    time.Now().UTC(),
	}
}

// fakePrices serves one price book for every tier.
type fakePrices struct {
	book pricing.PriceBook
}

func (f *fakePrices) PriceBookFor(ctx context.Context, tier pricing.Tier) (*pricing.PriceBook, error) {
	copied := f.book
	return &copied, nil
}

func testBook() pricing.PriceBook {
	return pricing.PriceBook{
		ChatBucketWords:      12,
		ChatBucketPriceMinor: 10,
		VoiceMinutePrice:     10,
		VideoMinutePrice:     20,
		BookingFeeBps:        2000,
		EarnerShareBps:       6000,
	}
}

func newTestService(store Store, ledger Ledger) *Service {
	return NewService(store, ledger, &fakePrices{book: testBook()}, nil, Config{
		Resolver: ResolverConfig{
			AsymPayingCategory: "male",
			AsymPairedCategory: "female",
			ReceiverEarnsOnTie: true,
		},
		IdleTimeout: 2 * time.Minute,
		MaxRetries:  3,
	})
}

func startChat(t *testing.T, svc *Service, ledger *fakeLedger, payerBalance int64) (*Session, Participant, Participant) {
	t.Helper()
	payer := participant("male", false, false)
	earner := participant("female", true, true)
	ledger.balances[payer.ID] = payerBalance

	s, err := svc.StartSession(context.Background(), StartRequest{
		Type:        SessionTypeChat,
		A:           payer,
		B:           earner,
		InitiatorID: payer.ID,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return s, payer, earner
}

func TestStartSessionRequiresFirstUnit(t *testing.T) {
	ledger := newFakeLedger()
	svc := newTestService(newFakeStore(), ledger)

	payer := participant("male", false, false)
	other := participant("female", true, true)
	ledger.balances[payer.ID] = 9 // one chat bucket costs 10

	_, err := svc.StartSession(context.Background(), StartRequest{
		Type:        SessionTypeChat,
		A:           payer,
		B:           other,
		InitiatorID: payer.ID,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestStartSessionValidatesParticipants(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeLedger())

	p := participant("other", false, false)
	cases := []StartRequest{
		{Type: "CARRIER_PIGEON", A: p, B: participant("other", false, false), InitiatorID: p.ID},
		{Type: SessionTypeChat, A: p, B: p, InitiatorID: p.ID},
		{Type: SessionTypeChat, A: p, B: participant("other", false, false), InitiatorID: uuid.New()},
	}
	for i, req := range cases {
		if _, err := svc.StartSession(context.Background(), req); !errors.Is(err, ErrInvalidParticipants) {
			t.Errorf("case %d: expected ErrInvalidParticipants, got %v", i, err)
		}
	}
}

func TestChatMessageBilling(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	s, payer, earner := startChat(t, svc, ledger, 100)

	// 13 words at 12 per bucket bills two full buckets.
	updated, err := svc.RecordUsage(context.Background(), s.ID, UsageDelta{
		Text: "one two three four five six seven eight nine ten eleven twelve thirteen",
	})
	if err != nil {
		t.Fatalf("record usage failed: %v", err)
	}
	if updated.UnitsBilled != 2 {
		t.Fatalf("expected 2 units billed, got %d", updated.UnitsBilled)
	}

	payerBal, _ := ledger.GetBalance(context.Background(), payer.ID)
	earnerBal, _ := ledger.GetBalance(context.Background(), earner.ID)
	if payerBal != 80 {
		t.Fatalf("expected payer balance 80, got %d", payerBal)
	}
	// 20 charged at 6000 bps: 12 to the earner, 8 burned as the platform fee.
	if earnerBal != 12 {
		t.Fatalf("expected earner balance 12, got %d", earnerBal)
	}
}

func TestCallHeartbeatsAreCumulative(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	payer := participant("male", false, false)
	earner := participant("female", true, true)
	ledger.balances[payer.ID] = 1000

	s, err := svc.StartSession(context.Background(), StartRequest{
		Type:        SessionTypeVoiceCall,
		A:           payer,
		B:           earner,
		InitiatorID: payer.ID,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	for _, elapsed := range []int64{30, 61, 61, 45} {
		if _, err := svc.RecordUsage(context.Background(), s.ID, UsageDelta{ElapsedSeconds: elapsed}); err != nil {
			t.Fatalf("heartbeat %d failed: %v", elapsed, err)
		}
	}

	updated, _ := svc.GetSession(context.Background(), s.ID)
	if updated.UnitsBilled != 2 {
		t.Fatalf("expected 2 minutes billed after retried and stale heartbeats, got %d", updated.UnitsBilled)
	}
	payerBal, _ := ledger.GetBalance(context.Background(), payer.ID)
	if payerBal != 980 {
		t.Fatalf("expected payer balance 980, got %d", payerBal)
	}
}

func TestInsufficientFundsMidCallBillsCoverableUnits(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	payer := participant("male", false, false)
	other := participant("other", false, false)
	ledger.balances[payer.ID] = 25 // voice minute costs 10

	s, err := svc.StartSession(context.Background(), StartRequest{
		Type:        SessionTypeVoiceCall,
		A:           payer,
		B:           other,
		InitiatorID: payer.ID,
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	updated, err := svc.RecordUsage(context.Background(), s.ID, UsageDelta{ElapsedSeconds: 150})
	if err != nil {
		t.Fatalf("record usage failed: %v", err)
	}

	// 3 minutes accrued, only 2 coverable. The session must end billed for
	// exactly what the wallet could pay.
	if updated.State != StateEnded {
		t.Fatalf("expected session ENDED, got %s", updated.State)
	}
	if updated.UnitsBilled != 2 {
		t.Fatalf("expected 2 units billed, got %d", updated.UnitsBilled)
	}
	payerBal, _ := ledger.GetBalance(context.Background(), payer.ID)
	if payerBal != 5 {
		t.Fatalf("expected balance 5, got %d", payerBal)
	}
}

func TestUsageAfterTerminalIsNoop(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	s, payer, _ := startChat(t, svc, ledger, 100)

	if _, err := svc.EndSession(context.Background(), s.ID, nil); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	after, err := svc.RecordUsage(context.Background(), s.ID, UsageDelta{Text: "late message arriving after hangup"})
	if err != nil {
		t.Fatalf("late usage must not error: %v", err)
	}
	if after.UnitsBilled != 0 {
		t.Fatalf("late usage billed %d units", after.UnitsBilled)
	}
	payerBal, _ := ledger.GetBalance(context.Background(), payer.ID)
	if payerBal != 100 {
		t.Fatalf("late usage charged the payer: balance %d", payerBal)
	}
}

func TestEndSessionTerminalTwice(t *testing.T) {
	ledger := newFakeLedger()
	svc := newTestService(newFakeStore(), ledger)

	s, _, _ := startChat(t, svc, ledger, 100)

	summary, err := svc.EndSession(context.Background(), s.ID, &UsageDelta{Words: 5})
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if summary.UnitsBilled != 1 || summary.AmountBilledMinor != 10 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if _, err := svc.EndSession(context.Background(), s.ID, nil); !errors.Is(err, ErrInvalidSessionState) {
		t.Fatalf("expected ErrInvalidSessionState, got %v", err)
	}
}

func TestRecordUsageRetriesLostCAS(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	s, payer, _ := startChat(t, svc, ledger, 100)

	store.failCASes = 2
	updated, err := svc.RecordUsage(context.Background(), s.ID, UsageDelta{Words: 12})
	if err != nil {
		t.Fatalf("record usage failed after CAS retries: %v", err)
	}
	if updated.UnitsBilled != 1 {
		t.Fatalf("expected 1 unit billed, got %d", updated.UnitsBilled)
	}

	// The retried tick replays the same unit range; the ledger must have
	// charged it exactly once.
	payerBal, _ := ledger.GetBalance(context.Background(), payer.ID)
	if payerBal != 90 {
		t.Fatalf("CAS retry double-billed: balance %d", payerBal)
	}
}

func TestAbortIdleSettlesAndAborts(t *testing.T) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := newTestService(store, ledger)

	s, payer, _ := startChat(t, svc, ledger, 100)

	// Accrue without settling by writing straight to the store, as if the
	// last tick had crashed between accrual and transfer.
	stored, _ := store.Get(context.Background(), s.ID)
	stored.UnitsAccrued = 2
	stored.LastActivityAt = time.Now().UTC().Add(-10 * time.Minute)
	if err := store.UpdateCAS(context.Background(), stored, stored.Version); err != nil {
		t.Fatalf("seed update failed: %v", err)
	}

	cutoff := time.Now().UTC().Add(-2 * time.Minute)
	if err := svc.abortIdle(context.Background(), s.ID, cutoff); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	final, _ := svc.GetSession(context.Background(), s.ID)
	if final.State != StateAborted {
		t.Fatalf("expected ABORTED, got %s", final.State)
	}
	if final.UnitsBilled != 2 {
		t.Fatalf("expected accrued units settled on abort, got %d", final.UnitsBilled)
	}
	payerBal, _ := ledger.GetBalance(context.Background(), payer.ID)
	if payerBal != 80 {
		t.Fatalf("expected balance 80 after abort settlement, got %d", payerBal)
	}

	// A session with fresh activity is left alone.
	s2, _, _ := startChat(t, svc, ledger, 100)
	if err := svc.abortIdle(context.Background(), s2.ID, cutoff); err != nil {
		t.Fatalf("abort of active session errored: %v", err)
	}
	if fresh, _ := svc.GetSession(context.Background(), s2.ID); fresh.State != StateActive {
		t.Fatalf("fresh session aborted: %s", fresh.State)
	}
}
