package wallet

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository is the single writer path for wallet balances. Every mutation
// goes through a ledger transfer executed under row locks, so the no-negative
// and exact-sum invariants hold regardless of caller concurrency.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EnsureWallet(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_minor, version, frozen)
		VALUES ($1, 0, 0, false)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (r *Repository) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	if err := r.EnsureWallet(ctx, userID); err != nil {
		return nil, err
	}

	var w Wallet
	err := r.db.GetContext(ctx, &w, `
		SELECT user_id, balance_minor, version, frozen, updated_at
		FROM wallets WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	w, err := r.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.BalanceMinor, nil
}

func (r *Repository) SetFrozen(ctx context.Context, userID uuid.UUID, frozen bool) error {
	if err := r.EnsureWallet(ctx, userID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE wallets SET frozen = $1, updated_at = now() WHERE user_id = $2
	`, frozen, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Transfer executes one atomic transfer. Replaying a committed transaction id
// with identical parameters returns the stored record without re-applying.
func (r *Repository) Transfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rec, applied, err := r.transferLocked(ctx, tx, req)
	if err != nil {
		return nil, mapPQError(err)
	}
	if !applied {
		// Idempotent replay: nothing to commit.
		return rec, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, mapPQError(err)
	}
	return rec, nil
}

// TransferPair executes two transfers as one atomic unit: both commit or
// neither does. Used for splitting one charge into an earner share and a
// platform fee share.
func (r *Repository) TransferPair(ctx context.Context, a, b TransferRequest) (*Transaction, *Transaction, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	wallets, err := r.lockWallets(ctx, tx, walletsOf(a, b))
	if err != nil {
		return nil, nil, mapPQError(err)
	}

	recA, appliedA, err := r.apply(ctx, tx, wallets, a)
	if err != nil {
		return nil, nil, mapPQError(err)
	}
	recB, appliedB, err := r.apply(ctx, tx, wallets, b)
	if err != nil {
		return nil, nil, mapPQError(err)
	}

	if appliedA != appliedB {
		// One leg committed before without the other: the pair was never
		// executed through this path. Caller bug.
		return nil, nil, ErrIdempotencyConflict
	}
	if !appliedA {
		return recA, recB, nil
	}

	if err := r.persistBalances(ctx, tx, wallets); err != nil {
		return nil, nil, mapPQError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, mapPQError(err)
	}
	return recA, recB, nil
}

// TransferTx executes a transfer inside an externally managed transaction.
// The caller owns commit/rollback; used when a transfer must be atomic with
// another write (e.g. creating an escrow record).
func (r *Repository) TransferTx(ctx context.Context, tx *sqlx.Tx, req TransferRequest) (*Transaction, error) {
	rec, applied, err := r.transferLocked(ctx, tx, req)
	if err != nil {
		return nil, mapPQError(err)
	}
	_ = applied
	return rec, nil
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT id, from_wallet_id, to_wallet_id, amount_minor, kind, related_session_id, created_at
		FROM ledger_transactions
		WHERE from_wallet_id = $1 OR to_wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return txs, err
}

func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT id, from_wallet_id, to_wallet_id, amount_minor, kind, related_session_id, created_at
		FROM ledger_transactions
		WHERE related_session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	return txs, err
}

func (r *Repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (r *Repository) transferLocked(ctx context.Context, tx *sqlx.Tx, req TransferRequest) (*Transaction, bool, error) {
	wallets, err := r.lockWallets(ctx, tx, walletsOf(req))
	if err != nil {
		return nil, false, err
	}

	rec, applied, err := r.apply(ctx, tx, wallets, req)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return rec, false, nil
	}

	if err := r.persistBalances(ctx, tx, wallets); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// lockWallets ensures and row-locks all involved wallets in sorted order so
// concurrent pairs can never deadlock.
func (r *Repository) lockWallets(ctx context.Context, tx *sqlx.Tx, ids []uuid.UUID) (map[uuid.UUID]*Wallet, error) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	wallets := make(map[uuid.UUID]*Wallet, len(ids))
	for _, id := range ids {
		if _, ok := wallets[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, balance_minor, version, frozen)
			VALUES ($1, 0, 0, false)
			ON CONFLICT (user_id) DO NOTHING
		`, id); err != nil {
			return nil, err
		}

		var w Wallet
		if err := tx.GetContext(ctx, &w, `
			SELECT user_id, balance_minor, version, frozen, updated_at
			FROM wallets WHERE user_id = $1 FOR UPDATE
		`, id); err != nil {
			return nil, err
		}
		wallets[id] = &w
	}
	return wallets, nil
}

// apply validates one request against the locked wallets and mutates their
// in-memory balances. Returns applied=false on an identical idempotent replay.
func (r *Repository) apply(ctx context.Context, tx *sqlx.Tx, wallets map[uuid.UUID]*Wallet, req TransferRequest) (*Transaction, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}

	existing, found, err := r.getTransaction(ctx, tx, req.ID)
	if err != nil {
		return nil, false, err
	}
	if found {
		if existing.matches(req) {
			return existing, false, nil
		}
		return nil, false, ErrIdempotencyConflict
	}

	if req.FromWalletID != nil {
		w := wallets[*req.FromWalletID]
		if w.Frozen {
			return nil, false, ErrWalletFrozen
		}
		if w.BalanceMinor < req.AmountMinor {
			return nil, false, ErrInsufficientFunds
		}
		w.BalanceMinor -= req.AmountMinor
	}
	if req.ToWalletID != nil {
		w := wallets[*req.ToWalletID]
		if w.Frozen {
			return nil, false, ErrWalletFrozen
		}
		w.BalanceMinor += req.AmountMinor
	}

	var rec Transaction
	err = tx.GetContext(ctx, &rec, `
		INSERT INTO ledger_transactions (id, from_wallet_id, to_wallet_id, amount_minor, kind, related_session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, from_wallet_id, to_wallet_id, amount_minor, kind, related_session_id, created_at
	`, req.ID, req.FromWalletID, req.ToWalletID, req.AmountMinor, string(req.Kind), req.RelatedSessionID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Lost an insert race on the id: another transaction with the
			// same key committed first. A matching one is a replay.
			existing, found, checkErr := r.getTransaction(ctx, tx, req.ID)
			if checkErr != nil {
				return nil, false, checkErr
			}
			if found && existing.matches(req) {
				return existing, false, nil
			}
			return nil, false, ErrIdempotencyConflict
		}
		return nil, false, err
	}

	return &rec, true, nil
}

func (r *Repository) getTransaction(ctx context.Context, tx *sqlx.Tx, id string) (*Transaction, bool, error) {
	var rec Transaction
	err := tx.GetContext(ctx, &rec, `
		SELECT id, from_wallet_id, to_wallet_id, amount_minor, kind, related_session_id, created_at
		FROM ledger_transactions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (r *Repository) persistBalances(ctx context.Context, tx *sqlx.Tx, wallets map[uuid.UUID]*Wallet) error {
	for _, w := range wallets {
		if _, err := tx.ExecContext(ctx, `
			UPDATE wallets
			SET balance_minor = $1, version = version + 1, updated_at = now()
			WHERE user_id = $2
		`, w.BalanceMinor, w.UserID); err != nil {
			return err
		}
	}
	return nil
}

func validateRequest(req TransferRequest) error {
	if req.ID == "" || req.AmountMinor <= 0 {
		return ErrInvalidAmount
	}
	if req.FromWalletID == nil && req.ToWalletID == nil {
		return ErrInvalidAmount
	}
	if req.FromWalletID != nil && req.ToWalletID != nil && *req.FromWalletID == *req.ToWalletID {
		return ErrInvalidAmount
	}
	return nil
}

func walletsOf(reqs ...TransferRequest) []uuid.UUID {
	var ids []uuid.UUID
	for _, req := range reqs {
		if req.FromWalletID != nil {
			ids = append(ids, *req.FromWalletID)
		}
		if req.ToWalletID != nil {
			ids = append(ids, *req.ToWalletID)
		}
	}
	return ids
}

// mapPQError maps transient serialization failures to ErrConcurrentModification
// so the orchestrator can retry them a bounded number of times.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConcurrentModification
		}
	}
	return err
}
