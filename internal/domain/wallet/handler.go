package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amoria/billing-api/internal/middleware"
	"github.com/amoria/billing-api/internal/pkg/response"
	"github.com/amoria/billing-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type mintRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	AmountMinor int64  `json:"amount_minor" validate:"required,gte=1"`
	ReferenceID string `json:"reference_id" validate:"required"`
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	wal, err := h.svc.GetWallet(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{
		"user_id":       wal.UserID,
		"balance_minor": wal.BalanceMinor,
		"frozen":        wal.Frozen,
	})
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	limit, offset := parsePage(r)
	txs, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{"transactions": txs})
}

// Mint credits a wallet from outside the system (token purchase settled by
// an external payment provider, or an operator grant).
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	rec, err := h.svc.Mint(r.Context(), userID, req.AmountMinor, req.ReferenceID, KindTopup, nil)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "amount must be greater than zero")
		case errors.Is(err, ErrWalletFrozen):
			response.Forbidden(w, "wallet is frozen")
		case errors.Is(err, ErrIdempotencyConflict):
			response.Conflict(w, "reference_id already used with different parameters")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, rec)
}

func (h *Handler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, true)
}

func (h *Handler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFrozen(w, r, false)
}

func (h *Handler) setFrozen(w http.ResponseWriter, r *http.Request, frozen bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	if frozen {
		err = h.svc.Freeze(r.Context(), userID)
	} else {
		err = h.svc.Unfreeze(r.Context(), userID)
	}
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			response.NotFound(w, "wallet not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{"user_id": userID, "frozen": frozen})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.With(middleware.RequireService()).Get("/{userID}/balance", h.Balance)
	r.With(middleware.RequireService()).Get("/{userID}/transactions", h.Transactions)

	r.With(middleware.RequireAdmin()).Post("/mint", h.Mint)
	r.With(middleware.RequireAdmin()).Post("/{userID}/freeze", h.Freeze)
	r.With(middleware.RequireAdmin()).Delete("/{userID}/freeze", h.Unfreeze)

	return r
}

func parsePage(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
