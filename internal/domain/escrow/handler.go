package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amoria/billing-api/internal/domain/wallet"
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

type createBookingRequest struct {
	BookingID        string `json:"booking_id" validate:"required,uuid"`
	PayerID          string `json:"payer_id" validate:"required,uuid"`
	EarnerID         string `json:"earner_id" validate:"required,uuid"`
	GrossAmountMinor int64  `json:"gross_amount_minor" validate:"required,gte=1"`
	PayerTier        string `json:"payer_tier" validate:"required"`
}

type resolveRequest struct {
	Outcome        string  `json:"outcome" validate:"required,outcome"`
	RefundFraction float64 `json:"refund_fraction" validate:"gte=0,lte=1"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	bookingID, err1 := uuid.Parse(req.BookingID)
	payerID, err2 := uuid.Parse(req.PayerID)
	earnerID, err3 := uuid.Parse(req.EarnerID)
	if err1 != nil || err2 != nil || err3 != nil {
		response.BadRequest(w, "invalid id")
		return
	}

	rec, err := h.svc.Hold(r.Context(), HoldRequest{
		BookingID:        bookingID,
		PayerID:          payerID,
		EarnerID:         earnerID,
		GrossAmountMinor: req.GrossAmountMinor,
		PayerTier:        req.PayerTier,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, "amount must be greater than zero")
		case errors.Is(err, wallet.ErrInsufficientFunds):
			response.PaymentRequired(w, "payer cannot cover the booking amount")
		case errors.Is(err, wallet.ErrWalletFrozen):
			response.Forbidden(w, "payer wallet is frozen")
		case errors.Is(err, wallet.ErrIdempotencyConflict):
			response.Conflict(w, "booking already captured with different parameters")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, rec)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	escrowID, err := uuid.Parse(chi.URLParam(r, "escrowID"))
	if err != nil {
		response.BadRequest(w, "invalid escrow id")
		return
	}

	var req resolveRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	var rec *Record
	if req.Outcome == "RELEASE" {
		rec, err = h.svc.Release(r.Context(), escrowID)
	} else {
		rec, err = h.svc.Refund(r.Context(), escrowID, req.RefundFraction)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(w, "escrow not found")
		case errors.Is(err, ErrAlreadyResolved):
			response.Conflict(w, "escrow already resolved")
		case errors.Is(err, ErrInvalidFraction):
			response.BadRequest(w, "refund fraction must be between 0 and 1")
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, rec)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	escrowID, err := uuid.Parse(chi.URLParam(r, "escrowID"))
	if err != nil {
		response.BadRequest(w, "invalid escrow id")
		return
	}

	rec, err := h.svc.Get(r.Context(), escrowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "escrow not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, rec)
}

func (h *Handler) ListByPayer(w http.ResponseWriter, r *http.Request) {
	payerID, err := uuid.Parse(chi.URLParam(r, "payerID"))
	if err != nil {
		response.BadRequest(w, "invalid payer id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	recs, err := h.svc.ListByPayer(r.Context(), payerID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{"escrows": recs})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireService())

	r.Post("/", h.Create)
	r.Post("/{escrowID}/resolve", h.Resolve)
	r.Get("/{escrowID}", h.Get)
	r.Get("/payer/{payerID}", h.ListByPayer)

	return r
}
