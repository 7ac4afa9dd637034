package billing

import (
	"errors"
	"net/http"

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

type participantDTO struct {
	ID                 string `json:"id" validate:"required,uuid"`
	Category           string `json:"category" validate:"required"`
	EarnerEligible     bool   `json:"earner_eligible"`
	MonetizationActive bool   `json:"monetization_active"`
	Tier               string `json:"tier" validate:"required"`
}

type startSessionRequest struct {
	SessionType  string         `json:"session_type" validate:"required,session_type"`
	ParticipantA participantDTO `json:"participant_a" validate:"required"`
	ParticipantB participantDTO `json:"participant_b" validate:"required"`
	InitiatorID  string         `json:"initiator_id" validate:"required,uuid"`
}

type usageRequest struct {
	Text           string `json:"text,omitempty"`
	Words          int64  `json:"words,omitempty" validate:"gte=0"`
	ElapsedSeconds int64  `json:"elapsed_seconds,omitempty" validate:"gte=0"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	start, err := toStartRequest(req)
	if err != nil {
		response.BadRequest(w, "invalid participant or initiator id")
		return
	}

	s, err := h.svc.StartSession(r.Context(), start)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds):
			response.PaymentRequired(w, "payer cannot cover one billing unit")
		case errors.Is(err, ErrInvalidParticipants):
			response.BadRequest(w, "participants are invalid or initiator is not a participant")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, s)
}

func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req usageRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if fieldErrors := validator.Validate(req); fieldErrors != nil {
		response.ValidationError(w, fieldErrors)
		return
	}

	s, err := h.svc.RecordUsage(r.Context(), sessionID, UsageDelta{
		Text:           req.Text,
		Words:          req.Words,
		ElapsedSeconds: req.ElapsedSeconds,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, s)
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// The final usage delta is optional; an empty body ends the session as-is.
	var final *UsageDelta
	var req usageRequest
	if err := response.DecodeJSON(r.Body, &req); err == nil {
		final = &UsageDelta{Text: req.Text, Words: req.Words, ElapsedSeconds: req.ElapsedSeconds}
	}

	summary, err := h.svc.EndSession(r.Context(), sessionID, final)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, summary)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s, err := h.svc.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, s)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(w, "session not found")
	case errors.Is(err, ErrInvalidSessionState):
		response.Conflict(w, "session is already ended or aborted")
	case errors.Is(err, ErrInsufficientFunds):
		response.PaymentRequired(w, "insufficient funds")
	case errors.Is(err, ErrRetryExhausted):
		response.Conflict(w, "session is being modified concurrently, retry")
	default:
		response.InternalError(w)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireService())

	r.Post("/", h.Start)
	r.Post("/{sessionID}/usage", h.RecordUsage)
	r.Post("/{sessionID}/end", h.End)
	r.Get("/{sessionID}", h.Get)

	return r
}

func toStartRequest(req startSessionRequest) (StartRequest, error) {
	a, err := toParticipant(req.ParticipantA)
	if err != nil {
		return StartRequest{}, err
	}
	b, err := toParticipant(req.ParticipantB)
	if err != nil {
		return StartRequest{}, err
	}
	initiatorID, err := uuid.Parse(req.InitiatorID)
	if err != nil {
		return StartRequest{}, err
	}
	return StartRequest{
		Type:        SessionType(req.SessionType),
		A:           a,
		B:           b,
		InitiatorID: initiatorID,
	}, nil
}

func toParticipant(dto participantDTO) (Participant, error) {
	id, err := uuid.Parse(dto.ID)
	if err != nil {
		return Participant{}, err
	}
	return Participant{
		ID:                 id,
		Category:           dto.Category,
		EarnerEligible:     dto.EarnerEligible,
		MonetizationActive: dto.MonetizationActive,
		Tier:               dto.Tier,
	}, nil
}
