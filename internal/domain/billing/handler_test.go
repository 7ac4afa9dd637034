package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amoria/billing-api/internal/middleware"
	"github.com/amoria/billing-api/internal/pkg/jwt"
)

func testRouter(svc *Service) http.Handler {
	noAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.RoleKey, jwt.RoleService)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	return NewHandler(svc).Routes(noAuth)
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func startBody(a, b Participant, initiator string, sessionType string) map[string]interface{} {
	return map[string]interface{}{
		"session_type": sessionType,
		"participant_a": map[string]interface{}{
			"id":                  a.ID.String(),
			"category":            a.Category,
			"earner_eligible":     a.EarnerEligible,
			"monetization_active": a.MonetizationActive,
			"tier":                a.Tier,
		},
		"participant_b": map[string]interface{}{
			"id":                  b.ID.String(),
			"category":            b.Category,
			"earner_eligible":     b.EarnerEligible,
			"monetization_active": b.MonetizationActive,
			"tier":                b.Tier,
		},
		"initiator_id": initiator,
	}
}

func TestStartEndpointLifecycle(t *testing.T) {
	ledger := newFakeLedger()
	svc := newTestService(newFakeStore(), ledger)
	router := testRouter(svc)

	payer := participant("male", false, false)
	earner := participant("female", true, true)
	ledger.balances[payer.ID] = 100

	rec := postJSON(t, router, "/", startBody(payer, earner, payer.ID.String(), "CHAT"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Success bool    `json:"success"`
		Data    Session `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if created.Data.PayerID != payer.ID {
		t.Fatalf("expected payer %s, got %s", payer.ID, created.Data.PayerID)
	}

	usage := postJSON(t, router, fmt.Sprintf("/%s/usage", created.Data.ID), map[string]interface{}{
		"text": "a dozen words should land in exactly one chat billing bucket here",
	})
	if usage.Code != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d: %s", usage.Code, usage.Body.String())
	}

	end := postJSON(t, router, fmt.Sprintf("/%s/end", created.Data.ID), map[string]interface{}{})
	if end.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", end.Code, end.Body.String())
	}

	again := postJSON(t, router, fmt.Sprintf("/%s/end", created.Data.ID), map[string]interface{}{})
	if again.Code != http.StatusConflict {
		t.Fatalf("double end: expected 409, got %d", again.Code)
	}
}

func TestStartEndpointInsufficientFunds(t *testing.T) {
	ledger := newFakeLedger()
	svc := newTestService(newFakeStore(), ledger)
	router := testRouter(svc)

	payer := participant("male", false, false)
	earner := participant("female", true, true)
	// Balance below one chat bucket.
	ledger.balances[payer.ID] = 1

	rec := postJSON(t, router, "/", startBody(payer, earner, payer.ID.String(), "CHAT"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUsageEndpointUnknownSession(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeLedger())
	router := testRouter(svc)

	rec := postJSON(t, router, "/does-not-exist/usage", map[string]interface{}{"words": 3})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartEndpointRejectsBadType(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeLedger())
	router := testRouter(svc)

	a := participant("other", false, false)
	b := participant("other", false, false)
	rec := postJSON(t, router, "/", startBody(a, b, a.ID.String(), "TELEGRAM"))
	if rec.Code != http.StatusUnprocessableEntity && rec.Code != http.StatusBadRequest {
		t.Fatalf("expected validation failure, got %d", rec.Code)
	}
}
