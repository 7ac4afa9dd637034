package billing

import (
	"testing"

	"github.com/google/uuid"
)

func testResolver(receiverEarnsOnTie bool) *Resolver {
	return NewResolver(ResolverConfig{
		AsymPayingCategory: "male",
		AsymPairedCategory: "female",
		ReceiverEarnsOnTie: receiverEarnsOnTie,
	})
}

func participant(category string, eligible, active bool) Participant {
	return Participant{
		ID:                 uuid.New(),
		Category:           category,
		EarnerEligible:     eligible,
		MonetizationActive: active,
		Tier:               "free",
	}
}

func TestResolveSingleActiveEarnerWins(t *testing.T) {
	r := testResolver(true)

	// The earner side initiated; the earner override still outranks
	// initiator-pays and the category pairing.
	earner := participant("female", true, true)
	other := participant("male", false, false)

	payerID, earnerID := r.Resolve(earner, other, earner.ID)
	if payerID != other.ID {
		t.Fatalf("expected non-earner %s to pay, got %s", other.ID, payerID)
	}
	if earnerID == nil || *earnerID != earner.ID {
		t.Fatalf("expected earner %s to be credited, got %v", earner.ID, earnerID)
	}
}

func TestResolveEligibleButInactiveIsNotAnEarner(t *testing.T) {
	r := testResolver(true)

	// Eligibility without an active monetization toggle does not earn.
	paused := participant("other", true, false)
	initiator := participant("other", false, false)

	payerID, earnerID := r.Resolve(paused, initiator, initiator.ID)
	if payerID != initiator.ID {
		t.Fatalf("expected initiator to pay, got %s", payerID)
	}
	if earnerID != nil {
		t.Fatalf("expected platform to earn, got %v", *earnerID)
	}
}

func TestResolveAsymmetricPairOverridesInitiator(t *testing.T) {
	r := testResolver(true)

	payer := participant("male", false, false)
	paired := participant("female", false, false)

	// The paired side initiated; the designated category still pays.
	payerID, earnerID := r.Resolve(payer, paired, paired.ID)
	if payerID != payer.ID {
		t.Fatalf("expected designated category to pay, got %s", payerID)
	}
	if earnerID != nil {
		t.Fatalf("paired side is not an active earner; expected platform, got %v", *earnerID)
	}

	// Same pair with an earning counterpart credits that side.
	earning := participant("female", true, true)
	payerID, earnerID = r.Resolve(payer, earning, payer.ID)
	if payerID != payer.ID || earnerID == nil || *earnerID != earning.ID {
		t.Fatalf("expected payer %s / earner %s, got %s / %v", payer.ID, earning.ID, payerID, earnerID)
	}
}

func TestResolveInitiatorPaysBothEligible(t *testing.T) {
	a := participant("other", true, true)
	b := participant("other", true, true)

	payerID, earnerID := testResolver(true).Resolve(a, b, a.ID)
	if payerID != a.ID {
		t.Fatalf("expected initiator to pay, got %s", payerID)
	}
	if earnerID == nil || *earnerID != b.ID {
		t.Fatalf("expected receiver to earn on tie, got %v", earnerID)
	}

	payerID, earnerID = testResolver(false).Resolve(a, b, a.ID)
	if payerID != a.ID {
		t.Fatalf("expected initiator to pay, got %s", payerID)
	}
	if earnerID != nil {
		t.Fatalf("tie policy off: expected platform to earn, got %v", *earnerID)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := testResolver(true)
	a := participant("male", false, false)
	b := participant("female", true, true)

	p1, e1 := r.Resolve(a, b, a.ID)
	for i := 0; i < 10; i++ {
		p2, e2 := r.Resolve(a, b, a.ID)
		if p1 != p2 || (e1 == nil) != (e2 == nil) || (e1 != nil && *e1 != *e2) {
			t.Fatal("resolution is not deterministic")
		}
		// Argument order must not matter either.
		p3, e3 := r.Resolve(b, a, a.ID)
		if p1 != p3 || (e1 == nil) != (e3 == nil) || (e1 != nil && *e1 != *e3) {
			t.Fatal("resolution depends on argument order")
		}
	}
}
