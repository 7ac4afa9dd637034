package billing

import (
	"github.com/google/uuid"
)

// ResolverConfig is operator policy for role resolution.
type ResolverConfig struct {
	// AsymPayingCategory always pays when paired with AsymPairedCategory,
	// regardless of who initiated the session.
	AsymPayingCategory string
	AsymPairedCategory string

	// ReceiverEarnsOnTie controls the initiator-pays default when both
	// participants are earner-eligible: true credits the receiver, false
	// routes the whole charge to the platform.
	ReceiverEarnsOnTie bool
}

// Resolver determines who pays and who earns for a session. Deterministic
// and side-effect-free; called once per session, the result is frozen.
type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve applies the priority rules:
//  1. exactly one active earner: that side earns, the other pays
//  2. asymmetric category pair: the designated category pays, whoever initiated
//  3. initiator pays; the receiver earns if eligible, otherwise the platform
//
// A nil earner means the platform is the sole earner.
func (r *Resolver) Resolve(a, b Participant, initiatorID uuid.UUID) (payerID uuid.UUID, earnerID *uuid.UUID) {
	// Rule 1: earner override. Applies only when exactly one side qualifies;
	// both-eligible falls through to the rules below.
	if a.activeEarner() != b.activeEarner() {
		if a.activeEarner() {
			return b.ID, ptr(a.ID)
		}
		return a.ID, ptr(b.ID)
	}

	// Rule 2: asymmetric pairing. Outranks initiation but not rule 1.
	if r.asymPair(a, b) {
		payer, other := a, b
		if b.Category == r.cfg.AsymPayingCategory {
			payer, other = b, a
		}
		if other.activeEarner() {
			return payer.ID, ptr(other.ID)
		}
		return payer.ID, nil
	}

	// Rule 3: initiator pays.
	payer, receiver := a, b
	if b.ID == initiatorID {
		payer, receiver = b, a
	}
	switch {
	case receiver.activeEarner() && payer.activeEarner():
		if r.cfg.ReceiverEarnsOnTie {
			return payer.ID, ptr(receiver.ID)
		}
		return payer.ID, nil
	case receiver.activeEarner():
		return payer.ID, ptr(receiver.ID)
	default:
		return payer.ID, nil
	}
}

func (r *Resolver) asymPair(a, b Participant) bool {
	if r.cfg.AsymPayingCategory == "" || r.cfg.AsymPairedCategory == "" {
		return false
	}
	if r.cfg.AsymPayingCategory == r.cfg.AsymPairedCategory {
		return false
	}
	return (a.Category == r.cfg.AsymPayingCategory && b.Category == r.cfg.AsymPairedCategory) ||
		(b.Category == r.cfg.AsymPayingCategory && a.Category == r.cfg.AsymPairedCategory)
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}
