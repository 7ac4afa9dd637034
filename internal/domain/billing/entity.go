package billing

import (
	"time"

	"github.com/google/uuid"
)

// SessionType identifies the kind of paid interaction
type SessionType string

const (
	SessionTypeChat      SessionType = "CHAT"
	SessionTypeVoiceCall SessionType = "VOICE_CALL"
	SessionTypeVideoCall SessionType = "VIDEO_CALL"
)

// SessionState is the orchestrator state machine
type SessionState string

const (
	StateActive  SessionState = "ACTIVE"
	StateEnded   SessionState = "ENDED"
	StateAborted SessionState = "ABORTED"
)

// Participant is the caller-supplied view of a session member. The engine
// owns no user profiles; category, eligibility and tier come from the
// account service with the start request.
type Participant struct {
	ID                 uuid.UUID `json:"id"`
	Category           string    `json:"category"`
	EarnerEligible     bool      `json:"earner_eligible"`
	MonetizationActive bool      `json:"monetization_active"`
	Tier               string    `json:"tier"`
}

// activeEarner reports whether the participant can be credited for this session.
func (p Participant) activeEarner() bool {
	return p.EarnerEligible && p.MonetizationActive
}

// Session is one active paid interaction. Payer and earner are resolved once
// at creation and frozen for the session's lifetime; flag changes on either
// account are only picked up by the next session.
type Session struct {
	ID             string       `db:"id" json:"id"`
	Type           SessionType  `db:"session_type" json:"session_type"`
	ParticipantA   uuid.UUID    `db:"participant_a" json:"participant_a"`
	ParticipantB   uuid.UUID    `db:"participant_b" json:"participant_b"`
	InitiatorID    uuid.UUID    `db:"initiator_id" json:"initiator_id"`
	PayerID        uuid.UUID    `db:"payer_id" json:"payer_id"`
	EarnerID       *uuid.UUID   `db:"earner_id" json:"earner_id,omitempty"`
	PayerTier      string       `db:"payer_tier" json:"payer_tier"`
	UnitPriceMinor int64        `db:"unit_price_minor" json:"unit_price_minor"`
	BucketWords    int          `db:"bucket_words" json:"bucket_words"`
	EarnerShareBps int          `db:"earner_share_bps" json:"earner_share_bps"`
	UnitsAccrued   int64        `db:"units_accrued" json:"units_accrued"`
	UnitsBilled    int64        `db:"units_billed" json:"units_billed"`
	ElapsedSeconds int64        `db:"elapsed_seconds" json:"elapsed_seconds"`
	State          SessionState `db:"state" json:"state"`
	Version        int64        `db:"version" json:"version"`
	StartedAt      time.Time    `db:"started_at" json:"started_at"`
	LastActivityAt time.Time    `db:"last_activity_at" json:"last_activity_at"`
	EndedAt        *time.Time   `db:"ended_at" json:"ended_at,omitempty"`
}

func (s *Session) terminal() bool {
	return s.State == StateEnded || s.State == StateAborted
}

// dueUnits is how many accrued units have not been billed yet.
func (s *Session) dueUnits() int64 {
	return s.UnitsAccrued - s.UnitsBilled
}

// UsageDelta carries reported activity. Chat sessions send message text (or a
// pre-counted word total); calls send cumulative elapsed seconds, which makes
// heartbeat retries naturally idempotent.
type UsageDelta struct {
	Text           string `json:"text,omitempty"`
	Words          int64  `json:"words,omitempty"`
	ElapsedSeconds int64  `json:"elapsed_seconds,omitempty"`
}

// FinalSummary is returned when a session reaches a terminal state.
type FinalSummary struct {
	SessionID         string       `json:"session_id"`
	State             SessionState `json:"state"`
	UnitsBilled       int64        `json:"units_billed"`
	AmountBilledMinor int64        `json:"amount_billed_minor"`
	PayerID           uuid.UUID    `json:"payer_id"`
	EarnerID          *uuid.UUID   `json:"earner_id,omitempty"`
	EndedAt           time.Time    `json:"ended_at"`
}
