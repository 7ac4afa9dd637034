package pricing

import (
	"encoding/json"
	"time"
)

// Tier represents a payer's subscription tier
type Tier string

const (
	TierFree    Tier = "free"
	TierPlus    Tier = "plus"
	TierPremium Tier = "premium"
)

// PriceBook holds every per-unit price for one tier, in minor token units.
// Rates are basis points so no float ever touches money math. Premium tiers
// get smaller chat buckets at a lower effective per-word price.
type PriceBook struct {
	ChatBucketWords      int   `json:"chat_bucket_words"`
	ChatBucketPriceMinor int64 `json:"chat_bucket_price_minor"`
	VoiceMinutePrice     int64 `json:"voice_minute_price_minor"`
	VideoMinutePrice     int64 `json:"video_minute_price_minor"`
	BookingFeeBps        int   `json:"booking_fee_bps"`
	EarnerShareBps       int   `json:"earner_share_bps"`
}

// Plan is one pricing table row. The price book is a JSONB column.
type Plan struct {
	ID        Tier      `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	PriceBookRaw []byte `db:"price_book" json:"-"`

	// Parsed struct — populated after scanning
	PriceBook PriceBook `db:"-" json:"price_book"`
}

// ParseJSONB parses the raw JSONB field into the typed struct. Must be called after DB scan.
func (p *Plan) ParseJSONB() {
	if len(p.PriceBookRaw) > 0 {
		_ = json.Unmarshal(p.PriceBookRaw, &p.PriceBook)
	}
}

// defaultPlans seeds the pricing table on first boot. Exact numbers are
// operator configuration; these are development defaults.
var defaultPlans = []Plan{
	{
		ID:       TierFree,
		Name:     "Free",
		IsActive: true,
		PriceBook: PriceBook{
			ChatBucketWords:      50,
			ChatBucketPriceMinor: 10,
			VoiceMinutePrice:     10,
			VideoMinutePrice:     20,
			BookingFeeBps:        2000,
			EarnerShareBps:       6000,
		},
	},
	{
		ID:       TierPlus,
		Name:     "Plus",
		IsActive: true,
		PriceBook: PriceBook{
			ChatBucketWords:      25,
			ChatBucketPriceMinor: 4,
			VoiceMinutePrice:     8,
			VideoMinutePrice:     16,
			BookingFeeBps:        1500,
			EarnerShareBps:       6500,
		},
	},
	{
		ID:       TierPremium,
		Name:     "Premium",
		IsActive: true,
		PriceBook: PriceBook{
			ChatBucketWords:      10,
			ChatBucketPriceMinor: 1,
			VoiceMinutePrice:     6,
			VideoMinutePrice:     12,
			BookingFeeBps:        1000,
			EarnerShareBps:       7000,
		},
	},
}
