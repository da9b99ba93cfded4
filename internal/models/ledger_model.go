package models

import "time"

// LedgerAccount carries the derived balance for one owner. Remaining is
// always granted minus consumed; the row is lazily created on first query.
type LedgerAccount struct {
	ID             int64     `db:"id" json:"id"`
	OwnerID        int64     `db:"owner_id" json:"owner_id"`
	CreditsGranted float64   `db:"credits_granted" json:"credits_granted"`
	CreditsUsed    float64   `db:"credits_used" json:"credits_used"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (a *LedgerAccount) Remaining() float64 {
	return a.CreditsGranted - a.CreditsUsed
}

// Service categories for billable operations.
const (
	ServiceTextGeneration  = "text-generation"
	ServiceImageGeneration = "image-generation"
	ServiceChat            = "chat"
	ServiceAdCopy          = "ad-copy-generation"
	ServiceVideoGeneration = "video-generation"
	ServiceVideoDubbing    = "video-dubbing"
)

// UsageEvent is one append-only billing record. Credits are computed once at
// insertion; the only second write for the same work is the explicitly
// labeled "actual" reconciliation event for dubbing.
type UsageEvent struct {
	ID             int64             `db:"id" json:"id"`
	OwnerID        int64             `db:"owner_id" json:"owner_id"`
	Service        string            `db:"service" json:"service"`
	InputUnits     int64             `db:"input_units" json:"input_units"`
	OutputUnits    int64             `db:"output_units" json:"output_units"`
	DurationSecs   float64           `db:"duration_secs" json:"duration_secs"`
	WithAudio      bool              `db:"with_audio" json:"with_audio"`
	CreditsCharged float64           `db:"credits_charged" json:"credits_charged"`
	Metadata       map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}
