package domain

import "time"

// NormalizedCandidate is a record emitted by a source adapter before
// deduplication against the canonical store.
type NormalizedCandidate struct {
	Source         string
	ExternalID     string
	Title          string
	Summary        string
	PublishedAt    time.Time
	UpdatedAt      *time.Time
	SourceURL      string
	Classification string
	Urgency        string
	RawPayload     map[string]any
}

// AlertRecord is the canonical entity persisted after deduplication.
// (Source, ExternalID) is unique; ContentHash fingerprints the fields
// that define semantic identity and is recomputed on every candidate.
type AlertRecord struct {
	ID             int64
	Source         string
	ExternalID     string
	Title          string
	Summary        string
	PublishedAt    time.Time
	UpdatedAt      *time.Time
	SourceURL      string
	Classification string
	Urgency        string
	RawPayload     map[string]any
	ContentHash    string
	CreatedAt      time.Time
	ModifiedAt     time.Time
}
