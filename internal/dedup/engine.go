package dedup

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
)

// Action is the outcome of resolving a candidate against the store.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// ErrMalformed marks a candidate missing its identity fields. Such a
// candidate is skipped with a warning, never a run failure.
var ErrMalformed = errors.New("malformed candidate")

const lockShards = 64

// Engine computes content fingerprints and performs the atomic
// resolve-and-write step. A sharded lock keyed by (source, external_id)
// serializes in-process writers to the same identity; the store's
// conflict-target upsert keeps concurrent processes convergent on a
// single row.
type Engine struct {
	store ports.AlertStore
	locks [lockShards]sync.Mutex
	clock func() time.Time
}

// NewEngine wires the canonical store.
func NewEngine(store ports.AlertStore) *Engine {
	return &Engine{store: store, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Process resolves one candidate and applies the resulting write. The
// returned action is insert for a new identity, update when the stored
// hash differs, and skip when nothing changed or the candidate is
// malformed (the latter signalled via ErrMalformed).
func (e *Engine) Process(ctx context.Context, candidate domain.NormalizedCandidate) (Action, error) {
	if strings.TrimSpace(candidate.Source) == "" || strings.TrimSpace(candidate.ExternalID) == "" {
		return ActionSkip, fmt.Errorf("%w: source=%q external_id=%q", ErrMalformed, candidate.Source, candidate.ExternalID)
	}

	lock := e.lockFor(candidate.Source, candidate.ExternalID)
	lock.Lock()
	defer lock.Unlock()

	hash := ContentHash(candidate)

	existing, err := e.store.GetByIdentity(ctx, candidate.Source, candidate.ExternalID)
	if err != nil {
		return ActionSkip, fmt.Errorf("lookup %s/%s: %w", candidate.Source, candidate.ExternalID, err)
	}

	if existing != nil && existing.ContentHash == hash {
		return ActionSkip, nil
	}

	now := e.clock().UTC()
	record := domain.AlertRecord{
		Source:         candidate.Source,
		ExternalID:     candidate.ExternalID,
		Title:          candidate.Title,
		Summary:        candidate.Summary,
		PublishedAt:    candidate.PublishedAt,
		UpdatedAt:      candidate.UpdatedAt,
		SourceURL:      candidate.SourceURL,
		Classification: candidate.Classification,
		Urgency:        candidate.Urgency,
		RawPayload:     candidate.RawPayload,
		ContentHash:    hash,
		CreatedAt:      now,
		ModifiedAt:     now,
	}

	action := ActionInsert
	if existing != nil {
		action = ActionUpdate
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}

	if err := e.store.Upsert(ctx, record); err != nil {
		return ActionSkip, fmt.Errorf("upsert %s/%s: %w", candidate.Source, candidate.ExternalID, err)
	}

	return action, nil
}

func (e *Engine) lockFor(src, externalID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	return &e.locks[h.Sum32()%lockShards]
}
