package ports

import (
	"context"
	"io"
	"time"

	"RegAlertScanner/internal/domain"
)

// AlertStore persists canonical alert records and answers the read
// queries the health evaluator and status endpoints need.
type AlertStore interface {
	GetByIdentity(ctx context.Context, source, externalID string) (*domain.AlertRecord, error)
	Upsert(ctx context.Context, record domain.AlertRecord) error
	LatestRecordTime(ctx context.Context, source string) (*time.Time, error)
	CountSince(ctx context.Context, source string, since time.Time) (int, error)
	CountBySource(ctx context.Context) (map[string]int, error)
	DuplicateHashCount(ctx context.Context, source string) (int, error)
}

// RunFilter narrows sync-run history queries.
type RunFilter struct {
	Search      string
	SourceScope string
	Status      domain.RunStatus
	TriggerType domain.TriggerType
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// SyncLogStore owns the SyncRun ledger: Start inserts a running row,
// Finish transitions it to a terminal state exactly once.
type SyncLogStore interface {
	Start(ctx context.Context, scope string, trigger domain.TriggerType, triggeredBy string, metadata map[string]any) (string, error)
	Finish(ctx context.Context, runID string, status domain.RunStatus, counts domain.RunCounts, errs, warnings []string) error
	Get(ctx context.Context, runID string) (domain.SyncRun, error)
	List(ctx context.Context, filter RunFilter) ([]domain.SyncRun, int, error)
	ExportCSV(ctx context.Context, filter RunFilter, w io.Writer) error
	LastSuccessfulSync(ctx context.Context) (*time.Time, error)
	RecentFailures(ctx context.Context, scope string, since time.Time) ([]domain.SyncRun, error)
	FailAbandoned(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunEventPublisher streams finished run summaries to downstream
// monitoring consumers.
type RunEventPublisher interface {
	PublishRunFinished(ctx context.Context, run domain.SyncRun) error
	Close() error
}

// Scheduler controls when scheduled syncs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
