package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
	"RegAlertScanner/internal/source"
)

// memAlertStore backs engine writes and health queries in tests.
type memAlertStore struct {
	mu      sync.Mutex
	records map[string]domain.AlertRecord

	latest    map[string]*time.Time
	dupCounts map[string]int
	history   map[string]int
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{
		records:   map[string]domain.AlertRecord{},
		latest:    map[string]*time.Time{},
		dupCounts: map[string]int{},
		history:   map[string]int{},
	}
}

func identityKey(src, externalID string) string {
	return src + "\x00" + externalID
}

func (m *memAlertStore) GetByIdentity(_ context.Context, src, externalID string) (*domain.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[identityKey(src, externalID)]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (m *memAlertStore) Upsert(_ context.Context, rec domain.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[identityKey(rec.Source, rec.ExternalID)] = rec
	return nil
}

func (m *memAlertStore) LatestRecordTime(_ context.Context, src string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.latest[src]; ok {
		return t, nil
	}
	var latest *time.Time
	for _, rec := range m.records {
		if rec.Source != src {
			continue
		}
		if latest == nil || rec.PublishedAt.After(*latest) {
			t := rec.PublishedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *memAlertStore) CountSince(_ context.Context, src string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.history[src]; ok {
		return n, nil
	}
	count := 0
	for _, rec := range m.records {
		if rec.Source == src && !rec.PublishedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memAlertStore) CountBySource(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, rec := range m.records {
		counts[rec.Source]++
	}
	return counts, nil
}

func (m *memAlertStore) DuplicateHashCount(_ context.Context, src string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dupCounts[src], nil
}

// memSyncLog records the full status history per run so tests can assert
// that exactly one terminal transition ever happens.
type memSyncLog struct {
	mu      sync.Mutex
	seq     int
	runs    map[string]*domain.SyncRun
	history map[string][]domain.RunStatus
}

func newMemSyncLog() *memSyncLog {
	return &memSyncLog{
		runs:    map[string]*domain.SyncRun{},
		history: map[string][]domain.RunStatus{},
	}
}

func (m *memSyncLog) Start(_ context.Context, scope string, trigger domain.TriggerType, triggeredBy string, metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("run-%d", m.seq)
	m.runs[id] = &domain.SyncRun{
		ID:          id,
		SourceScope: scope,
		Status:      domain.RunRunning,
		StartedAt:   time.Now().UTC(),
		TriggerType: trigger,
		TriggeredBy: triggeredBy,
		Metadata:    metadata,
	}
	m.history[id] = []domain.RunStatus{domain.RunRunning}
	return id, nil
}

func (m *memSyncLog) Finish(_ context.Context, runID string, status domain.RunStatus, counts domain.RunCounts, errs, warnings []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("sync run not found: %s", runID)
	}
	if run.Status != domain.RunRunning {
		return nil
	}
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.Counts = counts
	run.Errors = errs
	run.Warnings = warnings
	m.history[runID] = append(m.history[runID], status)
	return nil
}

func (m *memSyncLog) Get(_ context.Context, runID string) (domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		return *run, nil
	}
	return domain.SyncRun{}, fmt.Errorf("sync run not found: %s", runID)
}

func (m *memSyncLog) List(_ context.Context, filter ports.RunFilter) ([]domain.SyncRun, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []domain.SyncRun
	for _, run := range m.runs {
		if filter.From != nil && run.StartedAt.Before(*filter.From) {
			continue
		}
		runs = append(runs, *run)
	}
	return runs, len(runs), nil
}

func (m *memSyncLog) ExportCSV(context.Context, ports.RunFilter, io.Writer) error {
	return nil
}

func (m *memSyncLog) LastSuccessfulSync(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, run := range m.runs {
		if run.Status == domain.RunSuccess && run.FinishedAt != nil {
			if last == nil || run.FinishedAt.After(*last) {
				last = run.FinishedAt
			}
		}
	}
	return last, nil
}

func (m *memSyncLog) RecentFailures(_ context.Context, scope string, since time.Time) ([]domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []domain.SyncRun
	for _, run := range m.runs {
		if run.SourceScope != scope {
			continue
		}
		if run.Status != domain.RunFailure && run.Status != domain.RunPartial {
			continue
		}
		if run.StartedAt.Before(since) {
			continue
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (m *memSyncLog) FailAbandoned(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (m *memSyncLog) statusHistory(runID string) []domain.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RunStatus(nil), m.history[runID]...)
}

// stubAdapter returns canned candidates or a canned error.
type stubAdapter struct {
	name       string
	candidates []domain.NormalizedCandidate
	err        error
	errOnce    bool

	mu    sync.Mutex
	calls int
}

func (s *stubAdapter) Name() string {
	return s.name
}

func (s *stubAdapter) Fetch(_ context.Context, _ source.FetchRequest) ([]domain.NormalizedCandidate, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()

	if s.err != nil {
		if !s.errOnce || calls == 1 {
			return nil, s.err
		}
	}
	return s.candidates, nil
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
