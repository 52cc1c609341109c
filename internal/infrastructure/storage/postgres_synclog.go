package storage

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
)

// ErrRunNotFound signals a Finish call referencing a run id never
// produced by Start. That is an integration bug, not a recoverable
// condition, so callers must treat it as fatal.
var ErrRunNotFound = errors.New("sync run not found")

const defaultPageSize = 20

// PostgresSyncLogStore owns the sync_runs ledger. Start inserts a
// running row; Finish updates that single row to a terminal state.
type PostgresSyncLogStore struct {
	db *sql.DB
}

var _ ports.SyncLogStore = (*PostgresSyncLogStore)(nil)

// NewPostgresSyncLogStore wires a sql.DB implementation.
func NewPostgresSyncLogStore(db *sql.DB) *PostgresSyncLogStore {
	return &PostgresSyncLogStore{db: db}
}

// Start inserts a running row and returns its id.
func (s *PostgresSyncLogStore) Start(ctx context.Context, scope string, trigger domain.TriggerType, triggeredBy string, metadata map[string]any) (string, error) {
	id := uuid.NewString()

	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode run metadata: %w", err)
	}

	query := `INSERT INTO sync_runs
	            (id, source_scope, status, started_at, trigger_type, triggered_by, metadata)
	          VALUES ($1, $2, $3, NOW(), $4, $5, $6)`

	if _, err := s.db.ExecContext(ctx, query, id, scope, domain.RunRunning, trigger, triggeredBy, meta); err != nil {
		return "", fmt.Errorf("insert sync run: %w", err)
	}

	return id, nil
}

// Finish transitions a run to its terminal state. It only matches rows
// still in running state, so a repeated Finish on an already-terminal
// run is a no-op; a Finish for an id Start never produced returns
// ErrRunNotFound.
func (s *PostgresSyncLogStore) Finish(ctx context.Context, runID string, status domain.RunStatus, counts domain.RunCounts, errs, warnings []string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %q", status)
	}

	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}

	query := `UPDATE sync_runs
	          SET status = $2, finished_at = NOW(),
	              fetched_count = $3, inserted_count = $4, updated_count = $5, skipped_count = $6,
	              errors = $7, warnings = $8
	          WHERE id = $1 AND status = $9`

	res, err := s.db.ExecContext(ctx, query, runID, status,
		counts.Fetched, counts.Inserted, counts.Updated, counts.Skipped,
		pq.Array(errs), pq.Array(warnings), domain.RunRunning)
	if err != nil {
		return fmt.Errorf("finish sync run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM sync_runs WHERE id = $1`, runID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("check sync run: %w", err)
	}

	// Already terminal; idempotent finish.
	return nil
}

// Get loads a single run by id.
func (s *PostgresSyncLogStore) Get(ctx context.Context, runID string) (domain.SyncRun, error) {
	query := runSelect().Where(sq.Eq{"id": runID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return domain.SyncRun{}, fmt.Errorf("build get query: %w", err)
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.SyncRun{}, err
	}

	return run, nil
}

// List returns filtered, paginated run history plus the total row count
// for the filter.
func (s *PostgresSyncLogStore) List(ctx context.Context, filter ports.RunFilter) ([]domain.SyncRun, int, error) {
	where := filterConditions(filter)

	countQuery := psql.Select("COUNT(*)").From("sync_runs")
	for _, cond := range where {
		countQuery = countQuery.Where(cond)
	}

	sqlStr, args, err := countQuery.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sync runs: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := runSelect().
		OrderBy("started_at DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize))
	for _, cond := range where {
		query = query.Where(cond)
	}

	sqlStr, args, err = query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	return runs, total, nil
}

// ExportCSV streams the filtered history (unpaginated) as a flat table.
func (s *PostgresSyncLogStore) ExportCSV(ctx context.Context, filter ports.RunFilter, w io.Writer) error {
	filter.Page = 1
	filter.PageSize = 10000

	runs, _, err := s.List(ctx, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "source_scope", "status", "started_at", "finished_at",
		"fetched", "inserted", "updated", "skipped", "trigger_type", "triggered_by",
		"errors", "warnings"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, run := range runs {
		finished := ""
		if run.FinishedAt != nil {
			finished = run.FinishedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			run.ID,
			run.SourceScope,
			string(run.Status),
			run.StartedAt.UTC().Format(time.RFC3339),
			finished,
			strconv.Itoa(run.Counts.Fetched),
			strconv.Itoa(run.Counts.Inserted),
			strconv.Itoa(run.Counts.Updated),
			strconv.Itoa(run.Counts.Skipped),
			string(run.TriggerType),
			run.TriggeredBy,
			strings.Join(run.Errors, "; "),
			strings.Join(run.Warnings, "; "),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// LastSuccessfulSync returns the finish time of the newest successful run.
func (s *PostgresSyncLogStore) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	query := `SELECT MAX(finished_at) FROM sync_runs WHERE status = $1`

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, domain.RunSuccess).Scan(&last); err != nil {
		return nil, fmt.Errorf("query last successful sync: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}

	t := last.Time
	return &t, nil
}

// RecentFailures returns failed or partial runs for a scope since the
// cutoff, newest first.
func (s *PostgresSyncLogStore) RecentFailures(ctx context.Context, scope string, since time.Time) ([]domain.SyncRun, error) {
	query := runSelect().
		Where(sq.Eq{"source_scope": scope}).
		Where(sq.Eq{"status": []domain.RunStatus{domain.RunFailure, domain.RunPartial}}).
		Where(sq.GtOrEq{"started_at": since}).
		OrderBy("started_at DESC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build failures query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent failures: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return runs, nil
}

// FailAbandoned marks running rows older than the cutoff as failed.
// Crash reconciliation: a run left running past a generous timeout will
// never finish on its own, so it is closed with an explanatory error.
func (s *PostgresSyncLogStore) FailAbandoned(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE sync_runs
	          SET status = $1, finished_at = NOW(),
	              errors = array_append(errors, 'run abandoned: no terminal status recorded')
	          WHERE status = $2 AND started_at < NOW() - $3::interval`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	res, err := s.db.ExecContext(ctx, query, domain.RunFailure, domain.RunRunning, interval)
	if err != nil {
		return 0, fmt.Errorf("fail abandoned runs: %w", err)
	}

	return res.RowsAffected()
}

func runSelect() sq.SelectBuilder {
	return psql.Select(
		"id", "source_scope", "status", "started_at", "finished_at",
		"fetched_count", "inserted_count", "updated_count", "skipped_count",
		"errors", "warnings", "trigger_type", "triggered_by", "metadata",
	).From("sync_runs")
}

func filterConditions(filter ports.RunFilter) []sq.Sqlizer {
	var conds []sq.Sqlizer
	if filter.SourceScope != "" {
		conds = append(conds, sq.Eq{"source_scope": filter.SourceScope})
	}
	if filter.Status != "" {
		conds = append(conds, sq.Eq{"status": filter.Status})
	}
	if filter.TriggerType != "" {
		conds = append(conds, sq.Eq{"trigger_type": filter.TriggerType})
	}
	if filter.From != nil {
		conds = append(conds, sq.GtOrEq{"started_at": *filter.From})
	}
	if filter.To != nil {
		conds = append(conds, sq.LtOrEq{"started_at": *filter.To})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		conds = append(conds, sq.Or{
			sq.ILike{"source_scope": pattern},
			sq.ILike{"triggered_by": pattern},
			sq.Expr("array_to_string(errors, ' ') ILIKE ?", pattern),
		})
	}
	return conds
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.SyncRun, error) {
	var (
		run         domain.SyncRun
		finishedAt  sql.NullTime
		triggeredBy sql.NullString
		errs        pq.StringArray
		warnings    pq.StringArray
		meta        []byte
	)

	err := row.Scan(&run.ID, &run.SourceScope, &run.Status, &run.StartedAt, &finishedAt,
		&run.Counts.Fetched, &run.Counts.Inserted, &run.Counts.Updated, &run.Counts.Skipped,
		&errs, &warnings, &run.TriggerType, &triggeredBy, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncRun{}, err
		}
		return domain.SyncRun{}, fmt.Errorf("scan sync run: %w", err)
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if triggeredBy.Valid {
		run.TriggeredBy = triggeredBy.String
	}
	run.Errors = []string(errs)
	run.Warnings = []string(warnings)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &run.Metadata); err != nil {
			return domain.SyncRun{}, fmt.Errorf("decode run metadata: %w", err)
		}
	}

	return run, nil
}
