package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"RegAlertScanner/internal/domain"
	"RegAlertScanner/internal/ports"
)

// PostgresAlertStore persists canonical alert records into Postgres.
// The alert_records table carries a unique constraint on
// (source, external_id); Upsert relies on it as the conflict target so
// concurrent writers converge on a single row.
type PostgresAlertStore struct {
	db *sql.DB
}

var _ ports.AlertStore = (*PostgresAlertStore)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgresAlertStore wires a sql.DB implementation.
func NewPostgresAlertStore(db *sql.DB) *PostgresAlertStore {
	return &PostgresAlertStore{db: db}
}

// GetByIdentity loads the record for (source, external_id), or nil when
// no such record exists.
func (s *PostgresAlertStore) GetByIdentity(ctx context.Context, src, externalID string) (*domain.AlertRecord, error) {
	query := `SELECT id, source, external_id, title, summary, published_at, updated_at,
	                 source_url, classification, urgency, raw_payload, content_hash,
	                 created_at, modified_at
	          FROM alert_records WHERE source = $1 AND external_id = $2`

	row := s.db.QueryRowContext(ctx, query, src, externalID)

	var (
		rec        domain.AlertRecord
		updatedAt  sql.NullTime
		sourceURL  sql.NullString
		rawPayload []byte
	)
	err := row.Scan(&rec.ID, &rec.Source, &rec.ExternalID, &rec.Title, &rec.Summary,
		&rec.PublishedAt, &updatedAt, &sourceURL, &rec.Classification, &rec.Urgency,
		&rawPayload, &rec.ContentHash, &rec.CreatedAt, &rec.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query alert by identity: %w", err)
	}

	if updatedAt.Valid {
		t := updatedAt.Time
		rec.UpdatedAt = &t
	}
	if sourceURL.Valid {
		rec.SourceURL = sourceURL.String
	}
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &rec.RawPayload); err != nil {
			return nil, fmt.Errorf("decode raw payload: %w", err)
		}
	}

	return &rec, nil
}

// Upsert inserts the record or overwrites its mutable fields when the
// identity already exists. created_at is never touched on conflict.
func (s *PostgresAlertStore) Upsert(ctx context.Context, rec domain.AlertRecord) error {
	rawPayload, err := json.Marshal(rec.RawPayload)
	if err != nil {
		return fmt.Errorf("encode raw payload: %w", err)
	}

	query := `INSERT INTO alert_records
	            (source, external_id, title, summary, published_at, updated_at,
	             source_url, classification, urgency, raw_payload, content_hash,
	             created_at, modified_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	          ON CONFLICT (source, external_id) DO UPDATE
	          SET title = EXCLUDED.title,
	              summary = EXCLUDED.summary,
	              published_at = EXCLUDED.published_at,
	              updated_at = EXCLUDED.updated_at,
	              source_url = EXCLUDED.source_url,
	              classification = EXCLUDED.classification,
	              urgency = EXCLUDED.urgency,
	              raw_payload = EXCLUDED.raw_payload,
	              content_hash = EXCLUDED.content_hash,
	              modified_at = EXCLUDED.modified_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.Source, rec.ExternalID, rec.Title, rec.Summary, rec.PublishedAt,
		nullTime(rec.UpdatedAt), nullString(rec.SourceURL), rec.Classification,
		rec.Urgency, rawPayload, rec.ContentHash, rec.CreatedAt, rec.ModifiedAt)
	if err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}

	return nil
}

// LatestRecordTime returns the most recent published timestamp for one
// source, or nil when the source has no records.
func (s *PostgresAlertStore) LatestRecordTime(ctx context.Context, src string) (*time.Time, error) {
	query := `SELECT MAX(published_at) FROM alert_records WHERE source = $1`

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, src).Scan(&latest); err != nil {
		return nil, fmt.Errorf("query latest record: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}

	t := latest.Time
	return &t, nil
}

// CountSince counts records for a source published at or after the cutoff.
func (s *PostgresAlertStore) CountSince(ctx context.Context, src string, since time.Time) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("alert_records").
		Where(sq.Eq{"source": src}).
		Where(sq.GtOrEq{"published_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count since: %w", err)
	}
	return count, nil
}

// CountBySource returns per-source record totals.
func (s *PostgresAlertStore) CountBySource(ctx context.Context) (map[string]int, error) {
	query := `SELECT source, COUNT(*) FROM alert_records GROUP BY source`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			src string
			n   int
		)
		if err := rows.Scan(&src, &n); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		counts[src] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return counts, nil
}

// DuplicateHashCount counts rows sharing a content hash with another row
// of the same source. A nonzero value means dedup missed something and
// is surfaced by the health evaluator as a consistency signal.
func (s *PostgresAlertStore) DuplicateHashCount(ctx context.Context, src string) (int, error) {
	query := `SELECT COALESCE(SUM(n) - COUNT(*), 0)
	          FROM (SELECT COUNT(*) AS n FROM alert_records
	                WHERE source = $1 GROUP BY content_hash HAVING COUNT(*) > 1) dup`

	var count int
	if err := s.db.QueryRowContext(ctx, query, src).Scan(&count); err != nil {
		return 0, fmt.Errorf("count duplicate hashes: %w", err)
	}
	return count, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
