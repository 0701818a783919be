package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vantberg/frigoscope/internal/classify"
	"github.com/vantberg/frigoscope/internal/threshold"
)

// Schema is the SQL DDL for the history tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS threshold_history (
    id          BIGSERIAL PRIMARY KEY,
    stream      TEXT NOT NULL,
    value       DOUBLE PRECISION NOT NULL,
    breakdown   JSONB NOT NULL DEFAULT '{}',
    observed_db DOUBLE PRECISION NOT NULL DEFAULT 0,
    computed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threshold_history_stream ON threshold_history(stream, id DESC);

CREATE TABLE IF NOT EXISTS failure_history (
    id           BIGSERIAL PRIMARY KEY,
    stream       TEXT NOT NULL,
    failure_type TEXT NOT NULL,
    is_anomaly   BOOLEAN NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL,
    threshold    JSONB NOT NULL DEFAULT '{}',
    features     JSONB NOT NULL DEFAULT '{}',
    duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
    degraded     BOOLEAN NOT NULL DEFAULT FALSE,
    detected_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failure_history_stream ON failure_history(stream, id DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (threshold breakdown, feature snapshot) are serialised as
// JSONB so reports can be rebuilt without schema churn.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over the given connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate] before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the history tables and
// indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// SaveThreshold records one threshold computation for stream.
func (s *PostgresStore) SaveThreshold(ctx context.Context, stream string, e threshold.Entry) error {
	breakdown, err := json.Marshal(e.Breakdown)
	if err != nil {
		return fmt.Errorf("history: marshal breakdown: %w", err)
	}
	const query = `
		INSERT INTO threshold_history (stream, value, breakdown, observed_db, computed_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.Exec(ctx, query, stream, e.Value, breakdown, e.ObservedDB, e.ComputedAt); err != nil {
		return fmt.Errorf("history: save threshold: %w", err)
	}
	return nil
}

// SaveDetection records one detection result for stream.
func (s *PostgresStore) SaveDetection(ctx context.Context, stream string, r classify.Result) error {
	th, err := json.Marshal(r.Threshold)
	if err != nil {
		return fmt.Errorf("history: marshal threshold: %w", err)
	}
	features, err := json.Marshal(r.Features)
	if err != nil {
		return fmt.Errorf("history: marshal features: %w", err)
	}
	const query = `
		INSERT INTO failure_history
			(stream, failure_type, is_anomaly, confidence, threshold, features, duration_sec, degraded, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := s.db.Exec(ctx, query,
		stream, string(r.FailureType), r.IsAnomaly, r.Confidence,
		th, features, r.DurationSec, r.Degraded, r.Timestamp,
	); err != nil {
		return fmt.Errorf("history: save detection: %w", err)
	}
	return nil
}

// RecentThresholds returns up to limit entries for stream, newest first.
func (s *PostgresStore) RecentThresholds(ctx context.Context, stream string, limit int) ([]threshold.Entry, error) {
	const query = `
		SELECT value, breakdown, observed_db, computed_at
		FROM threshold_history
		WHERE stream = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := s.db.Query(ctx, query, stream, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent thresholds: %w", err)
	}
	defer rows.Close()

	var out []threshold.Entry
	for rows.Next() {
		var e threshold.Entry
		var breakdown []byte
		if err := rows.Scan(&e.Value, &breakdown, &e.ObservedDB, &e.ComputedAt); err != nil {
			return nil, fmt.Errorf("history: scan threshold: %w", err)
		}
		if err := json.Unmarshal(breakdown, &e.Breakdown); err != nil {
			return nil, fmt.Errorf("history: unmarshal breakdown: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentDetections returns up to limit results for stream, newest first.
func (s *PostgresStore) RecentDetections(ctx context.Context, stream string, limit int) ([]classify.Result, error) {
	const query = `
		SELECT failure_type, is_anomaly, confidence, threshold, features, duration_sec, degraded, detected_at
		FROM failure_history
		WHERE stream = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := s.db.Query(ctx, query, stream, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent detections: %w", err)
	}
	defer rows.Close()

	var out []classify.Result
	for rows.Next() {
		var r classify.Result
		var failureType string
		var th, features []byte
		if err := rows.Scan(&failureType, &r.IsAnomaly, &r.Confidence,
			&th, &features, &r.DurationSec, &r.Degraded, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("history: scan detection: %w", err)
		}
		r.FailureType = classify.FailureType(failureType)
		r.Stream = stream
		if err := json.Unmarshal(th, &r.Threshold); err != nil {
			return nil, fmt.Errorf("history: unmarshal threshold: %w", err)
		}
		if err := json.Unmarshal(features, &r.Features); err != nil {
			return nil, fmt.Errorf("history: unmarshal features: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune drops all but the newest keep rows per stream.
func (s *PostgresStore) Prune(ctx context.Context, keep int) error {
	const thresholdPrune = `
		DELETE FROM threshold_history t
		WHERE t.id NOT IN (
			SELECT id FROM threshold_history t2
			WHERE t2.stream = t.stream
			ORDER BY id DESC
			LIMIT $1
		)`
	const failurePrune = `
		DELETE FROM failure_history f
		WHERE f.id NOT IN (
			SELECT id FROM failure_history f2
			WHERE f2.stream = f.stream
			ORDER BY id DESC
			LIMIT $1
		)`
	if _, err := s.db.Exec(ctx, thresholdPrune, keep); err != nil {
		return fmt.Errorf("history: prune thresholds: %w", err)
	}
	if _, err := s.db.Exec(ctx, failurePrune, keep); err != nil {
		return fmt.Errorf("history: prune failures: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned and closed by the application.
func (s *PostgresStore) Close() error { return nil }
