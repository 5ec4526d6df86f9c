// Package postgres persists measurement rows and ingestion checkpoints.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

var measurementTables = map[string]string{
	domain.SourcePurpleAir: "measurements_purpleair",
	domain.SourceClarity:   "measurements_clarity",
	domain.SourceAirNow:    "measurements_airnow",
	domain.SourceQuantAQ:   "measurements_quantaq",
}

// Store wraps a pgx pool with the row and checkpoint operations the pipeline
// needs. All access is scoped per call; no transaction outlives a method.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against databaseURL, verifies connectivity, and
// applies the schema migrations.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, &domain.StorageError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &domain.StorageError{Op: "ping", Err: err}
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, table := range measurementTables {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(measurementTableSQL, table)); err != nil {
			return &domain.StorageError{Op: "migrate " + table, Err: err}
		}
	}
	if _, err := s.pool.Exec(ctx, checkpointTableSQL); err != nil {
		return &domain.StorageError{Op: "migrate checkpoints", Err: err}
	}
	return nil
}

func tableFor(source string) (string, error) {
	table, ok := measurementTables[source]
	if !ok {
		return "", &domain.StorageError{Op: "resolve table", Err: fmt.Errorf("unknown source %q", source)}
	}
	return table, nil
}

// WriteRows inserts rows into the source's measurement table inside one
// transaction, skipping rows whose dedup key already exists. The reported
// MaxPersisted is read back from the table for the batch's entities, so the
// caller advances checkpoints from what is actually durable, never from what
// was requested.
func (s *Store) WriteRows(ctx context.Context, source string, rows []domain.Row) (domain.WriteResult, error) {
	var res domain.WriteResult
	if len(rows) == 0 {
		return res, nil
	}

	table, err := tableFor(source)
	if err != nil {
		return res, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, &domain.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	insertSQL := fmt.Sprintf(`INSERT INTO %s (entity_id, obs_date, obs_time, lat, lon, metrics, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (entity_id, obs_date, obs_time) DO NOTHING`, table)

	batch := &pgx.Batch{}
	seen := make(map[string]bool, len(rows))
	entities := make([]string, 0, len(rows))
	for _, row := range rows {
		metrics, err := json.Marshal(row.Metrics)
		if err != nil {
			return res, &domain.StorageError{Op: "encode metrics", Err: err}
		}
		batch.Queue(insertSQL, row.EntityID, row.Date, row.Time, row.Lat, row.Lon, string(metrics), row.ObservedAt)
		if !seen[row.EntityID] {
			seen[row.EntityID] = true
			entities = append(entities, row.EntityID)
		}
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return domain.WriteResult{}, &domain.StorageError{Op: "insert rows", Err: err}
		}
		res.Inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return domain.WriteResult{}, &domain.StorageError{Op: "insert rows", Err: err}
	}

	maxSQL := fmt.Sprintf(`SELECT max(observed_at) FROM %s WHERE entity_id = ANY($1)`, table)
	var maxPersisted *time.Time
	if err := tx.QueryRow(ctx, maxSQL, entities).Scan(&maxPersisted); err != nil {
		return domain.WriteResult{}, &domain.StorageError{Op: "max persisted", Err: err}
	}
	if maxPersisted != nil {
		res.MaxPersisted = maxPersisted.UTC()
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.WriteResult{}, &domain.StorageError{Op: "commit", Err: err}
	}
	return res, nil
}

const loadCheckpointSQL = `SELECT last_confirmed FROM checkpoints WHERE source = $1 AND entity = $2`

// LoadCheckpoint returns the stored resume point for key, or fallback when
// none exists yet.
func (s *Store) LoadCheckpoint(ctx context.Context, key domain.CheckpointKey, fallback time.Time) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, loadCheckpointSQL, key.Source, key.Entity).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return time.Time{}, &domain.StorageError{Op: "load checkpoint", Err: err}
	}
	return ts.UTC(), nil
}

const advanceCheckpointSQL = `
INSERT INTO checkpoints (source, entity, last_confirmed, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (source, entity) DO UPDATE
SET last_confirmed = EXCLUDED.last_confirmed,
    updated_at = now()
WHERE checkpoints.last_confirmed < EXCLUDED.last_confirmed`

// AdvanceCheckpoint upserts the resume point for key, keeping it monotonic:
// a candidate at or below the stored value changes nothing and is not an
// error. It reports whether the stored value changed.
func (s *Store) AdvanceCheckpoint(ctx context.Context, key domain.CheckpointKey, candidate time.Time) (bool, error) {
	if candidate.IsZero() {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, advanceCheckpointSQL, key.Source, key.Entity, candidate)
	if err != nil {
		return false, &domain.StorageError{Op: "advance checkpoint", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

const listCheckpointsSQL = `SELECT source, entity, last_confirmed FROM checkpoints ORDER BY source, entity`

// ListCheckpoints returns every stored checkpoint, for the ops endpoint.
func (s *Store) ListCheckpoints(ctx context.Context) ([]domain.CheckpointStatus, error) {
	rows, err := s.pool.Query(ctx, listCheckpointsSQL)
	if err != nil {
		return nil, &domain.StorageError{Op: "list checkpoints", Err: err}
	}
	defer rows.Close()

	statuses := make([]domain.CheckpointStatus, 0)
	for rows.Next() {
		var st domain.CheckpointStatus
		if err := rows.Scan(&st.Source, &st.Entity, &st.LastConfirmed); err != nil {
			return nil, &domain.StorageError{Op: "list checkpoints", Err: err}
		}
		st.LastConfirmed = st.LastConfirmed.UTC()
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list checkpoints", Err: err}
	}
	return statuses, nil
}
