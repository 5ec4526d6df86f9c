//go:build integration

package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tanagerlabs/airdata-ingest/internal/adapter/postgres"
	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// startPostgres runs a disposable PostgreSQL container and returns its
// connection string.
func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("airdata"),
		tcpostgres.WithUsername("air"),
		tcpostgres.WithPassword("air"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start postgres container")

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "postgres connection string")
	return connStr
}

func connectStore(ctx context.Context, t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.Connect(ctx, startPostgres(ctx, t))
	require.NoError(t, err, "connect store")
	t.Cleanup(store.Close)
	return store
}

func measurementRow(entity string, observed time.Time, pm float64) domain.Row {
	return domain.Row{
		EntityID:   entity,
		Date:       domain.LocalDate(observed),
		Time:       domain.LocalHourMinute(observed),
		Lat:        40.71,
		Lon:        -74.01,
		Metrics:    map[string]float64{"pm2_5": pm},
		ObservedAt: observed,
	}
}

// TestStoreWriteRowsDedup verifies that replayed rows are skipped on conflict
// and that every write reports the durable maximum observation time.
func TestStoreWriteRowsDedup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := connectStore(ctx, t)

	first := time.Date(2024, time.June, 5, 9, 0, 0, 0, time.UTC)
	second := time.Date(2024, time.June, 5, 10, 0, 0, 0, time.UTC)
	batch := []domain.Row{
		measurementRow("5", first, 8.12),
		measurementRow("5", second, 9.44),
	}

	res, err := store.WriteRows(ctx, domain.SourcePurpleAir, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, second, res.MaxPersisted)

	// Replaying the identical batch inserts nothing.
	res, err = store.WriteRows(ctx, domain.SourcePurpleAir, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, second, res.MaxPersisted)

	// A partially overlapping batch only inserts the new row.
	third := time.Date(2024, time.June, 5, 11, 0, 0, 0, time.UTC)
	res, err = store.WriteRows(ctx, domain.SourcePurpleAir, []domain.Row{
		measurementRow("5", second, 9.44),
		measurementRow("5", third, 7.31),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, third, res.MaxPersisted)
}

// TestStoreMaxPersistedIsDurableMaximum verifies MaxPersisted reflects what
// the table holds for the batch's entities, not what the batch requested.
func TestStoreMaxPersistedIsDurableMaximum(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := connectStore(ctx, t)

	early := time.Date(2024, time.June, 5, 9, 0, 0, 0, time.UTC)
	late := time.Date(2024, time.June, 5, 10, 0, 0, 0, time.UTC)

	res, err := store.WriteRows(ctx, domain.SourceQuantAQ, []domain.Row{measurementRow("MOD-00123", late, 9.44)})
	require.NoError(t, err)
	assert.Equal(t, late, res.MaxPersisted)

	// Backfilling an earlier row still reports the later durable maximum.
	res, err = store.WriteRows(ctx, domain.SourceQuantAQ, []domain.Row{measurementRow("MOD-00123", early, 8.12)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, late, res.MaxPersisted)

	// Another entity's maximum is its own.
	res, err = store.WriteRows(ctx, domain.SourceQuantAQ, []domain.Row{measurementRow("MOD-00456", early, 6.07)})
	require.NoError(t, err)
	assert.Equal(t, early, res.MaxPersisted)
}

// TestStoreSourcesAreIsolated verifies each source writes to its own table,
// so equal dedup keys in different sources never collide.
func TestStoreSourcesAreIsolated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := connectStore(ctx, t)

	observed := time.Date(2024, time.June, 5, 10, 0, 0, 0, time.UTC)
	row := measurementRow("shared-id", observed, 9.44)

	res, err := store.WriteRows(ctx, domain.SourcePurpleAir, []domain.Row{row})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	res, err = store.WriteRows(ctx, domain.SourceClarity, []domain.Row{row})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestStoreWriteRowsEmptyBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := connectStore(ctx, t)

	res, err := store.WriteRows(ctx, domain.SourcePurpleAir, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.True(t, res.MaxPersisted.IsZero())
}

// TestStoreCheckpointLifecycle walks a checkpoint from absent through several
// advancement attempts, verifying it only ever moves forward.
func TestStoreCheckpointLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := connectStore(ctx, t)

	key := domain.CheckpointKey{Source: domain.SourcePurpleAir, Entity: "5"}
	fallback := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

	got, err := store.LoadCheckpoint(ctx, key, fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got, "absent checkpoint falls back")

	confirmed := time.Date(2024, time.June, 5, 10, 0, 0, 0, time.UTC)
	advanced, err := store.AdvanceCheckpoint(ctx, key, confirmed)
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err = store.LoadCheckpoint(ctx, key, fallback)
	require.NoError(t, err)
	assert.Equal(t, confirmed, got)

	// Earlier and equal candidates never move it back.
	advanced, err = store.AdvanceCheckpoint(ctx, key, confirmed.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, advanced)

	advanced, err = store.AdvanceCheckpoint(ctx, key, confirmed)
	require.NoError(t, err)
	assert.False(t, advanced)

	got, err = store.LoadCheckpoint(ctx, key, fallback)
	require.NoError(t, err)
	assert.Equal(t, confirmed, got)

	// Zero candidates are ignored.
	advanced, err = store.AdvanceCheckpoint(ctx, key, time.Time{})
	require.NoError(t, err)
	assert.False(t, advanced)

	later := confirmed.Add(24 * time.Hour)
	advanced, err = store.AdvanceCheckpoint(ctx, key, later)
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err = store.LoadCheckpoint(ctx, key, fallback)
	require.NoError(t, err)
	assert.Equal(t, later, got)
}

// TestStoreSourceWideCheckpoint verifies the empty-entity key used by sources
// whose feeds are fetched once for all sites.
func TestStoreSourceWideCheckpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := connectStore(ctx, t)

	key := domain.CheckpointKey{Source: domain.SourceAirNow}
	confirmed := time.Date(2024, time.June, 5, 14, 0, 0, 0, time.UTC)

	advanced, err := store.AdvanceCheckpoint(ctx, key, confirmed)
	require.NoError(t, err)
	assert.True(t, advanced)

	got, err := store.LoadCheckpoint(ctx, key, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, confirmed, got)

	statuses, err := store.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.SourceAirNow, statuses[0].Source)
	assert.Empty(t, statuses[0].Entity)
	assert.Equal(t, confirmed, statuses[0].LastConfirmed)
}
