//go:build purpleair

package purpleair

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/observability"
)

// These tests hit the real PurpleAir API and require a valid PURPLEAIR_API_KEY
// env var plus PURPLEAIR_SENSOR (a public sensor index).
// Run with: go test -tags=purpleair ./internal/adapter/purpleair/ -v -count=1

func smokeClient(t *testing.T) (*Client, domain.Entity) {
	t.Helper()
	key := os.Getenv("PURPLEAIR_API_KEY")
	if key == "" {
		t.Fatal("PURPLEAIR_API_KEY must be set to run smoke tests")
	}
	sensor := os.Getenv("PURPLEAIR_SENSOR")
	if sensor == "" {
		t.Fatal("PURPLEAIR_SENSOR must be set to run smoke tests")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ent := domain.Entity{ID: sensor}
	c := &Client{
		apiKey:    key,
		entities:  []domain.Entity{ent},
		start:     time.Now().UTC().Add(-48 * time.Hour),
		requester: fetch.New(&http.Client{Timeout: 30 * time.Second}, time.Second, 5, logger, observability.NewMetricsForTesting()),
		baseURL:   defaultBaseURL,
		logger:    logger,
	}
	return c, ent
}

func TestSmoke_FetchWindow(t *testing.T) {
	c, ent := smokeClient(t)

	now := time.Now().UTC().Truncate(time.Hour)
	res, err := c.FetchWindow(context.Background(), ent, domain.Window{
		Start: now.Add(-24 * time.Hour),
		End:   now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Rows, "a live sensor should report within a day")

	for _, row := range res.Rows {
		assert.Equal(t, ent.ID, row.EntityID)
		assert.NotEmpty(t, row.Date)
		assert.NotEmpty(t, row.Time)
		assert.False(t, row.ObservedAt.IsZero())
	}
}
