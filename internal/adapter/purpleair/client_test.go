package purpleair

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
	"github.com/tanagerlabs/airdata-ingest/internal/fetch"
	"github.com/tanagerlabs/airdata-ingest/internal/observability"
)

const testKey = "test-key"

func testClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Client{
		apiKey:    testKey,
		entities:  []domain.Entity{{ID: "12345", Lat: 40.71, Lon: -74.0}},
		start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		requester: fetch.New(&http.Client{Timeout: 5 * time.Second}, time.Millisecond, 2, logger, observability.NewMetricsForTesting()),
		baseURL:   baseURL,
		logger:    logger,
	}
}

func TestClient_FetchWindow_Success(t *testing.T) {
	win := domain.Window{
		Start: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sensors/12345/history", r.URL.Path)
		assert.Equal(t, testKey, r.Header.Get("X-API-Key"))
		assert.Equal(t, "1717545600", r.URL.Query().Get("start_timestamp"))
		assert.Equal(t, "1717632000", r.URL.Query().Get("end_timestamp"))
		assert.Equal(t, "60", r.URL.Query().Get("average"))
		assert.Contains(t, r.URL.Query().Get("fields"), "pm2.5_atm")

		// Samples arrive out of order and one sits past the window end.
		_, _ = w.Write([]byte(`{
			"sensor_index": 12345,
			"fields": ["time_stamp", "pm2.5_atm", "humidity"],
			"data": [
				[1717585200, 14.456, 48],
				[1717581600, 12.345, 51],
				[1717632000, 9.1, 50]
			]
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.FetchWindow(context.Background(), c.entities[0], win)
	require.NoError(t, err)
	require.Empty(t, res.Malformed)
	require.Len(t, res.Rows, 2, "the sample at the window end is excluded")

	first := res.Rows[0]
	assert.Equal(t, "12345", first.EntityID)
	assert.Equal(t, "06/05/2024", first.Date)
	assert.Equal(t, "06:00", first.Time, "10:00 UTC is 06:00 eastern daylight time")
	assert.Equal(t, 40.71, first.Lat)
	assert.Equal(t, -74.0, first.Lon)
	assert.Equal(t, 12.35, first.Metrics["pm2_5"], "values are rounded to two decimals")
	assert.Equal(t, 51.0, first.Metrics["humidity"])
	assert.Equal(t, time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC), first.ObservedAt)

	assert.True(t, res.Rows[0].ObservedAt.Before(res.Rows[1].ObservedAt), "rows are sorted by timestamp")
}

func TestClient_FetchWindow_ExhaustsRetriesOnRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchWindow(context.Background(), c.entities[0], domain.Window{
		Start: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExhaustedRetries)
}

func TestClient_FetchWindow_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"ApiKeyInvalidError"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.FetchWindow(context.Background(), c.entities[0], domain.Window{
		Start: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)

	var upstreamErr *domain.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusForbidden, upstreamErr.Status)
}

func TestNormalizeHistory_MalformedEntryIsIsolated(t *testing.T) {
	win := domain.Window{
		Start: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC),
	}
	body := []byte(`{
		"fields": ["time_stamp", "pm2.5_atm"],
		"data": [
			[1717581600],
			[1717581600, 12.3]
		]
	}`)

	res, err := NormalizeHistory(body, domain.Entity{ID: "12345"}, win)
	require.NoError(t, err)
	require.Len(t, res.Malformed, 1)
	assert.True(t, domain.IsMalformed(res.Malformed[0]))
	require.Len(t, res.Rows, 1)
}

func TestNormalizeHistory_MissingTimestampColumn(t *testing.T) {
	body := []byte(`{"fields": ["pm2.5_atm"], "data": [[12.3]]}`)

	_, err := NormalizeHistory(body, domain.Entity{ID: "12345"}, domain.Window{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time_stamp")
}
