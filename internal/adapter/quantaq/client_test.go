package quantaq

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
		entities:  []domain.Entity{{ID: "MOD-00021", Lat: 42.36, Lon: -71.06}},
		start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		requester: fetch.New(&http.Client{Timeout: 5 * time.Second}, time.Millisecond, 2, logger, observability.NewMetricsForTesting()),
		baseURL:   baseURL,
		logger:    logger,
	}
}

func TestClient_FetchWindow_Success(t *testing.T) {
	win := domain.Window{
		Start: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/MOD-00021/data/resampled", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, testKey, user)
		assert.Empty(t, pass)
		assert.Equal(t, "2024-06-05 00:00:00", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-06-05 12:00:00", r.URL.Query().Get("end"))
		assert.Equal(t, "1h", r.URL.Query().Get("period"))

		_, _ = w.Write([]byte(`{
			"data": [
				{"timestamp": "2024-06-05T10:00:00", "pm1": 4.118, "pm25": 9.825, "pm10": 14.0, "rh": 52.31, "temp": 24.8},
				{"timestamp": "2024-06-05T11:00:00", "pm25": 10.2},
				{"timestamp": "2024-06-05T12:00:00", "pm25": 11.0}
			],
			"meta": {"page": 1, "pages": 1, "per_page": 1000}
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.FetchWindow(context.Background(), c.entities[0], win)
	require.NoError(t, err)
	require.Empty(t, res.Malformed)
	require.Len(t, res.Rows, 2, "the sample at the window end is excluded")

	first := res.Rows[0]
	assert.Equal(t, "MOD-00021", first.EntityID)
	assert.Equal(t, "06/05/2024", first.Date)
	assert.Equal(t, "06:00:00", first.Time)
	assert.Equal(t, 9.83, first.Metrics["pm2_5"])
	assert.Equal(t, 4.12, first.Metrics["pm1"])
	assert.Equal(t, 52.31, first.Metrics["humidity"])

	second := res.Rows[1]
	assert.Equal(t, map[string]float64{"pm2_5": 10.2}, second.Metrics, "absent metrics stay absent")
}

func TestClient_FetchWindow_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
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
	assert.Equal(t, http.StatusUnauthorized, upstreamErr.Status)
}

func TestNormalizeData_MalformedTimestampIsIsolated(t *testing.T) {
	win := domain.Window{
		Start: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC),
	}
	body := []byte(`{
		"data": [
			{"timestamp": "not-a-time", "pm25": 9.8},
			{"timestamp": "2024-06-05T10:00:00", "pm25": 9.8}
		]
	}`)

	res, err := NormalizeData(body, domain.Entity{ID: "MOD-00021"}, win)
	require.NoError(t, err)
	require.Len(t, res.Malformed, 1)
	assert.True(t, domain.IsMalformed(res.Malformed[0]))
	require.Len(t, res.Rows, 1)
}

func TestParseTimestamp_AcceptsOffsets(t *testing.T) {
	ts, err := parseTimestamp("2024-06-05T10:00:00-04:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC), ts)
}
