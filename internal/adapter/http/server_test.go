package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/tanagerlabs/airdata-ingest/internal/adapter/http"
	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockLister struct {
	statuses []domain.CheckpointStatus
	err      error
}

func (m *mockLister) ListCheckpoints(_ context.Context) ([]domain.CheckpointStatus, error) {
	return m.statuses, m.err
}

func newTestServer(readyErr error, lister *mockLister) *httpadapter.Server {
	if lister == nil {
		lister = &mockLister{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, lister, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("no ingestion cycle has completed yet"), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no ingestion cycle has completed yet", body["error"])
}

func TestCheckpointsEndpoint(t *testing.T) {
	lister := &mockLister{statuses: []domain.CheckpointStatus{
		{Source: "purpleair", Entity: "12345", LastConfirmed: time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)},
		{Source: "airnow", Entity: "", LastConfirmed: time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC)},
	}}
	srv := newTestServer(nil, lister)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/checkpoints", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Checkpoints []domain.CheckpointStatus `json:"checkpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Checkpoints, 2)
	assert.Equal(t, "purpleair", body.Checkpoints[0].Source)
	assert.Equal(t, "12345", body.Checkpoints[0].Entity)
}

func TestCheckpointsEndpointReturns500OnStorageFailure(t *testing.T) {
	lister := &mockLister{err: fmt.Errorf("connection refused")}
	srv := newTestServer(nil, lister)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/checkpoints", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
