package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/httpserver"
	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
)

type fakeSyncer struct {
	result domain.SyncResult
	err    error
	got    domain.SyncRequest
}

func (f *fakeSyncer) Sync(_ context.Context, req domain.SyncRequest) (domain.SyncResult, error) {
	f.got = req
	return f.result, f.err
}

func TestSyncHandler_RejectsMismatchedToken(t *testing.T) {
	srv := httpserver.NewServer(&fakeSyncer{}, "secret", "")
	req := httptest.NewRequest(http.MethodGet, "/sync?table=ventas&token=wrong", nil)
	rw := httptest.NewRecorder()
	srv.SyncHandler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusForbidden, rw.Code)
}

func TestSyncHandler_InvokesOrchestratorAndReportsSuccess(t *testing.T) {
	sync := &fakeSyncer{result: domain.SyncResult{Table: "ventas", RowsProcessed: 3, FactsWritten: 2}}
	srv := httpserver.NewServer(sync, "", "")
	req := httptest.NewRequest(http.MethodGet, "/sync?table=ventas&op=update&id=42", nil)
	rw := httptest.NewRecorder()
	srv.SyncHandler().ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	require.NotNil(t, sync.got.ID)
	assert.Equal(t, int64(42), *sync.got.ID)
	assert.Equal(t, "ventas", sync.got.Table)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["returncode"])
}

func TestSyncHandler_RejectsNonIntegerID(t *testing.T) {
	srv := httpserver.NewServer(&fakeSyncer{}, "", "")
	req := httptest.NewRequest(http.MethodGet, "/sync?table=ventas&id=abc", nil)
	rw := httptest.NewRecorder()
	srv.SyncHandler().ServeHTTP(rw, req)
	assert.NotEqual(t, http.StatusOK, rw.Code)
}

func TestSyncHandler_ReportsOrchestratorFailure(t *testing.T) {
	sync := &fakeSyncer{err: domain.ErrConflict}
	srv := httpserver.NewServer(sync, "", "")
	req := httptest.NewRequest(http.MethodGet, "/sync?table=ventas", nil)
	rw := httptest.NewRecorder()
	srv.SyncHandler().ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code, "spec: returncode carries failure, not HTTP status")
	var body map[string]any
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["returncode"])
	assert.NotEmpty(t, body["stderr"])
}

func TestWorkerStatusHandler_ClassifiesLiveness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"last_heartbeat":`+jsonNow()+`}`), 0o644))

	srv := httpserver.NewServer(&fakeSyncer{}, "", path)
	req := httptest.NewRequest(http.MethodGet, "/worker-status", nil)
	rw := httptest.NewRecorder()
	srv.WorkerStatusHandler().ServeHTTP(rw, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	assert.Equal(t, "up", body["status"])
}

func TestHealthHandler_Returns200(t *testing.T) {
	srv := httpserver.NewServer(&fakeSyncer{}, "", "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rw := httptest.NewRecorder()
	srv.HealthHandler().ServeHTTP(rw, req)
	assert.Equal(t, http.StatusOK, rw.Code)
}

func jsonNow() string {
	b, _ := json.Marshal(time.Now().Unix())
	return string(b)
}
