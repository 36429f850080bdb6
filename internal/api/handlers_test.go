package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/workspace"
)

// mockLogs implements LogReader for testing.
type mockLogs struct {
	routinesFunc func(ctx context.Context) ([]string, error)
	fetchFunc    func(ctx context.Context, routine string) ([]logstore.Entry, error)
}

func (m *mockLogs) Routines(ctx context.Context) ([]string, error) {
	if m.routinesFunc == nil {
		return nil, nil
	}
	return m.routinesFunc(ctx)
}

func (m *mockLogs) Fetch(ctx context.Context, routine string) ([]logstore.Entry, error) {
	if m.fetchFunc == nil {
		return nil, nil
	}
	return m.fetchFunc(ctx, routine)
}

func newTestServer(progress workspace.Progress, logs LogReader) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Listen: "127.0.0.1:0"}, func() workspace.Progress { return progress }, logs, logger)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(workspace.Progress{}, &mockLogs{})
	rec := doRequest(t, s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStatus(t *testing.T) {
	progress := workspace.Progress{
		RunID:     "run-1",
		Running:   true,
		Selected:  10,
		Completed: 4,
		Failed:    1,
		TimedOut:  2,
	}
	s := newTestServer(progress, &mockLogs{})
	rec := doRequest(t, s, http.MethodGet, "/v1/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.True(t, resp.Running)
	assert.Equal(t, 10, resp.Selected)
	assert.Equal(t, 4, resp.Completed)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, 2, resp.TimedOut)
}

func TestListRoutines(t *testing.T) {
	logs := &mockLogs{
		routinesFunc: func(context.Context) ([]string, error) {
			return []string{"lai", "yield_error"}, nil
		},
	}
	s := newTestServer(workspace.Progress{}, logs)
	rec := doRequest(t, s, http.MethodGet, "/v1/logs")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RoutinesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"lai", "yield_error"}, resp.Routines)
}

func TestListRoutinesEmpty(t *testing.T) {
	s := newTestServer(workspace.Progress{}, &mockLogs{})
	rec := doRequest(t, s, http.MethodGet, "/v1/logs")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"routines":[]}`, rec.Body.String())
}

func TestGetRoutine(t *testing.T) {
	logs := &mockLogs{
		fetchFunc: func(_ context.Context, routine string) ([]logstore.Entry, error) {
			require.Equal(t, "yield_error", routine)
			return []logstore.Entry{
				{SiteID: "alpha", Metrics: logstore.Metrics{"error": 2.5}},
				{SiteID: "beta", Metrics: logstore.Metrics{"error": logstore.Missing()}},
			}, nil
		},
	}
	s := newTestServer(workspace.Progress{}, logs)
	rec := doRequest(t, s, http.MethodGet, "/v1/logs/yield_error")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp RoutineLogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "yield_error", resp.Routine)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, 2.5, resp.Entries[0].Metrics["error"])
	assert.True(t, logstore.IsMissing(resp.Entries[1].Metrics["error"]))

	// Missing values ride the wire as null.
	assert.Contains(t, rec.Body.String(), `"error":null`)
}

func TestGetRoutineNotFound(t *testing.T) {
	s := newTestServer(workspace.Progress{}, &mockLogs{})
	rec := doRequest(t, s, http.MethodGet, "/v1/logs/nope")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestGetRoutineStoreError(t *testing.T) {
	logs := &mockLogs{
		fetchFunc: func(context.Context, string) ([]logstore.Entry, error) {
			return nil, fmt.Errorf("database locked")
		},
	}
	s := newTestServer(workspace.Progress{}, logs)
	rec := doRequest(t, s, http.MethodGet, "/v1/logs/any")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
