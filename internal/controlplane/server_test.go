package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/store"
)

type fakeLinter struct {
	available bool
	reinstall bool
	calls     int
}

func (f *fakeLinter) Reinstall(context.Context) bool { f.calls++; return f.reinstall }
func (f *fakeLinter) Available() bool                { return f.available }
func (f *fakeLinter) Stats() map[string]interface{} {
	return map[string]interface{}{"open_documents": 2, "validator_available": f.available}
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if !health.Validator {
		t.Error("Expected validator to be reported available")
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	service := NewService(st, diagnostics.New(), &fakeLinter{})
	server := NewServer(service, "127.0.0.1:0", "test", nil)

	// Close the store to simulate DB error
	st.Close()

	w := httptest.NewRecorder()
	server.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.False(t, health.OK)
	assert.NotEqual(t, "ok", health.DB)
}

func TestHealthEndpoint_NoHistory(t *testing.T) {
	service := NewService(nil, diagnostics.New(), &fakeLinter{})
	server := NewServer(service, "127.0.0.1:0", "test", nil)

	w := httptest.NewRecorder()
	server.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.True(t, health.OK)
	assert.Equal(t, "disabled", health.DB)
	assert.False(t, health.Validator)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	s, _, diags := newTestServer(t)
	h := s.Handler()

	diags.Set("file:///b.csv", []models.Diagnostic{{Line: 2, Message: "bad", Severity: models.SeverityError, Source: "csvlinter"}})
	diags.Set("file:///a.csv", nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var all []DocumentDiagnostics
	require.NoError(t, json.NewDecoder(w.Body).Decode(&all))
	require.Len(t, all, 2)
	assert.Equal(t, "file:///a.csv", all[0].URI)
	assert.Empty(t, all[0].Diagnostics)
	assert.Equal(t, "file:///b.csv", all[1].URI)
	require.Len(t, all[1].Diagnostics, 1)
	assert.Equal(t, 2, all[1].Diagnostics[0].Line)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diagnostics?uri=file:///b.csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var one DocumentDiagnostics
	require.NoError(t, json.NewDecoder(w.Body).Decode(&one))
	assert.Equal(t, "bad", one.Diagnostics[0].Message)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diagnostics?uri=file:///missing.csv", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunsEndpoint(t *testing.T) {
	s, st, _ := newTestServer(t)
	h := s.Handler()
	ctx := context.Background()

	now := time.Now().UTC()
	for _, uri := range []string{"file:///a.csv", "file:///b.csv", "file:///a.csv"} {
		require.NoError(t, st.RecordRun(ctx, &models.Run{
			URI:       uri,
			Transport: models.TransportFile,
			Outcome:   models.RunOutcomeValid,
			StartedAt: now,
			EndedAt:   now,
		}))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?uri=file:///a.csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var runs []models.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	assert.Len(t, runs, 2)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	assert.Len(t, runs, 1)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReinstallEndpoint(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	linter := &fakeLinter{available: true, reinstall: true}
	h := NewServer(NewService(st, diagnostics.New(), linter), "127.0.0.1:0", "test", nil).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reinstall", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, 0, linter.calls)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reinstall", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var resp ReinstallResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Installed)
	assert.Equal(t, 1, linter.calls)

	linter.reinstall = false
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reinstall", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Installed)
}

func TestStatsAndMetricsEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	assert.EqualValues(t, 2, stats["open_documents"])

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "csvls_")
}

func newTestServer(t *testing.T) (*Server, *store.Store, *diagnostics.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	diags := diagnostics.New()
	service := NewService(st, diags, &fakeLinter{available: true})
	return NewServer(service, "127.0.0.1:0", "test", nil), st, diags
}
