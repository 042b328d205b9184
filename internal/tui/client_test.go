package tui

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/csvls/internal/controlplane"
	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/store"
)

type stubLinter struct{ ok bool }

func (s stubLinter) Reinstall(context.Context) bool { return s.ok }
func (s stubLinter) Available() bool                { return s.ok }
func (s stubLinter) Stats() map[string]interface{} {
	return map[string]interface{}{"validator_available": s.ok}
}

func newAPI(t *testing.T, linter controlplane.Linter) (*Client, *diagnostics.Store, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	diags := diagnostics.New()
	srv := controlplane.NewServer(controlplane.NewService(st, diags, linter), "127.0.0.1:0", "test", nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Bare host:port works too.
	return NewClient(ts.Listener.Addr().String()), diags, st
}

func TestClient_AgainstControlPlane(t *testing.T) {
	c, diags, st := newAPI(t, stubLinter{ok: true})

	health, err := c.Health()
	require.NoError(t, err)
	assert.True(t, health.OK)
	assert.Equal(t, "test", health.Version)

	diags.Set("file:///x.csv", []models.Diagnostic{{Line: 0, Message: "header", Severity: models.SeverityError}})

	docs, err := c.Diagnostics()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "header", docs[0].Diagnostics[0].Message)

	doc, err := c.Document("file:///x.csv")
	require.NoError(t, err)
	assert.Equal(t, "file:///x.csv", doc.URI)

	_, err = c.Document("file:///nope.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, st.RecordRun(context.Background(), &models.Run{
		URI: "file:///x.csv", Transport: models.TransportStdin, Outcome: models.RunOutcomeInvalid,
		StartedAt: now, EndedAt: now,
	}))
	runs, err := c.Runs("file:///x.csv", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunOutcomeInvalid, runs[0].Outcome)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, true, stats["validator_available"])

	assert.NoError(t, c.Reinstall())
}

func TestClient_ReinstallFailure(t *testing.T) {
	c, _, _ := newAPI(t, stubLinter{ok: false})
	assert.ErrorIs(t, c.Reinstall(), controlplane.ErrReinstallFailed)
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Diagnostics()
	assert.Error(t, err)
}

func TestLocal(t *testing.T) {
	diags := diagnostics.New()
	diags.Set("file:///a.csv", nil)
	src := NewLocal(controlplane.NewService(nil, diags, stubLinter{ok: true}))

	docs, err := src.Diagnostics()
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	// No history configured is not an error for the viewer.
	runs, err := src.Runs("file:///a.csv", 5)
	assert.NoError(t, err)
	assert.Empty(t, runs)

	assert.NoError(t, src.Reinstall())
}
