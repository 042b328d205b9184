// Package controlplane provides the HTTP API and service layer for a
// running csvls watcher.
package controlplane

import (
	"context"
	"sort"

	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/store"
)

// Linter is the slice of session.Linter the API exposes.
type Linter interface {
	Reinstall(ctx context.Context) bool
	Available() bool
	Stats() map[string]interface{}
}

// DocumentDiagnostics pairs a document with its diagnostics.
type DocumentDiagnostics struct {
	URI         string              `json:"uri"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// Service provides the control plane business logic.
type Service struct {
	store  *store.Store
	diags  *diagnostics.Store
	linter Linter
}

// NewService creates a new control plane service. st may be nil when run
// history is disabled.
func NewService(st *store.Store, diags *diagnostics.Store, linter Linter) *Service {
	return &Service{
		store:  st,
		diags:  diags,
		linter: linter,
	}
}

// Ping checks the history database.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return ErrNoHistory
	}
	return s.store.Ping(ctx)
}

// ValidatorAvailable reports whether a validator is installed.
func (s *Service) ValidatorAvailable() bool {
	return s.linter.Available()
}

// Diagnostics returns every document's diagnostics ordered by URI.
func (s *Service) Diagnostics() []DocumentDiagnostics {
	snap := s.diags.Snapshot()
	out := make([]DocumentDiagnostics, 0, len(snap))
	for uri, diags := range snap {
		out = append(out, DocumentDiagnostics{URI: uri, Diagnostics: diags})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// DocumentDiagnostics returns one document's diagnostics.
func (s *Service) DocumentDiagnostics(uri string) (*DocumentDiagnostics, error) {
	diags, ok := s.diags.Get(uri)
	if !ok {
		return nil, ErrNotFound
	}
	return &DocumentDiagnostics{URI: uri, Diagnostics: diags}, nil
}

// Runs returns recent validation runs, optionally for one document.
func (s *Service) Runs(ctx context.Context, uri string, limit int) ([]models.Run, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	return s.store.ListRuns(ctx, uri, limit)
}

// LastInstall returns the most recent successful install, if any.
func (s *Service) LastInstall(ctx context.Context) (*models.InstallRecord, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	return s.store.LastInstall(ctx)
}

// Reinstall downloads the validator again and relints open documents.
func (s *Service) Reinstall(ctx context.Context) error {
	if !s.linter.Reinstall(ctx) {
		return ErrReinstallFailed
	}
	return nil
}

// Stats returns linter statistics.
func (s *Service) Stats() map[string]interface{} {
	return s.linter.Stats()
}
