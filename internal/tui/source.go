package tui

import (
	"context"
	"errors"

	"github.com/fentz26/csvls/internal/controlplane"
	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/models"
)

// Source feeds the viewer. Client reads a remote watcher; Local reads the
// in-process service.
type Source interface {
	Diagnostics() ([]controlplane.DocumentDiagnostics, error)
	Runs(uri string, limit int) ([]models.Run, error)
	Stats() (map[string]interface{}, error)
	Reinstall() error
}

// Local adapts a controlplane.Service to Source.
type Local struct {
	svc *controlplane.Service
}

// NewLocal creates a source over an in-process service.
func NewLocal(svc *controlplane.Service) *Local {
	return &Local{svc: svc}
}

func (l *Local) Diagnostics() ([]controlplane.DocumentDiagnostics, error) {
	return l.svc.Diagnostics(), nil
}

func (l *Local) Runs(uri string, limit int) ([]models.Run, error) {
	runs, err := l.svc.Runs(context.Background(), uri, limit)
	if errors.Is(err, controlplane.ErrNoHistory) {
		return nil, nil
	}
	return runs, err
}

func (l *Local) Stats() (map[string]interface{}, error) {
	return l.svc.Stats(), nil
}

func (l *Local) Reinstall() error {
	return l.svc.Reinstall(context.Background())
}

// Subscribe returns a channel that receives a value whenever diags changes.
// Bursts of changes coalesce into one pending signal.
func Subscribe(diags *diagnostics.Store) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	unsubscribe := diags.Subscribe(func(string, []models.Diagnostic) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, unsubscribe
}
