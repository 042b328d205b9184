// Package diagnostics holds the diagnostics currently published for each
// document. It is the single source of truth the host surfaces render from.
package diagnostics

import (
	"sort"
	"sync"

	"github.com/fentz26/csvls/internal/metrics"
	"github.com/fentz26/csvls/internal/models"
)

// Listener is called after every change with the document's new
// diagnostics. A nil slice means the document has no entry any more.
type Listener func(uri string, diags []models.Diagnostic)

// Store maps document URIs to their diagnostics. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]models.Diagnostic
	issued  map[string]uint64

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:   make(map[string][]models.Diagnostic),
		issued:    make(map[string]uint64),
		listeners: make(map[int]Listener),
	}
}

// Set replaces the diagnostics for uri.
func (s *Store) Set(uri string, diags []models.Diagnostic) {
	cp := clone(diags)
	s.mu.Lock()
	s.entries[uri] = cp
	s.updateGauge()
	s.mu.Unlock()
	s.notify(uri, clone(cp))
}

// Begin issues a new ticket for uri. Only the latest ticket may publish
// through SetIfCurrent.
func (s *Store) Begin(uri string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[uri]++
	return s.issued[uri]
}

// SetIfCurrent publishes diags only when seq is the latest ticket issued for
// uri. It reports whether the diagnostics were stored.
func (s *Store) SetIfCurrent(uri string, seq uint64, diags []models.Diagnostic) bool {
	cp := clone(diags)
	s.mu.Lock()
	if s.issued[uri] != seq {
		s.mu.Unlock()
		return false
	}
	s.entries[uri] = cp
	s.updateGauge()
	s.mu.Unlock()
	s.notify(uri, clone(cp))
	return true
}

// Delete removes the diagnostics for uri. Issued tickets stay valid.
func (s *Store) Delete(uri string) {
	s.mu.Lock()
	_, ok := s.entries[uri]
	delete(s.entries, uri)
	s.updateGauge()
	s.mu.Unlock()
	if ok {
		s.notify(uri, nil)
	}
}

// Forget removes the diagnostics for uri and invalidates any ticket in
// flight, so a run that finishes after the document closed is dropped.
func (s *Store) Forget(uri string) {
	s.mu.Lock()
	_, ok := s.entries[uri]
	delete(s.entries, uri)
	if _, tracked := s.issued[uri]; tracked {
		s.issued[uri]++
	}
	s.updateGauge()
	s.mu.Unlock()
	if ok {
		s.notify(uri, nil)
	}
}

// ClearAll removes the diagnostics for every document.
func (s *Store) ClearAll() {
	s.mu.Lock()
	uris := make([]string, 0, len(s.entries))
	for uri := range s.entries {
		uris = append(uris, uri)
	}
	s.entries = make(map[string][]models.Diagnostic)
	s.updateGauge()
	s.mu.Unlock()

	sort.Strings(uris)
	for _, uri := range uris {
		s.notify(uri, nil)
	}
}

// Get returns a copy of the diagnostics for uri and whether an entry exists.
func (s *Store) Get(uri string) ([]models.Diagnostic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	diags, ok := s.entries[uri]
	if !ok {
		return nil, false
	}
	return clone(diags), true
}

// Snapshot returns a copy of every entry.
func (s *Store) Snapshot() map[string][]models.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]models.Diagnostic, len(s.entries))
	for uri, diags := range s.entries {
		out[uri] = clone(diags)
	}
	return out
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) notify(uri string, diags []models.Diagnostic) {
	s.lmu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.RUnlock()

	for _, fn := range fns {
		fn(uri, diags)
	}
}

// updateGauge must be called with mu held.
func (s *Store) updateGauge() {
	n := 0
	for _, diags := range s.entries {
		if len(diags) > 0 {
			n++
		}
	}
	metrics.DocumentsWithDiagnostics.Set(float64(n))
}

func clone(diags []models.Diagnostic) []models.Diagnostic {
	out := make([]models.Diagnostic, len(diags))
	copy(out, diags)
	return out
}
