// Package session drives validation for the documents a host has open.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fentz26/csvls/internal/debounce"
	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/install"
	"github.com/fentz26/csvls/internal/lint"
	"github.com/fentz26/csvls/internal/metrics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/notify"
	"github.com/fentz26/csvls/internal/uri"
)

var (
	// ErrUnavailable is returned while no validator is installed.
	ErrUnavailable = errors.New("validator unavailable")
	// ErrNotCSV is returned for documents the linter does not handle.
	ErrNotCSV = errors.New("not a CSV document")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("linter stopped")
)

// Provisioner supplies the validator executable.
type Provisioner interface {
	EnsureInstalled(ctx context.Context) *install.Tool
	ForceReinstall(ctx context.Context) *install.Tool
}

// Runner executes one validation.
type Runner interface {
	Run(ctx context.Context, req lint.Request) (lint.Outcome, error)
}

// RunRecorder persists run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.Run) error
}

// Document is a host document. Text is nil when the validator should read
// the file from disk.
type Document struct {
	URI        string
	LanguageID string
	Text       *string
}

// Config tunes a Linter.
type Config struct {
	Debounce      time.Duration
	MaxConcurrent int
	// IsCSV filters documents. Nil accepts .csv files only.
	IsCSV func(languageID, path string) bool
}

// Linter turns document events into validator runs and publishes the
// results to a diagnostics store.
type Linter struct {
	prov     Provisioner
	runner   Runner
	diags    *diagnostics.Store
	timers   *debounce.Registry
	sem      *semaphore.Weighted
	cfg      Config
	notifier notify.Notifier
	recorder RunRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	tool    *install.Tool
	docs    map[string]Document
	active  int
	stopped bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Linter.
type Option func(*Linter)

// WithNotifier sets where run failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Linter) { l.notifier = n }
}

// WithRecorder persists every run.
func WithRecorder(r RunRecorder) Option {
	return func(l *Linter) { l.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a linter. Call Start before sending events.
func New(prov Provisioner, runner Runner, diags *diagnostics.Store, cfg Config, opts ...Option) *Linter {
	if cfg.Debounce <= 0 {
		cfg.Debounce = debounce.DefaultDelay
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.IsCSV == nil {
		cfg.IsCSV = func(_, path string) bool { return filepath.Ext(path) == ".csv" }
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Linter{
		prov:   prov,
		runner: runner,
		diags:  diags,
		timers: debounce.New(),
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:    cfg,
		logger: slog.Default(),
		docs:   make(map[string]Document),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.notifier == nil {
		l.notifier = notify.Log{Logger: l.logger}
	}
	return l
}

// Start provisions the validator. It reports whether one is available; the
// linter keeps running without one and skips runs until Reinstall succeeds.
// Documents opened while provisioning was in progress are validated once
// the validator is in place.
func (l *Linter) Start(ctx context.Context) bool {
	tool := l.prov.EnsureInstalled(ctx)
	docs := l.adopt(tool)
	l.logger.Info("linter started",
		slog.Bool("validator_available", tool != nil),
		slog.Int("open_documents", len(docs)))
	if tool == nil {
		return false
	}
	for _, d := range docs {
		l.dispatch(d)
	}
	return true
}

// Stop cancels pending timers and waits for in-flight runs. Nothing is
// dispatched afterwards.
func (l *Linter) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.cancel()
	l.timers.CancelAll()
	l.wg.Wait()
	l.logger.Info("linter stopped")
}

// Available reports whether a validator is installed.
func (l *Linter) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tool != nil
}

// Reinstall replaces the validator and relints every open document.
func (l *Linter) Reinstall(ctx context.Context) bool {
	tool := l.prov.ForceReinstall(ctx)
	docs := l.adopt(tool)
	if tool == nil {
		return false
	}
	for _, d := range docs {
		l.dispatch(d)
	}
	return true
}

// HandleOpen validates a newly opened document.
func (l *Linter) HandleOpen(doc Document) {
	if !l.track(doc) {
		return
	}
	l.dispatch(doc)
}

// HandleSave validates a saved document.
func (l *Linter) HandleSave(doc Document) {
	if !l.track(doc) {
		return
	}
	l.dispatch(doc)
}

// HandleFocus validates the document that became active. Text from an
// earlier event is reused when doc carries none.
func (l *Linter) HandleFocus(doc Document) {
	if doc.Text == nil {
		l.mu.Lock()
		if prev, ok := l.docs[doc.URI]; ok {
			doc.Text = prev.Text
			if doc.LanguageID == "" {
				doc.LanguageID = prev.LanguageID
			}
		}
		l.mu.Unlock()
	}
	if !l.track(doc) {
		return
	}
	l.dispatch(doc)
}

// HandleChange validates doc once edits stop arriving for the debounce window.
func (l *Linter) HandleChange(doc Document) {
	if !l.track(doc) {
		return
	}
	l.timers.Schedule(doc.URI, l.cfg.Debounce, func() {
		l.dispatch(doc)
	})
}

// HandleClose forgets a document and its diagnostics.
func (l *Linter) HandleClose(docURI string) {
	l.timers.Cancel(docURI)
	l.mu.Lock()
	delete(l.docs, docURI)
	l.mu.Unlock()
	l.diags.Forget(docURI)
}

// Stats returns current linter statistics.
func (l *Linter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]interface{}{
		"open_documents":      len(l.docs),
		"active_runs":         l.active,
		"pending_timers":      l.timers.Pending(),
		"max_concurrent":      l.cfg.MaxConcurrent,
		"validator_available": l.tool != nil,
	}
}

// track records doc as open if it is a CSV document and the linter is live.
func (l *Linter) track(doc Document) bool {
	if l.ctx.Err() != nil {
		return false
	}
	if !l.cfg.IsCSV(doc.LanguageID, uri.ToPath(doc.URI)) {
		return false
	}
	l.mu.Lock()
	l.docs[doc.URI] = doc
	l.mu.Unlock()
	return true
}

// adopt installs tool as the current validator and returns the documents
// open at that moment. A run that starts after adopt sees the new tool.
func (l *Linter) adopt(tool *install.Tool) []Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tool = tool
	docs := make([]Document, 0, len(l.docs))
	for _, d := range l.docs {
		docs = append(docs, d)
	}
	return docs
}

// dispatch runs Lint in the background. The stopped check and wg.Add share
// the lock Stop takes, so Stop never waits while a run is being added.
func (l *Linter) dispatch(doc Document) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()
	go func() {
		defer l.wg.Done()
		if _, err := l.Lint(l.ctx, doc); err != nil && !errors.Is(err, ErrStopped) {
			l.logger.Debug("lint did not publish", slog.String("uri", doc.URI), slog.Any("error", err))
		}
	}()
}

// Lint validates doc and publishes its diagnostics. The previous
// diagnostics are removed before the run. A run superseded by a newer one
// for the same document is recorded as stale and publishes nothing.
func (l *Linter) Lint(ctx context.Context, doc Document) (*models.Run, error) {
	path := uri.ToPath(doc.URI)
	if !l.cfg.IsCSV(doc.LanguageID, path) {
		return nil, fmt.Errorf("%w: %s", ErrNotCSV, doc.URI)
	}
	if path == "" {
		if doc.Text == nil {
			return nil, fmt.Errorf("cannot read %s from disk", doc.URI)
		}
		path = doc.URI
	}

	req := lint.Request{URI: doc.URI, Path: path, Text: doc.Text}
	run := &models.Run{
		ID:        uuid.New().String(),
		URI:       doc.URI,
		Transport: req.Transport(),
		StartedAt: time.Now(),
	}

	seq := l.diags.Begin(doc.URI)
	l.diags.Delete(doc.URI)

	if !l.Available() {
		return l.finish(ctx, run, models.RunOutcomeUnavailable, ErrUnavailable)
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, ErrStopped
	}
	l.setActive(1)
	outcome, err := l.runner.Run(ctx, req)
	l.setActive(-1)
	l.sem.Release(1)

	metrics.ValidationDuration.WithLabelValues(string(run.Transport)).Observe(outcome.Duration.Seconds())
	run.ExitCode = outcome.ExitCode

	if err != nil {
		// Runs cut short by Stop are not the validator's fault.
		if ctx.Err() == nil {
			l.notifier.Error(fmt.Sprintf("csvlinter failed on %s: %v", filepath.Base(path), err))
		}
		return l.finish(ctx, run, models.RunOutcomeFailed, err)
	}

	diags, err := lint.Evaluate(outcome)
	if err != nil {
		result := models.RunOutcomeMalformed
		if errors.Is(err, lint.ErrInvocationFailure) {
			result = models.RunOutcomeFailed
		}
		l.notifier.Error(fmt.Sprintf("csvlinter failed on %s: %v", filepath.Base(path), err))
		return l.finish(ctx, run, result, err)
	}

	run.Diagnostics = len(diags)
	if !l.diags.SetIfCurrent(doc.URI, seq, diags) {
		metrics.StaleResults.Inc()
		return l.finish(ctx, run, models.RunOutcomeStale, nil)
	}

	result := models.RunOutcomeValid
	if len(diags) > 0 {
		result = models.RunOutcomeInvalid
	}
	return l.finish(ctx, run, result, nil)
}

func (l *Linter) finish(ctx context.Context, run *models.Run, outcome models.RunOutcome, err error) (*models.Run, error) {
	run.Outcome = outcome
	run.EndedAt = time.Now()
	if err != nil {
		run.Error = err.Error()
	}
	metrics.ValidationTotal.WithLabelValues(string(outcome), string(run.Transport)).Inc()

	l.logger.Debug("lint finished",
		slog.String("uri", run.URI),
		slog.String("outcome", string(outcome)),
		slog.Int("diagnostics", run.Diagnostics),
		slog.Duration("duration", run.Duration()))

	if l.recorder != nil {
		// Record even when ctx is cancelled so Stop does not lose history.
		if rerr := l.recorder.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
			l.logger.Warn("failed to record run", slog.Any("error", rerr))
		}
	}
	return run, err
}

func (l *Linter) setActive(delta int) {
	l.mu.Lock()
	l.active += delta
	l.mu.Unlock()
}
