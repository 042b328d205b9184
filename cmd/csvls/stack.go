package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/csvls/internal/audit"
	"github.com/fentz26/csvls/internal/config"
	"github.com/fentz26/csvls/internal/connectors/localexec"
	"github.com/fentz26/csvls/internal/diagnostics"
	"github.com/fentz26/csvls/internal/install"
	"github.com/fentz26/csvls/internal/lint"
	"github.com/fentz26/csvls/internal/notify"
	"github.com/fentz26/csvls/internal/provision"
	"github.com/fentz26/csvls/internal/release"
	"github.com/fentz26/csvls/internal/session"
	"github.com/fentz26/csvls/internal/store"
	"github.com/fentz26/csvls/internal/telemetry"
)

// traceFlushTimeout bounds how long Close waits for spans to export.
const traceFlushTimeout = 5 * time.Second

// stack is the wired validation pipeline shared by every command.
type stack struct {
	cfg    *config.Config
	store  *store.Store
	prov   *provision.Provisioner
	diags  *diagnostics.Store
	linter *session.Linter

	stopTracing func(context.Context) error
}

// buildStack wires provisioning, invocation and publishing. A nil notifier
// reports through the logger.
func buildStack(cfg *config.Config, logger *slog.Logger, diags *diagnostics.Store, notifier notify.Notifier) (*stack, error) {
	if notifier == nil {
		notifier = notify.Log{Logger: logger}
	}

	stopTracing, err := startTracing(cfg)
	if err != nil {
		return nil, fmt.Errorf("start tracing: %w", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		stopTracing(context.Background())
		return nil, fmt.Errorf("open history: %w", err)
	}

	locator := release.NewLocator(cfg.BinaryName, cfg.Repo,
		release.WithURL(cfg.MetadataURL()),
		release.WithUserAgent(cfg.UserAgent),
		release.WithLogger(logger))
	installer := install.New(cfg.BinaryName,
		install.WithUserAgent(cfg.UserAgent),
		install.WithLogger(logger))

	prov := provision.New(cfg.StorageDir, cfg.BinaryName, locator, installer,
		provision.WithNotifier(notifier),
		provision.WithHistory(st),
		provision.WithAuditor(audit.NewTrail(st)),
		provision.WithLogger(logger))

	conn := localexec.New("")
	conn.Allow(prov.Path(), "validate")
	invoker := lint.NewInvoker(conn, prov.Path(),
		lint.WithTimeout(cfg.ValidateTimeout),
		lint.WithLogger(logger))

	linter := session.New(prov, invoker, diags, session.Config{
		Debounce:      cfg.Debounce,
		MaxConcurrent: cfg.MaxConcurrent,
		IsCSV:         cfg.IsCSV,
	},
		session.WithNotifier(notifier),
		session.WithRecorder(st),
		session.WithLogger(logger))

	return &stack{
		cfg:    cfg,
		store:  st,
		prov:   prov,
		diags:  diags,
		linter: linter,

		stopTracing: stopTracing,
	}, nil
}

// startTracing installs the configured span exporter. The stdout exporter
// appends to traces.jsonl under log_dir when one is set.
func startTracing(cfg *config.Config) (func(context.Context) error, error) {
	tcfg := telemetry.Config{
		ServiceVersion: version,
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
	}

	var file *os.File
	if cfg.TraceExporter == telemetry.ExporterStdout && cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, "traces.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		file = f
		tcfg.Writer = f
	}

	shutdown, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, err
	}
	if file == nil {
		return shutdown, nil
	}
	return func(ctx context.Context) error {
		err := shutdown(ctx)
		file.Close()
		return err
	}, nil
}

// Close stops the linter, closes the history database and flushes spans.
func (s *stack) Close() {
	s.linter.Stop()
	if err := s.store.Close(); err != nil {
		slog.Warn("closing history database", slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), traceFlushTimeout)
	defer cancel()
	if err := s.stopTracing(ctx); err != nil {
		slog.Warn("flushing traces", slog.Any("error", err))
	}
}
