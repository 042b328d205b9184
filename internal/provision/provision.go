// Package provision makes sure a csvlinter executable is available, fetching
// it from GitHub releases on first use.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fentz26/csvls/internal/audit"
	"github.com/fentz26/csvls/internal/install"
	"github.com/fentz26/csvls/internal/metrics"
	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/notify"
	"github.com/fentz26/csvls/internal/platform"
	"github.com/fentz26/csvls/internal/release"
)

// tracerName scopes this package's spans.
const tracerName = "csvls.provision"

// Locator finds the release asset for a platform.
type Locator interface {
	Locate(ctx context.Context, target platform.Target) (release.Descriptor, error)
}

// Installer downloads and installs an asset.
type Installer interface {
	Install(ctx context.Context, asset release.Descriptor, destDir string, target platform.Target) (install.Tool, error)
}

// History persists provisioning attempts.
type History interface {
	RecordInstall(ctx context.Context, rec *models.InstallRecord) error
}

// Auditor writes decision records.
type Auditor interface {
	Record(action string, inputs interface{}, outcome, subject, details string) (*models.PDREntry, error)
}

// Provisioner owns the canonical validator path. It is the only writer of
// that path within a process.
type Provisioner struct {
	dir       string
	tool      string
	resolve   func() (platform.Target, error)
	locator   Locator
	installer Installer
	notifier  notify.Notifier
	history   History
	auditor   Auditor
	logger    *slog.Logger

	mu sync.Mutex
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithPlatform overrides platform detection.
func WithPlatform(resolve func() (platform.Target, error)) Option {
	return func(p *Provisioner) { p.resolve = resolve }
}

// WithNotifier sets where user-facing messages go.
func WithNotifier(n notify.Notifier) Option {
	return func(p *Provisioner) { p.notifier = n }
}

// WithHistory records every attempt in h.
func WithHistory(h History) Option {
	return func(p *Provisioner) { p.history = h }
}

// WithAuditor appends every attempt to a decision trail.
func WithAuditor(a Auditor) Option {
	return func(p *Provisioner) { p.auditor = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a provisioner that installs tool into dir.
func New(dir, tool string, locator Locator, installer Installer, opts ...Option) *Provisioner {
	p := &Provisioner{
		dir:       dir,
		tool:      tool,
		resolve:   platform.Current,
		locator:   locator,
		installer: installer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.notifier == nil {
		p.notifier = notify.Log{Logger: p.logger}
	}
	return p
}

// Path returns the canonical executable path, or "" on unsupported platforms.
func (p *Provisioner) Path() string {
	target, err := p.resolve()
	if err != nil {
		return ""
	}
	return filepath.Join(p.dir, target.BinaryName(p.tool))
}

// EnsureInstalled returns the installed tool, installing it if missing.
// Failures are reported to the user and yield nil.
func (p *Provisioner) EnsureInstalled(ctx context.Context) *install.Tool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensure(ctx, false)
}

// ForceReinstall deletes the current executable and installs it again.
func (p *Provisioner) ForceReinstall(ctx context.Context) *install.Tool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if path := p.Path(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("failed to remove existing validator", slog.String("path", path), slog.Any("error", err))
		}
	}
	return p.ensure(ctx, true)
}

func (p *Provisioner) ensure(ctx context.Context, forced bool) *install.Tool {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Provisioner.EnsureInstalled",
		trace.WithAttributes(attribute.Bool("provision.forced", forced)))
	defer span.End()

	target, err := p.resolve()
	if err != nil {
		p.fail(ctx, span, forced, "", release.Descriptor{}, err)
		return nil
	}

	path := filepath.Join(p.dir, target.BinaryName(p.tool))
	span.SetAttributes(attribute.String("provision.path", path))

	if fileExists(path) {
		p.logger.Debug("validator already installed", slog.String("path", path))
		metrics.ProvisionTotal.WithLabelValues("cached").Inc()
		return &install.Tool{Path: path, Executable: true}
	}

	p.notifier.Info(fmt.Sprintf("Downloading %s...", p.tool))

	asset, err := p.locator.Locate(ctx, target)
	if err != nil {
		p.fail(ctx, span, forced, path, asset, err)
		return nil
	}

	tool, err := p.installer.Install(ctx, asset, p.dir, target)
	if err != nil {
		p.fail(ctx, span, forced, path, asset, err)
		return nil
	}

	p.logger.Info("validator installed",
		slog.String("path", tool.Path),
		slog.String("asset", asset.Name),
		slog.String("tag", asset.Tag),
	)
	metrics.ProvisionTotal.WithLabelValues("installed").Inc()
	p.record(ctx, forced, &models.InstallRecord{
		Path:        tool.Path,
		AssetName:   asset.Name,
		DownloadURL: asset.DownloadURL,
		Tag:         asset.Tag,
		Outcome:     "installed",
	})
	return &tool
}

func (p *Provisioner) fail(ctx context.Context, span trace.Span, forced bool, path string, asset release.Descriptor, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.ProvisionTotal.WithLabelValues("failed").Inc()

	p.logger.Error("validator provisioning failed", slog.Any("error", err))
	p.notifier.Error(userMessage(p.tool, err))
	p.record(ctx, forced, &models.InstallRecord{
		Path:        path,
		AssetName:   asset.Name,
		DownloadURL: asset.DownloadURL,
		Outcome:     "failed",
		Error:       err.Error(),
	})
}

func (p *Provisioner) record(ctx context.Context, forced bool, rec *models.InstallRecord) {
	rec.Forced = forced
	if p.history != nil {
		if err := p.history.RecordInstall(ctx, rec); err != nil {
			p.logger.Warn("failed to record install", slog.Any("error", err))
		}
	}
	if p.auditor != nil {
		inputs := audit.InstallInputs{Tool: p.tool, Dir: p.dir, Asset: rec.AssetName, Forced: forced}
		if _, err := p.auditor.Record(audit.ActionFor(forced), inputs, rec.Outcome, rec.Path, rec.Error); err != nil {
			p.logger.Warn("failed to append audit record", slog.Any("error", err))
		}
	}
}

// userMessage turns a provisioning error into the text shown to the user.
func userMessage(tool string, err error) string {
	switch {
	case errors.Is(err, platform.ErrUnsupportedPlatform):
		return fmt.Sprintf("%s is not available for this platform: %v", tool, err)
	case errors.Is(err, release.ErrAssetNotFound):
		return fmt.Sprintf("Could not find a compatible %s release: %v", tool, err)
	default:
		return fmt.Sprintf("Failed to download %s: %v", tool, err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
