// Package install downloads a csvlinter release archive and installs the
// executable it contains.
package install

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fentz26/csvls/internal/platform"
	"github.com/fentz26/csvls/internal/release"
)

const (
	// stagingDir is the subdirectory archives are unpacked into.
	stagingDir = ".staging"
	// archiveSuffix names the in-progress download next to the executable.
	archiveSuffix = ".tar.gz.download"
	// maxRedirects bounds redirect chains on asset downloads.
	maxRedirects = 10
)

var (
	// ErrDownload covers non-200 responses, interrupted transfers and bad redirects.
	ErrDownload = errors.New("download failed")
	// ErrExtraction covers corrupt archives and archives missing the executable.
	ErrExtraction = errors.New("extraction failed")
)

// Tool is an installed, ready-to-run executable.
type Tool struct {
	Path       string `json:"path"`
	Executable bool   `json:"executable"`
}

// Installer fetches and unpacks release archives.
type Installer struct {
	tool      string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(i *Installer) {
		if ua != "" {
			i.userAgent = ua
		}
	}
}

// WithHTTPClient sets the HTTP client. Redirects are always followed manually.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Installer) {
		if c != nil {
			cp := *c
			i.client = &cp
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates an installer for the named tool.
func New(tool string, opts ...Option) *Installer {
	i := &Installer{
		tool:      tool,
		userAgent: release.DefaultUserAgent,
		client:    &http.Client{Timeout: 5 * time.Minute},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return i
}

// Install downloads asset into destDir and moves the executable to its
// canonical path. Every step starts from scratch, so a failed install can
// simply be retried.
func (i *Installer) Install(ctx context.Context, asset release.Descriptor, destDir string, target platform.Target) (Tool, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return Tool{}, fmt.Errorf("create storage directory: %w", err)
	}

	// Fixed name so a retry overwrites whatever a failed attempt left.
	archivePath := filepath.Join(destDir, i.tool+archiveSuffix)
	if err := i.download(ctx, asset.DownloadURL, archivePath); err != nil {
		return Tool{}, err
	}
	i.logger.Debug("archive downloaded", slog.String("asset", asset.Name), slog.String("path", archivePath))

	staging := filepath.Join(destDir, stagingDir)
	if err := os.RemoveAll(staging); err != nil {
		return Tool{}, fmt.Errorf("clear staging directory: %w", err)
	}
	if err := extractTarGz(archivePath, staging); err != nil {
		return Tool{}, err
	}

	binary := target.BinaryName(i.tool)
	extracted, err := findExecutable(staging, binary)
	if err != nil {
		return Tool{}, err
	}

	finalPath := filepath.Join(destDir, binary)
	if err := os.Rename(extracted, finalPath); err != nil {
		return Tool{}, fmt.Errorf("move executable into place: %w", err)
	}

	if !target.IsWindows() {
		if err := os.Chmod(finalPath, 0755); err != nil {
			return Tool{}, fmt.Errorf("set permissions: %w", err)
		}
	}
	tool := Tool{Path: finalPath, Executable: true}

	// The canonical path is in place; leftovers are only cleanup.
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		i.logger.Warn("failed to remove archive", slog.String("path", archivePath), slog.Any("error", err))
	}
	if err := os.RemoveAll(staging); err != nil {
		i.logger.Warn("failed to remove staging directory", slog.String("path", staging), slog.Any("error", err))
	}

	return tool, nil
}

// download streams u into dest, following redirects. dest is removed on failure.
func (i *Installer) download(ctx context.Context, u, dest string) error {
	resp, err := i.follow(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrDownload, dest, err)
	}

	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return fmt.Errorf("%w: %v", ErrDownload, copyErr)
	}
	return nil
}

// follow issues GETs until a non-redirect response arrives.
func (i *Installer) follow(ctx context.Context, u string) (*http.Response, error) {
	for hop := 0; hop <= maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownload, err)
		}
		req.Header.Set("User-Agent", i.userAgent)
		req.Header.Set("Accept", "application/octet-stream")

		resp, err := i.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDownload, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode >= 300 && resp.StatusCode < 400:
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("%w: redirect with no location header", ErrDownload)
			}
			next, err := resolve(u, loc)
			if err != nil {
				return nil, fmt.Errorf("%w: bad redirect location %q", ErrDownload, loc)
			}
			u = next
		default:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: status code %d", ErrDownload, resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("%w: too many redirects", ErrDownload)
}

func resolve(base, loc string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(loc)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(l).String(), nil
}

// extractTarGz unpacks a gzip-compressed tar archive into dir.
func extractTarGz(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: %v", ErrExtraction, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Links and devices are never part of a release.
		}
	}
}

func writeEntry(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return nil
}

// safeJoin rejects entries that would escape dir.
func safeJoin(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: illegal path in archive: %s", ErrExtraction, name)
	}
	return p, nil
}

// findExecutable returns the binary at the staging root, falling back to the
// first file with the same name deeper in the tree.
func findExecutable(staging, binary string) (string, error) {
	root := filepath.Join(staging, binary)
	if info, err := os.Stat(root); err == nil && info.Mode().IsRegular() {
		return root, nil
	}

	var found string
	walkErr := filepath.WalkDir(staging, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == binary {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, walkErr)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s not found in archive", ErrExtraction, binary)
	}
	return found, nil
}
