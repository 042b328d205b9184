// Package release locates csvlinter release assets through the GitHub releases API.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fentz26/csvls/internal/platform"
)

const (
	// DefaultRepo is the repository csvlinter is released from.
	DefaultRepo = "csvlinter/csvlinter"
	// LatestReleaseURL is the GitHub endpoint for a repository's latest release.
	LatestReleaseURL = "https://api.github.com/repos/%s/releases/latest"
	// DefaultUserAgent is sent on every request; GitHub rejects requests without one.
	DefaultUserAgent = "csvls"
)

var (
	// ErrReleaseFetch covers network failures, bad redirects and non-2xx responses.
	ErrReleaseFetch = errors.New("release fetch failed")
	// ErrAssetNotFound means the release exists but ships no asset for this platform.
	ErrAssetNotFound = errors.New("release asset not found")
)

// Release is the subset of the GitHub release document we read.
type Release struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Descriptor names the asset to download and where to get it.
type Descriptor struct {
	Name        string
	DownloadURL string
	Tag         string
}

// Locator resolves the download URL of the asset matching a platform target.
type Locator struct {
	tool      string
	url       string
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithURL overrides the release metadata endpoint.
func WithURL(u string) Option {
	return func(l *Locator) {
		if u != "" {
			l.url = u
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(l *Locator) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithHTTPClient sets the transport used for requests. Redirect handling is
// always overridden so that redirects can be followed manually.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Locator) {
		if c != nil {
			cp := *c
			l.client = &cp
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLocator creates a locator for the given tool released from repo.
func NewLocator(tool, repo string, opts ...Option) *Locator {
	if repo == "" {
		repo = DefaultRepo
	}
	l := &Locator{
		tool:      tool,
		url:       fmt.Sprintf(LatestReleaseURL, repo),
		userAgent: DefaultUserAgent,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return l
}

// Locate fetches the latest release and returns the asset for target.
func (l *Locator) Locate(ctx context.Context, target platform.Target) (Descriptor, error) {
	name := target.AssetName(l.tool)

	rel, err := l.fetch(ctx)
	if err != nil {
		return Descriptor{}, err
	}

	for _, a := range rel.Assets {
		if a.Name == name {
			l.logger.Debug("release asset located",
				slog.String("asset", name),
				slog.String("tag", rel.TagName),
				slog.String("url", a.BrowserDownloadURL),
			)
			return Descriptor{Name: a.Name, DownloadURL: a.BrowserDownloadURL, Tag: rel.TagName}, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
}

// fetch performs the metadata GET, following at most one redirect.
func (l *Locator) fetch(ctx context.Context) (*Release, error) {
	resp, err := l.get(ctx, l.url)
	if err != nil {
		return nil, err
	}

	if isRedirect(resp.StatusCode) {
		loc := resp.Header.Get("Location")
		resp.Body.Close()
		if loc == "" {
			return nil, fmt.Errorf("%w: redirect without location", ErrReleaseFetch)
		}
		next, err := resolveLocation(l.url, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: bad redirect location %q: %v", ErrReleaseFetch, loc, err)
		}
		l.logger.Debug("release metadata redirected", slog.String("location", next))

		resp, err = l.get(ctx, next)
		if err != nil {
			return nil, err
		}
		if isRedirect(resp.StatusCode) {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: too many redirects", ErrReleaseFetch)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GitHub API returned status %d", ErrReleaseFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrReleaseFetch, err)
	}

	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return nil, fmt.Errorf("%w: parse release info: %v", ErrReleaseFetch, err)
	}
	return &rel, nil
}

func (l *Locator) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReleaseFetch, err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReleaseFetch, err)
	}
	return resp, nil
}

func isRedirect(code int) bool {
	return code == http.StatusMovedPermanently || code == http.StatusFound
}

// resolveLocation resolves a possibly relative Location header against base.
func resolveLocation(base, loc string) (string, error) {
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
