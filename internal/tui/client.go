package tui

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fentz26/csvls/internal/controlplane"
	"github.com/fentz26/csvls/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

// Client wraps HTTP calls to a running csvls watcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout. addr may be a bare
// host:port.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			// Reinstall downloads a release before answering.
			Timeout: 5 * time.Minute,
		},
	}
}

// Health fetches the watcher's health report.
func (c *Client) Health() (*controlplane.HealthResponse, error) {
	var health controlplane.HealthResponse
	if err := c.get("/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Diagnostics lists every document the watcher tracks.
func (c *Client) Diagnostics() ([]controlplane.DocumentDiagnostics, error) {
	var docs []controlplane.DocumentDiagnostics
	if err := c.get("/diagnostics", &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Document fetches one document's diagnostics.
func (c *Client) Document(uri string) (*controlplane.DocumentDiagnostics, error) {
	var doc controlplane.DocumentDiagnostics
	if err := c.get("/diagnostics?uri="+url.QueryEscape(uri), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Runs fetches recent runs, optionally filtered by document.
func (c *Client) Runs(uri string, limit int) ([]models.Run, error) {
	q := url.Values{}
	if uri != "" {
		q.Set("uri", uri)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var runs []models.Run
	if err := c.get(path, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats fetches linter statistics.
func (c *Client) Stats() (map[string]interface{}, error) {
	var stats map[string]interface{}
	if err := c.get("/stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Reinstall asks the watcher to download the validator again.
func (c *Client) Reinstall() error {
	resp, err := c.httpClient.Post(c.baseURL+"/reinstall", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result controlplane.ReinstallResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	if !result.Installed {
		return controlplane.ErrReinstallFailed
	}
	return nil
}

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	// Reads should fail fast even though reinstall may not.
	client := *c.httpClient
	client.Timeout = DefaultClientTimeout

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
