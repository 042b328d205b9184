// Package config loads csvls settings from ~/.csvls/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/csvls/internal/logging"
	"github.com/fentz26/csvls/internal/release"
)

// Config holds csvls configuration.
type Config struct {
	// StorageDir holds the provisioned validator. Defaults to ~/.csvls/bin.
	StorageDir string `yaml:"storage_dir"`
	// Repo is the GitHub owner/name the validator is released from.
	Repo string `yaml:"repo" validate:"required,contains=/"`
	// BinaryName is the validator's executable name without platform suffix.
	BinaryName string `yaml:"binary_name" validate:"required,excludesall=/\\"`
	// ReleaseURL overrides the latest-release metadata endpoint.
	ReleaseURL string `yaml:"release_url,omitempty" validate:"omitempty,url"`
	UserAgent  string `yaml:"user_agent" validate:"required"`

	// Debounce is the quiet period after an edit before validating.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
	// ValidateTimeout bounds a single validator run.
	ValidateTimeout time.Duration `yaml:"validate_timeout" validate:"gt=0"`
	// MaxConcurrent bounds validator processes running at once.
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1,max=64"`

	Extensions  []string `yaml:"extensions" validate:"min=1,dive,startswith=."`
	LanguageIDs []string `yaml:"language_ids"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogDir   string `yaml:"log_dir,omitempty"`
	// Listen is the control plane address. Empty disables it.
	Listen string `yaml:"listen,omitempty" validate:"omitempty,hostname_port"`

	// TraceExporter is where spans go: none, stdout or otlp. stdout writes
	// to traces.jsonl under log_dir, or stderr without one.
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlp_endpoint,omitempty" validate:"omitempty,hostname_port"`
	OTLPInsecure  bool   `yaml:"otlp_insecure,omitempty"`
}

// HomeDir returns ~/.csvls, or .csvls when the home directory is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".csvls"
	}
	return filepath.Join(home, ".csvls")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	base := HomeDir()
	return &Config{
		StorageDir:      filepath.Join(base, "bin"),
		Repo:            release.DefaultRepo,
		BinaryName:      "csvlinter",
		UserAgent:       release.DefaultUserAgent,
		Debounce:        200 * time.Millisecond,
		ValidateTimeout: 30 * time.Second,
		MaxConcurrent:   4,
		Extensions:      []string{".csv"},
		LanguageIDs:     []string{"csv"},
		DBPath:          filepath.Join(base, "csvls.db"),
		LogLevel:        "info",
		TraceExporter:   "none",
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.expand()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// MetadataURL returns the release metadata endpoint.
func (c *Config) MetadataURL() string {
	if c.ReleaseURL != "" {
		return c.ReleaseURL
	}
	return fmt.Sprintf(release.LatestReleaseURL, c.Repo)
}

// IsCSV reports whether a document should be validated, by language id
// first and file extension second.
func (c *Config) IsCSV(languageID, path string) bool {
	if languageID != "" {
		for _, id := range c.LanguageIDs {
			if strings.EqualFold(id, languageID) {
				return true
			}
		}
	}
	ext := filepath.Ext(path)
	for _, e := range c.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func (c *Config) expand() {
	c.StorageDir = logging.ExpandHome(c.StorageDir)
	c.DBPath = logging.ExpandHome(c.DBPath)
	c.LogDir = logging.ExpandHome(c.LogDir)
}
