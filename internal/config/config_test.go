package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.Debounce)
	assert.Equal(t, "csvls", cfg.UserAgent)
	assert.Equal(t, "https://api.github.com/repos/csvlinter/csvlinter/releases/latest", cfg.MetadataURL())
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
storage_dir: /opt/csvls
debounce: 500ms
max_concurrent: 2
extensions: [".csv", ".tsv"]
listen: 127.0.0.1:7466
release_url: http://localhost:9999/latest
trace_exporter: otlp
otlp_endpoint: collector:4317
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/csvls", cfg.StorageDir)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, "127.0.0.1:7466", cfg.Listen)
	assert.Equal(t, "http://localhost:9999/latest", cfg.MetadataURL())
	assert.Equal(t, "otlp", cfg.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	// untouched fields keep defaults
	assert.Equal(t, "csvlinter", cfg.BinaryName)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "debounce: [oops"},
		{"zero concurrency", "max_concurrent: 0"},
		{"extension without dot", "extensions: [csv]"},
		{"bad level", "log_level: loud"},
		{"repo without owner", "repo: csvlinter"},
		{"binary with slash", "binary_name: bin/csvlinter"},
		{"unknown trace exporter", "trace_exporter: zipkin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 8
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.MaxConcurrent)
}

func TestIsCSV(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.IsCSV("csv", "/tmp/data.txt"))
	assert.True(t, cfg.IsCSV("", "/tmp/DATA.CSV"))
	assert.True(t, cfg.IsCSV("plaintext", "/tmp/a.csv"))
	assert.False(t, cfg.IsCSV("json", "/tmp/a.json"))
	assert.False(t, cfg.IsCSV("", "/tmp/noext"))
}
