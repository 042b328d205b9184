package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/fentz26/csvls/internal/config"
	"github.com/fentz26/csvls/internal/models"
)

func TestDocumentFor_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0644))

	doc, name, err := documentFor(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, name)
	assert.True(t, strings.HasPrefix(doc.URI, "file://"))
	assert.Equal(t, "csv", doc.LanguageID)
	assert.Nil(t, doc.Text)
}

func TestDocumentFor_Stdin(t *testing.T) {
	doc, name, err := documentFor("-", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, stdinFilename, name)
	require.NotNil(t, doc.Text)
	assert.Equal(t, "a,b\n1,2\n", *doc.Text)
}

func TestDocumentFor_Errors(t *testing.T) {
	_, _, err := documentFor(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)

	_, _, err = documentFor(t.TempDir(), nil)
	assert.ErrorContains(t, err, "is a directory")
}

func TestPrinter(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	p := newPrinter(&buf)
	p.document("a.csv", nil)
	p.document("b.csv", []models.Diagnostic{
		{Line: 0, Message: "missing header", Severity: models.SeverityError},
		{Line: 4, Message: "odd", Severity: models.SeverityWarning},
	})
	p.failure("c.csv", errors.New("timed out"))
	p.summary(3, 2, 1)

	assert.Equal(t, strings.Join([]string{
		"✓ a.csv",
		"b.csv:1: error: missing header",
		"b.csv:5: warning: odd",
		"✗ c.csv: timed out",
		"2 problems in 3 files, 1 files could not be validated",
		"",
	}, "\n"), buf.String())
}

func TestSpinner_NotAnimated(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, " Installing", false)
	s.Start()
	s.StopWithSymbol("✗")
	s.Stop() // second stop is a no-op

	assert.Equal(t, "│ Installing\n✗ Installing\n", buf.String())
}

func TestSpinner_Animated(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, " Working", true)
	s.Start()
	s.Stop()

	assert.True(t, strings.HasSuffix(buf.String(), "\r\033[K✓ Working\n"))
}

func TestResolveAPIAddr(t *testing.T) {
	defer func() { apiAddr = "" }()

	assert.Equal(t, defaultAPIAddr, resolveAPIAddr(nil))

	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:9000"
	assert.Equal(t, "127.0.0.1:9000", resolveAPIAddr(cfg))

	apiAddr = "localhost:1234"
	assert.Equal(t, "localhost:1234", resolveAPIAddr(cfg))
}

func TestExitError(t *testing.T) {
	var wrapped error = exitError{code: 1}
	var exit exitError
	require.True(t, errors.As(wrapped, &exit))
	assert.Equal(t, 1, exit.code)
	assert.Equal(t, "exit status 1", wrapped.Error())
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := config.DefaultConfig()
	cfg.MaxConcurrent = 2

	require.NoError(t, writeConfig(path, cfg, false))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.MaxConcurrent)

	cfg.MaxConcurrent = 8
	err = writeConfig(path, cfg, false)
	assert.ErrorIs(t, err, errConfigExists)

	require.NoError(t, writeConfig(path, cfg, true))
	loaded, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.MaxConcurrent)
}

func TestStartTracing_StdoutToLogDir(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := config.DefaultConfig()
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.TraceExporter = "stdout"

	stop, err := startTracing(cfg)
	require.NoError(t, err)
	_, span := otel.Tracer("csvls.test").Start(context.Background(), "watch.scan")
	span.End()
	require.NoError(t, stop(context.Background()))

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "traces.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "watch.scan")
}

func TestStartTracing_Disabled(t *testing.T) {
	stop, err := startTracing(config.DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, stop(context.Background()))
}
