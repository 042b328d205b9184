package install

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/csvls/internal/install/archivetest"
	"github.com/fentz26/csvls/internal/platform"
	"github.com/fentz26/csvls/internal/release"
)

var linux = platform.Target{OS: "linux", Arch: "amd64"}

func assetAt(u string) release.Descriptor {
	return release.Descriptor{Name: "csvlinter-linux-amd64.tar.gz", DownloadURL: u}
}

func serveBytes(b []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write(b)
	}
}

func TestInstall_Success(t *testing.T) {
	archive := archivetest.TarGz(map[string]string{
		"csvlinter": "#!/bin/sh\necho ok\n",
		"LICENSE":   "MIT",
	})
	var ua, accept atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		accept.Store(r.Header.Get("Accept"))
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	inst := New("csvlinter", WithUserAgent("csvls-test"))
	tool, err := inst.Install(context.Background(), assetAt(srv.URL), dir, linux)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "csvlinter"), tool.Path)
	assert.True(t, tool.Executable)
	assert.Equal(t, "csvls-test", ua.Load())
	assert.Equal(t, "application/octet-stream", accept.Load())

	content, err := os.ReadFile(tool.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "echo ok")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(tool.Path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	}

	assert.NoFileExists(t, filepath.Join(dir, "csvlinter.tar.gz.download"))
	assert.NoDirExists(t, filepath.Join(dir, stagingDir))
}

func TestInstall_FollowsRedirectChain(t *testing.T) {
	archive := archivetest.TarGz(map[string]string{"csvlinter": "bin"})
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/hop", http.StatusFound)
	})
	mux.HandleFunc("/cdn/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/object", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/cdn/object", serveBytes(archive))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	tool, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL+"/download"), dir, linux)
	require.NoError(t, err)
	assert.FileExists(t, tool.Path)
}

func TestInstall_RedirectLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	_, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL+"/loop"), t.TempDir(), linux)
	assert.ErrorIs(t, err, ErrDownload)
}

func TestInstall_RedirectWithoutLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	_, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL), t.TempDir(), linux)
	require.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "no location")
}

func TestInstall_Non200LeavesNoArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL), dir, linux)
	require.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, filepath.Join(dir, "csvlinter.tar.gz.download"))
}

func TestInstall_RetryAfterExtractionFailure(t *testing.T) {
	good := archivetest.TarGz(map[string]string{"csvlinter": "bin"})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte("this is not a gzip stream"))
			return
		}
		w.Write(good)
	}))
	defer srv.Close()

	dir := t.TempDir()
	inst := New("csvlinter")

	_, err := inst.Install(context.Background(), assetAt(srv.URL), dir, linux)
	require.ErrorIs(t, err, ErrExtraction)
	assert.NoFileExists(t, filepath.Join(dir, "csvlinter"))

	tool, err := inst.Install(context.Background(), assetAt(srv.URL), dir, linux)
	require.NoError(t, err)
	assert.FileExists(t, tool.Path)
	assert.NoFileExists(t, filepath.Join(dir, "csvlinter.tar.gz.download"))
}

func TestInstall_MissingExecutable(t *testing.T) {
	archive := archivetest.TarGz(map[string]string{"README.md": "docs"})
	srv := httptest.NewServer(serveBytes(archive))
	defer srv.Close()

	_, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL), t.TempDir(), linux)
	require.ErrorIs(t, err, ErrExtraction)
	assert.Contains(t, err.Error(), "not found in archive")
}

func TestInstall_NestedExecutable(t *testing.T) {
	archive := archivetest.TarGz(map[string]string{
		"csvlinter_1.2.0/":          "",
		"csvlinter_1.2.0/csvlinter": "bin",
	})
	srv := httptest.NewServer(serveBytes(archive))
	defer srv.Close()

	dir := t.TempDir()
	tool, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL), dir, linux)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "csvlinter"), tool.Path)
}

func TestInstall_RejectsPathTraversal(t *testing.T) {
	archive := archivetest.TarGz(map[string]string{
		"../../escape": "evil",
		"csvlinter":    "bin",
	})
	srv := httptest.NewServer(serveBytes(archive))
	defer srv.Close()

	_, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL), t.TempDir(), linux)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestInstall_WindowsBinaryName(t *testing.T) {
	archive := archivetest.TarGz(map[string]string{"csvlinter.exe": "MZ"})
	srv := httptest.NewServer(serveBytes(archive))
	defer srv.Close()

	dir := t.TempDir()
	win := platform.Target{OS: "windows", Arch: "amd64", ExeSuffix: ".exe"}
	tool, err := New("csvlinter").Install(context.Background(), assetAt(srv.URL), dir, win)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "csvlinter.exe"), tool.Path)
}
