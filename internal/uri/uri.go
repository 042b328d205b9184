// Package uri converts between file paths and file:// document URIs.
package uri

import (
	"net/url"
	"path/filepath"
	"strings"
)

// FromPath returns the file:// URI for path, made absolute.
func FromPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		// Windows drive paths become file:///C:/...
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}

// ToPath returns the local path for a file:// URI. Other schemes yield "".
// A bare path is returned in absolute form.
func ToPath(uri string) string {
	if uri == "" {
		return ""
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "file" {
		// Single letters are Windows drives, not schemes.
		if len(parsed.Scheme) != 1 {
			return ""
		}
		parsed = &url.URL{Path: uri}
	}

	path := parsed.Path
	if parsed.Scheme == "" {
		path = uri
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	path = filepath.FromSlash(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path
}
