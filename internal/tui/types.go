package tui

import (
	"time"

	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/uri"
)

// DocumentItem is one tracked document in the list view.
type DocumentItem struct {
	URI         string
	Diagnostics []models.Diagnostic
}

// Count returns the number of diagnostics.
func (d DocumentItem) Count() int { return len(d.Diagnostics) }

// DisplayPath returns the filesystem path when the URI has one.
func (d DocumentItem) DisplayPath() string {
	if p := uri.ToPath(d.URI); p != "" {
		return p
	}
	return d.URI
}

type documentsLoadedMsg struct {
	docs  []DocumentItem
	stats map[string]interface{}
}

type runsLoadedMsg struct {
	uri  string
	runs []models.Run
}

type reinstallDoneMsg struct {
	err error
}

type changedMsg struct{}

type errMsg struct {
	err error
}

type tickMsg time.Time
