// Package models defines the persisted record types for csvls.
package models

import "time"

// RunOutcome classifies how a validation run ended.
type RunOutcome string

const (
	RunOutcomeValid       RunOutcome = "valid"
	RunOutcomeInvalid     RunOutcome = "invalid"
	RunOutcomeFailed      RunOutcome = "failed"
	RunOutcomeMalformed   RunOutcome = "malformed"
	RunOutcomeStale       RunOutcome = "stale"
	RunOutcomeUnavailable RunOutcome = "unavailable"
)

// Transport is how a document reached the validator.
type Transport string

const (
	TransportFile  Transport = "file"
	TransportStdin Transport = "stdin"
)

// Run represents one validator invocation against a document.
type Run struct {
	ID          string     `json:"id"`
	URI         string     `json:"uri"`
	Transport   Transport  `json:"transport"`
	ExitCode    int        `json:"exit_code"`
	Diagnostics int        `json:"diagnostics"`
	Outcome     RunOutcome `json:"outcome"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     time.Time  `json:"ended_at"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Severity mirrors the LSP DiagnosticSeverity numbering.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Diagnostic is one line-anchored finding reported by the validator.
// Line is 0-based; EndChar spans to the end of the line.
type Diagnostic struct {
	Line      int      `json:"line"`
	StartChar int      `json:"start_char"`
	EndChar   int      `json:"end_char"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Source    string   `json:"source"`
	Kind      string   `json:"kind,omitempty"`
}

// InstallRecord captures one provisioning attempt.
type InstallRecord struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	AssetName   string    `json:"asset_name,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Forced      bool      `json:"forced"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
