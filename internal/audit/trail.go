// Package audit keeps a decision trail for validator provisioning, so a
// changed executable can be traced to the asset and mode that produced it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fentz26/csvls/internal/models"
	"github.com/fentz26/csvls/internal/store"
)

// Provisioning actions.
const (
	ActionInstall   = "tool.install"
	ActionReinstall = "tool.reinstall"
)

// ActionFor maps an install mode to its action name.
func ActionFor(forced bool) string {
	if forced {
		return ActionReinstall
	}
	return ActionInstall
}

// InstallInputs are the facts an install decision depends on. Two attempts
// with equal inputs share a fingerprint.
type InstallInputs struct {
	Tool   string `json:"tool"`
	Dir    string `json:"dir"`
	Asset  string `json:"asset,omitempty"`
	Forced bool   `json:"forced"`
}

// Trail appends decision records to the store.
type Trail struct {
	store *store.Store
}

// NewTrail creates a trail backed by s.
func NewTrail(s *store.Store) *Trail {
	return &Trail{store: s}
}

// Record appends one decision. subject is the executable path the decision
// concerns; details carries the failure text, if any.
func (t *Trail) Record(action string, inputs interface{}, outcome, subject, details string) (*models.PDREntry, error) {
	if action != ActionInstall && action != ActionReinstall {
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	return t.store.WritePDR(action, Fingerprint(inputs), outcome, subject, details)
}

// Installs returns install and reinstall decisions, newest first.
func (t *Trail) Installs(limit int) ([]models.PDREntry, error) {
	entries, err := t.store.ListPDR("", limit)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Action == ActionInstall || e.Action == ActionReinstall {
			out = append(out, e)
		}
	}
	return out, nil
}

// Fingerprint hashes the JSON encoding of inputs. Unencodable inputs get a
// fixed marker rather than failing the decision.
func Fingerprint(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
