// Package store provides SQLite-backed history for csvls.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/csvls/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the csvls SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL lets the watch daemon write while `csvls runs` reads.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		transport TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		diagnostics INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS installs (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		asset_name TEXT,
		download_url TEXT,
		tag TEXT,
		forced INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		subject TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_uri ON runs(uri);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Run Operations ---

// RecordRun inserts a finished validation run. An empty ID is assigned.
func (s *Store) RecordRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, uri, transport, exit_code, diagnostics, outcome, error, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.URI, run.Transport, run.ExitCode, run.Diagnostics, run.Outcome, run.Error, run.StartedAt.UTC(), run.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, optionally filtered by document URI.
func (s *Store) ListRuns(ctx context.Context, uri string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, uri, transport, exit_code, diagnostics, outcome, error, started_at, ended_at FROM runs`
	var args []interface{}
	if uri != "" {
		query += ` WHERE uri = ?`
		args = append(args, uri)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var run models.Run
		var errText sql.NullString
		if err := rows.Scan(&run.ID, &run.URI, &run.Transport, &run.ExitCode, &run.Diagnostics, &run.Outcome, &errText, &run.StartedAt, &run.EndedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if errText.Valid {
			run.Error = errText.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Install Operations ---

// RecordInstall inserts a provisioning attempt.
func (s *Store) RecordInstall(ctx context.Context, rec *models.InstallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installs (id, path, asset_name, download_url, tag, forced, outcome, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, rec.AssetName, rec.DownloadURL, rec.Tag, rec.Forced, rec.Outcome, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert install: %w", err)
	}
	return nil
}

// LastInstall returns the most recent successful install, or nil.
func (s *Store) LastInstall(ctx context.Context) (*models.InstallRecord, error) {
	rec := &models.InstallRecord{}
	var asset, dl, tag, errText sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, asset_name, download_url, tag, forced, outcome, error, created_at FROM installs WHERE outcome = 'installed' ORDER BY created_at DESC LIMIT 1`,
	).Scan(&rec.ID, &rec.Path, &asset, &dl, &tag, &rec.Forced, &rec.Outcome, &errText, &rec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query install: %w", err)
	}
	rec.AssetName = asset.String
	rec.DownloadURL = dl.String
	rec.Tag = tag.String
	rec.Error = errText.String
	return rec, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		Subject:    subject,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, subject, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.Subject, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records for an action ("" = all).
func (s *Store) ListPDR(action string, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, action, inputs_hash, outcome, subject, details, timestamp FROM pdr`
	var args []interface{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var subject, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &subject, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.Subject = subject.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
