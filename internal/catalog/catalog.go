package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"epochalyst/internal/core"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		path TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		output_data_type TEXT NOT NULL,
		storage_type TEXT NOT NULL,
		digest TEXT NOT NULL,
		size INTEGER NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_name ON entries(name)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		pipeline_hash TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`,
}

// Catalog is a SQLite-backed registry. It is safe for concurrent use.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the catalog database at path.
func Open(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise report SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating catalog: %w", err)
		}
	}
	return &Catalog{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record inserts or replaces the entry for e.Path.
func (c *Catalog) Record(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.Path) == "" {
		return errors.New("entry path is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entries (path, name, output_data_type, storage_type, digest, size, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			output_data_type = excluded.output_data_type,
			storage_type = excluded.storage_type,
			digest = excluded.digest,
			size = excluded.size,
			run_id = excluded.run_id,
			created_at = excluded.created_at`,
		e.Path, e.Name, e.OutputDataType, e.StorageType, e.Digest, e.Size, e.RunID, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Path, err)
	}
	return nil
}

// List returns all entries ordered by path.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT path, name, output_data_type, storage_type, digest, size, run_id, created_at
		FROM entries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Path, &e.Name, &e.OutputDataType, &e.StorageType, &e.Digest, &e.Size, &e.RunID, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Forget removes the entry for path. It reports whether an entry existed.
// The artifact on disk is left untouched.
func (c *Catalog) Forget(ctx context.Context, path string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("forgetting %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Verify recomputes the digest of every entry and reports the ones that are
// missing on disk or whose content changed.
func (c *Catalog) Verify(ctx context.Context) ([]Problem, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var problems []Problem
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		digest, _, err := Digest(e.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				problems = append(problems, Problem{Path: e.Path, Reason: ReasonMissing})
				continue
			}
			return nil, fmt.Errorf("digesting %s: %w", e.Path, err)
		}
		if digest != e.Digest {
			problems = append(problems, Problem{Path: e.Path, Reason: ReasonMismatch})
		}
	}
	return problems, nil
}

// StartRun records a new run.
func (c *Catalog) StartRun(ctx context.Context, run Run) error {
	if run.StartTime.IsZero() {
		run.StartTime = c.now()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, pipeline_hash, start_time, status) VALUES (?, ?, ?, ?)`,
		run.RunID, run.PipelineHash, formatTime(run.StartTime), string(run.Status))
	if err != nil {
		return fmt.Errorf("starting run %s: %w", run.RunID, err)
	}
	return nil
}

// FinishRun marks a run as succeeded, or failed when runErr is non-nil.
func (c *Catalog) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := RunSucceeded
	msg := ""
	if runErr != nil {
		status = RunFailed
		msg = runErr.Error()
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE runs SET end_time = ?, status = ?, error = ? WHERE run_id = ?`,
		formatTime(c.now()), string(status), msg, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: unknown run", runID)
	}
	return nil
}

// Runs returns all runs ordered by start time.
func (c *Catalog) Runs(ctx context.Context) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, pipeline_hash, start_time, end_time, status, error
		FROM runs ORDER BY start_time, run_id`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var start, end, status string
		if err := rows.Scan(&r.RunID, &r.PipelineHash, &start, &end, &status, &r.Error); err != nil {
			return nil, err
		}
		r.StartTime = parseTime(start)
		r.EndTime = parseTime(end)
		r.Status = RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recorder records cache artifacts into a catalog under a run ID.
type Recorder struct {
	Catalog *Catalog
	RunID   string
}

// RecordArtifact digests the artifact at path and records it.
func (r *Recorder) RecordArtifact(ctx context.Context, name string, args core.CacheArgs, path string) error {
	if r == nil || r.Catalog == nil {
		return nil
	}
	digest, size, err := Digest(path)
	if err != nil {
		return fmt.Errorf("digesting %s: %w", path, err)
	}
	return r.Catalog.Record(ctx, Entry{
		Path:           path,
		Name:           name,
		OutputDataType: string(args.OutputDataType),
		StorageType:    string(args.StorageType),
		Digest:         digest,
		Size:           size,
		RunID:          r.RunID,
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
