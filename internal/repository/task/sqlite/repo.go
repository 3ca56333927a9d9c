// Package sqlite persists ingestion task records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingestion_tasks (
	task_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	progress   INTEGER NOT NULL DEFAULT 0,
	meta       TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Repo stores task records in the ingestion_tasks table.
type Repo struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory, opens the database in WAL mode and ensures the schema.
func Open(ctx context.Context, path string) (*Repo, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// single writer keeps SQLITE_BUSY out of concurrent updates
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Repo{db: db, path: path}, nil
}

// Path returns the database file path.
func (r *Repo) Path() string { return r.path }

// Create inserts a task; an existing id yields domain.ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, t domtask.Task) error {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO ingestion_tasks (task_id, status, progress, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO NOTHING`,
		t.ID, string(t.Status), t.Progress, string(meta),
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Get loads a task by id.
func (r *Repo) Get(ctx context.Context, id string) (domtask.Task, error) {
	var (
		status               string
		progress             int
		meta                 string
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT status, progress, meta, created_at, updated_at
		FROM ingestion_tasks WHERE task_id = ?`, id,
	).Scan(&status, &progress, &meta, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domtask.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domtask.Task{}, fmt.Errorf("querying task %s: %w", id, err)
	}

	st, err := domtask.ParseStatus(status)
	if err != nil {
		return domtask.Task{}, err
	}
	m := map[string]string{}
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &m); err != nil {
			return domtask.Task{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}

	return domtask.Task{
		ID:        id,
		Status:    st,
		Progress:  progress,
		Meta:      m,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, nil
}

// Save overwrites the mutable fields of an existing task.
func (r *Repo) Save(ctx context.Context, t domtask.Task) error {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE ingestion_tasks SET status = ?, progress = ?, meta = ?, updated_at = ?
		WHERE task_id = ?`,
		string(t.Status), t.Progress, string(meta), t.UpdatedAt.UnixMilli(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Clear deletes every task record.
func (r *Repo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM ingestion_tasks`); err != nil {
		return fmt.Errorf("clearing tasks: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *Repo) Close() error {
	return r.db.Close()
}
