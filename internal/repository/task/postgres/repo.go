// Package postgres persists ingestion task records in PostgreSQL through bun.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

// Config holds connection parameters.
type Config struct {
	DSN   string
	Debug bool // log every query through bundebug
}

// Repo stores task records in the ingestion_tasks table.
type Repo struct {
	db *bun.DB
}

// Open connects, optionally installs the query logger and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*Repo, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	bdb := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		bdb.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	r := &Repo{db: bdb}
	if err := r.migrate(ctx); err != nil {
		bdb.Close()
		return nil, err
	}
	return r, nil
}

// NewWithDB wraps an existing bun handle (tests, shared pools).
func NewWithDB(bdb *bun.DB) *Repo {
	return &Repo{db: bdb}
}

func (r *Repo) migrate(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*taskRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating ingestion_tasks: %w", err)
	}
	return nil
}

// Create inserts a task; an existing id yields domain.ErrAlreadyExists.
func (r *Repo) Create(ctx context.Context, t domtask.Task) error {
	res, err := r.db.NewInsert().
		Model(rowFromTask(t)).
		On("CONFLICT (task_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Get loads a task by id.
func (r *Repo) Get(ctx context.Context, id string) (domtask.Task, error) {
	row := new(taskRow)
	err := r.db.NewSelect().Model(row).Where("task_id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domtask.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domtask.Task{}, fmt.Errorf("querying task %s: %w", id, err)
	}
	return row.toTask()
}

// Save overwrites the mutable fields of an existing task.
func (r *Repo) Save(ctx context.Context, t domtask.Task) error {
	res, err := r.db.NewUpdate().
		Model(rowFromTask(t)).
		Column("status", "progress", "meta", "updated_at").
		WherePK().
		Exec(ctx)
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
	if _, err := r.db.NewTruncateTable().Model((*taskRow)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("clearing tasks: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	return r.db.Close()
}

// isUniqueViolation matches SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
