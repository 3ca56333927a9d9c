package postgres

import (
	"time"

	"github.com/uptrace/bun"

	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

// taskRow maps the ingestion_tasks table.
type taskRow struct {
	bun.BaseModel `bun:"table:ingestion_tasks,alias:t"`

	TaskID    string            `bun:"task_id,pk"`
	Status    string            `bun:"status,notnull"`
	Progress  int               `bun:"progress,notnull,default:0"`
	Meta      map[string]string `bun:"meta,type:jsonb,notnull"`
	CreatedAt time.Time         `bun:"created_at,notnull"`
	UpdatedAt time.Time         `bun:"updated_at,notnull"`
}

func rowFromTask(t domtask.Task) *taskRow {
	meta := t.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return &taskRow{
		TaskID:    t.ID,
		Status:    string(t.Status),
		Progress:  t.Progress,
		Meta:      meta,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func (r *taskRow) toTask() (domtask.Task, error) {
	st, err := domtask.ParseStatus(r.Status)
	if err != nil {
		return domtask.Task{}, err
	}
	meta := r.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return domtask.Task{
		ID:        r.TaskID,
		Status:    st,
		Progress:  r.Progress,
		Meta:      meta,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}
