package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

const (
	fieldID        = "task_id"
	fieldStatus    = "status"
	fieldProgress  = "progress"
	fieldMeta      = "meta"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// taskToHash converts a domain Task to a map for HSET.
func taskToHash(t domtask.Task) (map[string]string, error) {
	meta, err := json.Marshal(t.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return map[string]string{
		fieldID:        t.ID,
		fieldStatus:    string(t.Status),
		fieldProgress:  strconv.Itoa(t.Progress),
		fieldMeta:      string(meta),
		fieldCreatedAt: strconv.FormatInt(t.CreatedAt.UnixMilli(), 10),
		fieldUpdatedAt: strconv.FormatInt(t.UpdatedAt.UnixMilli(), 10),
	}, nil
}

// taskFromHash hydrates a domain Task from an HGETALL result map.
func taskFromHash(m map[string]string) (domtask.Task, error) {
	status, err := domtask.ParseStatus(m[fieldStatus])
	if err != nil {
		return domtask.Task{}, err
	}
	progress, err := strconv.Atoi(m[fieldProgress])
	if err != nil {
		return domtask.Task{}, fmt.Errorf("invalid progress: %w", err)
	}

	meta := map[string]string{}
	if raw := m[fieldMeta]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return domtask.Task{}, fmt.Errorf("unmarshal meta: %w", err)
		}
	}

	return domtask.Task{
		ID:        m[fieldID],
		Status:    status,
		Progress:  progress,
		Meta:      meta,
		CreatedAt: parseMillis(m[fieldCreatedAt]),
		UpdatedAt: parseMillis(m[fieldUpdatedAt]),
	}, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
