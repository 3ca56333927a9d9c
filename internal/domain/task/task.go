// Package task models asynchronous ingestion jobs and their state machine.
package task

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Status is the lifecycle state of an ingestion task.
type Status string

// Task statuses.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Well-known meta keys written by ingestion workers.
const (
	MetaFilename   = "filename"
	MetaURL        = "url"
	MetaResult     = "result"
	MetaChunks     = "chunks_created"
	MetaSourceType = "source_type"
	MetaError      = "error"
)

// MaxIDLength bounds task identifiers.
const MaxIDLength = 128

var transitions = map[Status][]Status{
	StatusQueued:     {StatusQueued, StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown task status %q", domain.ErrInvalidInput, s)
	}
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is one ingestion job record.
type Task struct {
	ID        string
	Status    Status
	Progress  int
	Meta      map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New validates the id and creates a queued task at progress 0.
func New(id string, meta map[string]string, now time.Time) (Task, error) {
	if strings.TrimSpace(id) == "" {
		return Task{}, fmt.Errorf("%w: task id is required", domain.ErrInvalidInput)
	}
	if len(id) > MaxIDLength {
		return Task{}, fmt.Errorf("%w: task id too long (max %d)", domain.ErrInvalidInput, MaxIDLength)
	}
	m := make(map[string]string, len(meta))
	maps.Copy(m, meta)
	return Task{
		ID:        id,
		Status:    StatusQueued,
		Meta:      m,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Patch is a partial update. Nil fields are left untouched; Meta entries are merged.
type Patch struct {
	Status   *Status
	Progress *int
	Meta     map[string]string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.Progress == nil && len(p.Meta) == 0
}

// WithStatus returns a patch setting only the status.
func WithStatus(s Status) Patch { return Patch{Status: &s} }

// WithProgress returns a patch setting only the progress.
func WithProgress(p int) Patch { return Patch{Progress: &p} }

// Apply returns t with p applied. Terminal tasks reject every non-empty patch.
// Progress must be within 0..100 and never moves backwards; a lower value is ignored.
// Completing a task pins progress to 100.
func (t Task) Apply(p Patch, now time.Time) (Task, error) {
	if p.Empty() {
		return t, nil
	}
	if t.Status.Terminal() {
		return t, fmt.Errorf("task %s: %w", t.ID, domain.ErrTaskTerminal)
	}

	next := t
	next.Meta = make(map[string]string, len(t.Meta)+len(p.Meta))
	maps.Copy(next.Meta, t.Meta)
	maps.Copy(next.Meta, p.Meta)

	if p.Status != nil {
		if _, err := ParseStatus(string(*p.Status)); err != nil {
			return t, err
		}
		if !t.Status.CanTransition(*p.Status) {
			return t, domain.NewTransitionError(string(t.Status), string(*p.Status))
		}
		next.Status = *p.Status
	}

	if p.Progress != nil {
		if *p.Progress < 0 || *p.Progress > 100 {
			return t, fmt.Errorf("%w: progress %d out of range 0..100", domain.ErrInvalidInput, *p.Progress)
		}
		next.Progress = max(next.Progress, *p.Progress)
	}

	if next.Status == StatusCompleted {
		next.Progress = 100
	}
	next.UpdatedAt = now
	return next, nil
}
