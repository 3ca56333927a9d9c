package task

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	dbRedis "github.com/kailas-cloud/ragdex/internal/db/redis"
	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
)

func newTask(t *testing.T, id string) domtask.Task {
	t.Helper()
	tk, err := domtask.New(id, map[string]string{domtask.MetaFilename: "report.pdf"}, time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatalf("domtask.New: %v", err)
	}
	return tk
}

func TestCreateAndGet(t *testing.T) {
	ms := newMemStore()
	r := New(ms, "")
	ctx := context.Background()

	if err := r.Create(ctx, newTask(t, "t1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "t1" || got.Status != domtask.StatusQueued || got.Progress != 0 {
		t.Errorf("unexpected task %+v", got)
	}
	if got.Meta[domtask.MetaFilename] != "report.pdf" {
		t.Errorf("meta not round-tripped: %v", got.Meta)
	}
	if got.CreatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("created_at not round-tripped: %v", got.CreatedAt)
	}
	if _, ok := ms.hashes[DefaultKeyPrefix+"t1"]; !ok {
		t.Error("expected default key prefix")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	r := New(newMemStore(), "p:")
	ctx := context.Background()

	if err := r.Create(ctx, newTask(t, "dup")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := r.Create(ctx, newTask(t, "dup"))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_RollbackOnSaveFailure(t *testing.T) {
	ms := newMemStore()
	ms.hsetErr = errors.New("OOM")
	r := New(ms, "p:")

	if err := r.Create(context.Background(), newTask(t, "t1")); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := ms.hashes["p:t1"]; ok {
		t.Error("claimed key must be removed after failed save")
	}
}

func TestGet_NotFound(t *testing.T) {
	r := New(newMemStore(), "p:")
	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_ClaimWithoutStatus(t *testing.T) {
	ms := newMemStore()
	ms.hashes["p:half"] = map[string]string{fieldID: "half"}
	r := New(ms, "p:")

	if _, err := r.Get(context.Background(), "half"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for in-flight create, got %v", err)
	}
}

func TestSave_PreservesCreatedAt(t *testing.T) {
	ms := newMemStore()
	r := New(ms, "p:")
	ctx := context.Background()
	tk := newTask(t, "t1")
	if err := r.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next, err := tk.Apply(domtask.Patch{
		Status:   ptr(domtask.StatusProcessing),
		Progress: intPtr(40),
	}, time.UnixMilli(1700000005000))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	next.CreatedAt = time.Time{}
	if err := r.Save(ctx, next); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := r.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domtask.StatusProcessing || got.Progress != 40 {
		t.Errorf("unexpected state %s/%d", got.Status, got.Progress)
	}
	if got.CreatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("created_at overwritten: %v", got.CreatedAt)
	}
	if got.UpdatedAt.UnixMilli() != 1700000005000 {
		t.Errorf("updated_at not saved: %v", got.UpdatedAt)
	}
}

func TestSave_AfterClearIsNotFound(t *testing.T) {
	ms := newMemStore()
	r := New(ms, "p:")
	ctx := context.Background()
	tk := newTask(t, "t1")
	if err := r.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	next, err := tk.Apply(domtask.Patch{Status: ptr(domtask.StatusProcessing)}, time.UnixMilli(1700000005000))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := r.Save(ctx, next); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := ms.hashes["p:t1"]; ok {
		t.Error("Save recreated a cleared task")
	}
}

func TestSave_GuardedWriteOnRedis(t *testing.T) {
	tests := []struct {
		name    string
		reply   int64
		wantErr error
	}{
		{"existing task", 1, nil},
		{"cleared task", 0, domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)

			c.EXPECT().
				Do(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, cmd rueidis.Completed) rueidis.RedisResult {
					args := cmd.Commands()
					if args[0] != "EVAL" || args[3] != "p:t1" || args[4] != "task_id" {
						t.Errorf("unexpected command %v", args)
					}
					if slices.Contains(args, "created_at") {
						t.Error("created_at must not be rewritten")
					}
					return mock.Result(mock.RedisInt64(tt.reply))
				})

			r := New(dbRedis.NewStoreForTest(c), "p:")
			err := r.Save(context.Background(), newTask(t, "t1"))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Save: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClear(t *testing.T) {
	ms := newMemStore()
	ms.hashes["other:keep"] = map[string]string{"x": "y"}
	r := New(ms, "p:")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := r.Create(ctx, newTask(t, id)); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := r.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, err := r.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected task gone, got %v", err)
	}
	if _, ok := ms.hashes["other:keep"]; !ok {
		t.Error("Clear removed a key outside the prefix")
	}
}

func TestClear_ScanError(t *testing.T) {
	ms := newMemStore()
	ms.scanErr = errors.New("timeout")
	r := New(ms, "p:")
	if err := r.Clear(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestTaskFromHash_Invalid(t *testing.T) {
	tests := []map[string]string{
		{fieldStatus: "bogus", fieldProgress: "0"},
		{fieldStatus: "queued", fieldProgress: "x"},
		{fieldStatus: "queued", fieldProgress: "0", fieldMeta: "{"},
	}
	for _, m := range tests {
		if _, err := taskFromHash(m); err == nil {
			t.Errorf("expected error for %v", m)
		}
	}
}

func ptr(s domtask.Status) *domtask.Status { return &s }

func intPtr(i int) *int { return &i }
