// Package ingest runs asynchronous ingestion jobs on a bounded worker pool and
// reports their progress through the task ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	domtask "github.com/kailas-cloud/ragdex/internal/domain/task"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/metrics"
	"github.com/kailas-cloud/ragdex/internal/usecase/pipeline"
)

// Pool defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

const progressStarted = 10

// ErrStopped is returned when a job is submitted after Stop.
var ErrStopped = errors.New("ingestion pool stopped")

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

type jobKind int

const (
	jobFile jobKind = iota
	jobURL
)

type job struct {
	id       string
	kind     jobKind
	filename string
	data     []byte
	url      string
}

func (j job) source() string {
	if j.kind == jobURL {
		return j.url
	}
	return j.filename
}

// Service accepts ingestion jobs and processes them in the background.
type Service struct {
	pipeline Pipeline
	ledger   Ledger
	fetcher  Fetcher
	workers  int
	queue    chan job
	newID    func() string
	logger   *zap.Logger

	mu      sync.RWMutex
	stopped bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an ingestion service. fetcher may be nil when URL ingestion is disabled.
func New(p Pipeline, l Ledger, fetcher Fetcher, cfg Config, log *zap.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pipeline: p,
		ledger:   l,
		fetcher:  fetcher,
		workers:  cfg.Workers,
		queue:    make(chan job, cfg.QueueSize),
		newID:    uuid.NewString,
		logger:   log,
	}
}

// Start launches the workers. Jobs run under ctx; canceling it aborts in-flight work.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	s.logger.Info("Ingestion workers started", zap.Int("workers", s.workers), zap.Int("queue_size", cap(s.queue)))
}

// Stop rejects new jobs and waits for queued ones to finish.
// When ctx expires first, in-flight jobs are canceled.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.queue)
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
		return fmt.Errorf("stop ingestion workers: %w", ctx.Err())
	}
}

// SubmitFile registers a task for raw file bytes and enqueues it.
func (s *Service) SubmitFile(ctx context.Context, data []byte, filename string) (string, error) {
	return s.submitFile(ctx, data, filename, false)
}

func (s *Service) submitFile(ctx context.Context, data []byte, filename string, wait bool) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename is required: %w", domain.ErrInvalidInput)
	}
	j := job{kind: jobFile, filename: filename, data: data}
	return s.submit(ctx, j, map[string]string{domtask.MetaFilename: filename}, wait)
}

// SubmitURL validates the URL, registers a task and enqueues it.
// Unsafe destinations are rejected before any task is created.
func (s *Service) SubmitURL(ctx context.Context, rawURL string) (string, error) {
	if s.fetcher == nil {
		return "", fmt.Errorf("url ingestion is disabled: %w", domain.ErrInvalidInput)
	}
	target, err := s.fetcher.Check(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("check url: %w", err)
	}
	j := job{kind: jobURL, url: target}
	return s.submit(ctx, j, map[string]string{domtask.MetaURL: target}, false)
}

// submit registers j and enqueues it. When wait is false a full queue fails the
// task with domain.ErrQueueFull; otherwise it blocks until a slot frees up or ctx ends.
func (s *Service) submit(ctx context.Context, j job, meta map[string]string, wait bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return "", ErrStopped
	}

	j.id = s.newID()
	if _, err := s.ledger.Register(ctx, j.id, meta); err != nil {
		return "", fmt.Errorf("register task: %w", err)
	}

	if wait {
		select {
		case s.queue <- j:
			metrics.IngestionQueueDepth.Set(float64(len(s.queue)))
			return j.id, nil
		case <-ctx.Done():
			s.fail(context.WithoutCancel(ctx), j.id, "canceled before enqueue", "")
			return j.id, fmt.Errorf("enqueue: %w", ctx.Err())
		}
	}

	select {
	case s.queue <- j:
		metrics.IngestionQueueDepth.Set(float64(len(s.queue)))
		return j.id, nil
	default:
		s.fail(ctx, j.id, domain.ErrQueueFull.Error(), "")
		s.logger.Warn("Ingestion queue full", zap.String("task_id", j.id), zap.String("source", j.source()))
		return j.id, domain.ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, workerID int) {
	for j := range s.queue {
		metrics.IngestionQueueDepth.Set(float64(len(s.queue)))
		if ctx.Err() != nil {
			s.fail(context.WithoutCancel(ctx), j.id, "canceled before start", "")
			continue
		}
		s.run(ctx, workerID, j)
	}
}

func (s *Service) run(ctx context.Context, workerID int, j job) {
	ctx, log := logger.WithTask(ctx, s.logger, j.id, j.source())
	log = log.With(zap.Int("worker", workerID))

	if _, err := s.ledger.Update(ctx, j.id, domtask.Patch{
		Status:   ptr(domtask.StatusProcessing),
		Progress: ptr(progressStarted),
	}); err != nil {
		log.Error("Failed to mark task processing", zap.Error(err))
		return
	}

	opts := pipeline.IngestOptions{
		Mode: pipeline.ModeAsync,
		Progress: func(p int) {
			if _, err := s.ledger.Update(ctx, j.id, domtask.WithProgress(p)); err != nil {
				log.Warn("Failed to record progress", zap.Int("progress", p), zap.Error(err))
			}
		},
	}

	var (
		res domain.IngestResult
		err error
	)
	switch j.kind {
	case jobURL:
		opts.Mode = pipeline.ModeURL
		var text string
		text, err = s.fetcher.FetchText(ctx, j.url)
		if err == nil {
			res, err = s.pipeline.AddText(ctx, text, j.url, domain.SourceTypeURL, opts)
		}
	default:
		res, err = s.pipeline.AddDocument(ctx, j.data, j.filename, opts)
	}

	// Ledger writes outlive a canceled job so the final state is recorded.
	final := context.WithoutCancel(ctx)
	switch {
	case err != nil:
		log.Error("Ingestion failed", zap.Error(err))
		s.fail(final, j.id, err.Error(), res.SourceType)
	case res.Status == domain.IngestStatusEmpty:
		log.Info("Nothing to ingest")
		s.fail(final, j.id, domain.ErrNoExtractableText.Error(), res.SourceType, domtask.MetaResult, domain.IngestStatusEmpty)
	default:
		_, uerr := s.ledger.Update(final, j.id, domtask.Patch{
			Status: ptr(domtask.StatusCompleted),
			Meta: map[string]string{
				domtask.MetaResult:     res.Status,
				domtask.MetaChunks:     strconv.Itoa(res.ChunksCreated),
				domtask.MetaSourceType: res.SourceType,
			},
		})
		if uerr != nil {
			log.Error("Failed to mark task completed", zap.Error(uerr))
			return
		}
		log.Info("Ingestion completed", zap.Int("chunks", res.ChunksCreated))
	}
}

// fail marks the task failed. extra holds additional meta key/value pairs.
func (s *Service) fail(ctx context.Context, id, reason, sourceType string, extra ...string) {
	meta := map[string]string{
		domtask.MetaError:  reason,
		domtask.MetaResult: domain.IngestStatusFailed,
	}
	if sourceType != "" {
		meta[domtask.MetaSourceType] = sourceType
	}
	for i := 0; i+1 < len(extra); i += 2 {
		meta[extra[i]] = extra[i+1]
	}
	if _, err := s.ledger.Update(ctx, id, domtask.Patch{
		Status: ptr(domtask.StatusFailed),
		Meta:   meta,
	}); err != nil {
		s.logger.Error("Failed to mark task failed", zap.String("task_id", id), zap.Error(err))
	}
}

func ptr[T any](v T) *T { return &v }
