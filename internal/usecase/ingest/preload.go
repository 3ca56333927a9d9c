package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Preload submits every file directly under dirs that passes supported.
// Unlike SubmitFile it waits for queue capacity, so a large directory does not
// fail tasks with domain.ErrQueueFull. Missing directories are skipped.
// Returns the number of submitted files.
func (s *Service) Preload(ctx context.Context, dirs []string, supported func(filename string) bool) (int, error) {
	submitted := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(filepath.Clean(dir))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.Info("Preload directory not found", zap.String("dir", dir))
				continue
			}
			return submitted, fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !supported(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn("Skipping unreadable file", zap.String("path", path), zap.Error(err))
				continue
			}
			id, err := s.submitFile(ctx, data, e.Name(), true)
			if err != nil {
				return submitted, fmt.Errorf("submit %s: %w", path, err)
			}
			s.logger.Debug("Preload queued", zap.String("task_id", id), zap.String("path", path))
			submitted++
		}
	}
	s.logger.Info("Preload submitted", zap.Int("files", submitted), zap.Strings("dirs", dirs))
	return submitted, nil
}
