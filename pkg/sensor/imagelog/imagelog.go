// Package imagelog is a sensing module that only records frames to disk.
// It never reports a reading, so a rover running it alone stays in search
// mode while gathering training images.
package imagelog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Module writes every Nth frame as a JPEG file.
type Module struct {
	dir    string
	every  int
	n      int          // frames seen; Update calls never overlap
	saved  atomic.Int64 // read concurrently by Saved
	logger *slog.Logger
}

// New creates the directory if needed. every < 1 is treated as 1.
func New(dir string, every int, logger *slog.Logger) (*Module, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if every < 1 {
		every = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &Module{dir: dir, every: every, logger: logger}, nil
}

// Name implements sensor.Module.
func (m *Module) Name() string {
	return "imagelog"
}

// Update implements sensor.Module. Calls may come from different goroutines
// but never overlap.
func (m *Module) Update(ctx context.Context, frame gocv.Mat) (sensor.Reading, bool, error) {
	defer func() { m.n++ }()
	if frame.Empty() || m.n%m.every != 0 {
		return sensor.Reading{}, false, nil
	}

	path := filepath.Join(m.dir, fmt.Sprintf("frame-%06d.jpg", m.saved.Load()))
	if !gocv.IMWrite(path, frame) {
		return sensor.Reading{}, false, fmt.Errorf("write %s failed", path)
	}
	m.saved.Add(1)
	m.logger.Debug("frame saved", "path", path)
	return sensor.Reading{}, false, nil
}

// Saved returns how many frames have been written.
func (m *Module) Saved() int {
	return int(m.saved.Load())
}

// Shutdown implements sensor.Module.
func (m *Module) Shutdown() error {
	m.logger.Info("image log closed", "dir", m.dir, "saved", m.saved.Load())
	return nil
}
