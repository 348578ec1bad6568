package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/camera"
	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/framebuf"
	"github.com/teslashibe/go-rover/pkg/gate"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// CommandWriter receives each fused command. *control.Writer implements it.
type CommandWriter interface {
	Write(cmd control.Command) error
	Reset() error
}

// Config holds the loop parameters.
type Config struct {
	WheelSpeed    int           // full-speed wheel power
	WorkingWidth  int           // frames are resized to this width
	ModuleTimeout time.Duration // 0 disables the bound
	JPEGQuality   int
	RetryDelay    time.Duration // pause after a failed camera read
}

// DefaultConfig returns the stock loop parameters.
func DefaultConfig() Config {
	return Config{
		WheelSpeed:    70,
		WorkingWidth:  400,
		ModuleTimeout: 500 * time.Millisecond,
		JPEGQuality:   80,
		RetryDelay:    100 * time.Millisecond,
	}
}

// Mode is the overlay state of a cycle.
type Mode string

// Cycle modes.
const (
	ModeSearching Mode = "searching"
	ModeTracking  Mode = "tracking"
)

// Stats is a snapshot of loop counters.
type Stats struct {
	Cycles       uint64           `json:"cycles"`
	CameraErrors uint64           `json:"camera_errors"`
	ModuleFaults map[string]int64 `json:"module_faults"`
	Mode         Mode             `json:"mode"`
	LastCommand  control.Command  `json:"last_command"`
}

// Loop is the sensor-fusion decision loop.
type Loop struct {
	cfg     Config
	cam     camera.Source
	modules []*guarded
	writer  CommandWriter
	frames  *framebuf.Buffer
	gate    *gate.Gate
	logger  *slog.Logger

	// owned by the Run goroutine
	last         control.Command
	mode         Mode
	cycles       uint64
	cameraErrors uint64

	statsCh chan chan Stats
}

// New creates a loop. modules is the one active configuration, queried in
// order every cycle.
func New(cfg Config, cam camera.Source, modules []sensor.Module, writer CommandWriter,
	frames *framebuf.Buffer, g *gate.Gate, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	guards := make([]*guarded, len(modules))
	for i, m := range modules {
		guards[i] = newGuarded(m, cfg.ModuleTimeout)
	}
	return &Loop{
		cfg:     cfg,
		cam:     cam,
		modules: guards,
		writer:  writer,
		frames:  frames,
		gate:    g,
		logger:  logger,
		statsCh: make(chan chan Stats),
	}
}

// Run executes fusion cycles until ctx is cancelled, then shuts down every
// module, closes the camera and publishes a neutral command.
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()

	l.logger.Info("fusion loop started",
		"modules", len(l.modules),
		"wheel_speed", l.cfg.WheelSpeed,
		"working_width", l.cfg.WorkingWidth,
	)

	raw := gocv.NewMat()
	defer raw.Close()
	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !l.gate.Enabled() {
			changed := l.gate.Changed()
			if l.gate.Enabled() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
			case reply := <-l.statsCh:
				reply <- l.snapshot()
			}
			continue
		}

		if err := l.cam.Read(&raw); err != nil {
			l.cameraErrors++
			if l.cameraErrors == 1 || l.cameraErrors%50 == 0 {
				l.logger.Warn("camera read failed", "error", err, "consecutive", l.cameraErrors)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.cfg.RetryDelay):
			}
			continue
		}
		l.cameraErrors = 0

		camera.ResizeToWidth(raw, &frame, l.cfg.WorkingWidth)
		l.Cycle(ctx, &frame)

		select {
		case reply := <-l.statsCh:
			reply <- l.snapshot()
		default:
		}
	}
}

// Cycle runs the sensor, fusion and publish steps on one prepared frame.
// Exported for tests and single-step tools; Run calls it once per frame.
// If ctx ends during the cycle nothing is written and the previous command
// is returned.
func (l *Loop) Cycle(ctx context.Context, frame *gocv.Mat) control.Command {
	l.cycles++

	readings := make([]sensor.Reading, 0, len(l.modules))
	for _, g := range l.modules {
		r, ok, err := g.update(ctx, *frame)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			l.logger.Warn("sensor module fault, skipping for this cycle",
				"module", g.mod.Name(),
				"error", err,
			)
			continue
		}
		if ok {
			readings = append(readings, r)
		}
	}

	// a cancelled cycle has partial readings; publish nothing
	if ctx.Err() != nil {
		return l.last
	}

	cmd, tracking := Fuse(readings, l.cfg.WheelSpeed, l.last)
	l.last = cmd

	if err := l.writer.Write(cmd); err != nil {
		l.logger.Error("publish command failed", "error", err)
	}

	mode := ModeSearching
	if tracking {
		mode = ModeTracking
	}
	l.setMode(mode, cmd)

	if TargetReached(cmd, tracking) {
		fmt.Printf("🏁 Target reached, navigation paused\n")
		l.gate.TargetReached()
	}

	l.publishFrame(frame, mode)
	return cmd
}

func (l *Loop) setMode(mode Mode, cmd control.Command) {
	if mode != l.mode {
		switch mode {
		case ModeSearching:
			fmt.Printf("🔍 Searching...\n")
		case ModeTracking:
			fmt.Printf("🎯 Tracking: left=%d right=%d\n", cmd.LeftPower, cmd.RightPower)
		}
		l.logger.Info("mode changed", "from", l.mode, "to", mode)
		l.mode = mode
	}
	l.logger.Debug("fused command",
		"mode", mode,
		"left", cmd.LeftPower,
		"right", cmd.RightPower,
		"duration", cmd.PowerDuration,
	)
}

func (l *Loop) publishFrame(frame *gocv.Mat, mode Mode) {
	if mode == ModeTracking {
		camera.Label(frame, string(mode), camera.ColorTracking)
	} else {
		camera.Label(frame, string(mode), camera.ColorSearching)
	}
	camera.Timestamp(frame, time.Now())

	data, err := camera.EncodeJPEG(*frame, l.cfg.JPEGQuality)
	if err != nil {
		l.logger.Warn("frame encode failed", "error", err)
		return
	}
	l.frames.Publish(data)
}

// Stats returns a snapshot of the loop counters. It is answered by the Run
// goroutine between cycles; ctx bounds the wait.
func (l *Loop) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case l.statsCh <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (l *Loop) snapshot() Stats {
	faults := make(map[string]int64, len(l.modules))
	for _, g := range l.modules {
		faults[g.mod.Name()] = g.faults.Load()
	}
	return Stats{
		Cycles:       l.cycles,
		CameraErrors: l.cameraErrors,
		ModuleFaults: faults,
		Mode:         l.mode,
		LastCommand:  l.last,
	}
}

func (l *Loop) shutdown() {
	for _, g := range l.modules {
		if err := g.mod.Shutdown(); err != nil {
			l.logger.Warn("module shutdown failed", "module", g.mod.Name(), "error", err)
		}
	}
	if err := l.cam.Close(); err != nil {
		l.logger.Warn("camera close failed", "error", err)
	}
	if err := l.writer.Reset(); err != nil && !errors.Is(err, context.Canceled) {
		l.logger.Warn("neutral reset failed", "error", err)
	}
	l.logger.Info("fusion loop stopped", "cycles", l.cycles)
}
