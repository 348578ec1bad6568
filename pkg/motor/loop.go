package motor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/control"
)

// ErrHardware wraps motor write failures. It is fatal for the actuator.
var ErrHardware = errors.New("motor hardware fault")

// Source provides the latest command. *control.Register implements it.
type Source interface {
	Load() control.Command
	Age() (time.Duration, bool)
}

// Config holds the actuation parameters.
type Config struct {
	WheelSpeed int           // power used for both wheels while searching
	Interval   time.Duration // pause between iterations; 0 runs back-to-back
	StaleAfter time.Duration // hold neutral when no command for this long; 0 disables
}

// Loop applies the latest command to the motors until cancelled.
type Loop struct {
	cfg    Config
	drv    Driver
	src    Source
	logger *slog.Logger

	mu         sync.Mutex
	iterations uint64
	stale      bool
	applied    [2]int
}

// NewLoop creates an actuation loop. The loop owns drv's neutral state.
func NewLoop(cfg Config, drv Driver, src Source, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cfg: cfg, drv: drv, src: src, logger: logger}
}

// Run drives the motors until ctx is cancelled, then resets them. A
// hardware write failure resets the motors as far as possible and returns
// an error wrapping ErrHardware.
func (l *Loop) Run(ctx context.Context) error {
	fmt.Printf("🚗 Actuator running (wheel speed %d)\n", l.cfg.WheelSpeed)

	var timer *time.Timer
	if l.cfg.Interval > 0 {
		timer = time.NewTimer(l.cfg.Interval)
		defer timer.Stop()
	}

	for {
		if ctx.Err() != nil {
			fmt.Println("🛑 Actuator stopping, motors to neutral")
			return l.Reset()
		}

		if err := l.Step(); err != nil {
			resetErr := l.Reset()
			return errors.Join(fmt.Errorf("%w: %v", ErrHardware, err), resetErr)
		}

		if timer != nil {
			select {
			case <-ctx.Done():
			case <-timer.C:
				timer.Reset(l.cfg.Interval)
			}
		}
	}
}

// Step applies the current command once.
func (l *Loop) Step() error {
	left, right := l.target()

	if err := l.drv.SetMotorPower(Left, left); err != nil {
		return fmt.Errorf("set %v motor: %w", Left, err)
	}
	if err := l.drv.SetMotorPower(Right, right); err != nil {
		return fmt.Errorf("set %v motor: %w", Right, err)
	}

	l.mu.Lock()
	l.iterations++
	l.applied = [2]int{left, right}
	l.mu.Unlock()
	return nil
}

// target picks the wheel powers for the current command.
func (l *Loop) target() (left, right int) {
	if l.isStale() {
		return 0, 0
	}
	cmd := l.src.Load()
	if cmd.SearchMode {
		return l.cfg.WheelSpeed, l.cfg.WheelSpeed
	}
	return cmd.LeftPower, cmd.RightPower
}

func (l *Loop) isStale() bool {
	if l.cfg.StaleAfter <= 0 {
		return false
	}
	age, ok := l.src.Age()
	stale := !ok || age > l.cfg.StaleAfter

	l.mu.Lock()
	changed := stale != l.stale
	l.stale = stale
	l.mu.Unlock()

	if changed {
		if stale {
			fmt.Println("⏸️  No fresh commands, holding neutral")
			l.logger.Warn("command stream stale, holding neutral", "stale_after", l.cfg.StaleAfter)
		} else {
			fmt.Println("▶️  Commands resumed")
			l.logger.Info("command stream resumed")
		}
	}
	return stale
}

// Reset puts both wheels in neutral. It is idempotent.
func (l *Loop) Reset() error {
	if err := l.drv.ResetAll(); err != nil {
		l.logger.Error("motor reset failed", "error", err)
		return fmt.Errorf("reset motors: %w", err)
	}
	l.mu.Lock()
	l.applied = [2]int{}
	l.mu.Unlock()
	return nil
}

// Applied returns the powers most recently written and the iteration count.
func (l *Loop) Applied() (left, right int, iterations uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[Left], l.applied[Right], l.iterations
}
