package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Module fault reasons.
var (
	ErrModuleTimeout = errors.New("module update timed out")
	ErrModuleBusy    = errors.New("module still running a previous update")
	ErrModulePanic   = errors.New("module panicked")
)

type result struct {
	reading sensor.Reading
	ok      bool
	err     error
}

// guarded isolates one module: each call works on its own copy of the
// frame, panics become errors and a call is abandoned after the timeout.
// An abandoned call keeps the module busy until it returns.
type guarded struct {
	mod     sensor.Module
	timeout time.Duration

	busy   atomic.Bool
	faults atomic.Int64
	calls  atomic.Int64
}

func newGuarded(mod sensor.Module, timeout time.Duration) *guarded {
	return &guarded{mod: mod, timeout: timeout}
}

func (g *guarded) update(ctx context.Context, frame gocv.Mat) (sensor.Reading, bool, error) {
	if !g.busy.CompareAndSwap(false, true) {
		g.faults.Add(1)
		return sensor.Reading{}, false, ErrModuleBusy
	}
	g.calls.Add(1)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	clone := frame.Clone()
	done := make(chan result, 1)

	go func() {
		defer g.busy.Store(false)
		defer clone.Close()
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrModulePanic, p)}
			}
		}()

		r, ok, err := g.mod.Update(ctx, clone)
		done <- result{reading: r, ok: ok, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.faults.Add(1)
			return sensor.Reading{}, false, res.err
		}
		return res.reading, res.ok, nil
	case <-ctx.Done():
		g.faults.Add(1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return sensor.Reading{}, false, ErrModuleTimeout
		}
		return sensor.Reading{}, false, ctx.Err()
	}
}
