// Package sensor defines the per-frame contract every sensing module
// implements. Concrete modules live in subpackages.
package sensor

import (
	"context"

	"gocv.io/x/gocv"
)

// Reading is a module's steering opinion for one frame.
// Left and Right are signed fractions of full wheel speed (nominally
// within [-1, 1]); Duration is a hint in seconds.
type Reading struct {
	Left     float64
	Right    float64
	Duration float64
}

// Stop is the reading a module returns when its target is reached.
var Stop = Reading{}

// Module is a sensing module queried once per fusion cycle.
type Module interface {
	// Name identifies the module in logs.
	Name() string

	// Update inspects the frame. ok is false when the module saw nothing,
	// in which case the reading is ignored. The frame must not be retained
	// after Update returns.
	Update(ctx context.Context, frame gocv.Mat) (r Reading, ok bool, err error)

	// Shutdown releases the module's resources.
	Shutdown() error
}

// clamp restricts v to the range [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Steer converts a horizontal target offset into a differential-drive
// reading. offset is in [-1, 1] (negative = target left of centre); speed is
// the forward fraction. The inner wheel slows as the offset grows.
func Steer(offset, speed float64) Reading {
	offset = clamp(offset, -1, 1)
	left := speed * (1 + offset)
	right := speed * (1 - offset)
	return Reading{
		Left:  clamp(left, -1, 1),
		Right: clamp(right, -1, 1),
	}
}
