// Package fusion runs the decision loop: it turns camera frames and a set
// of sensor modules into wheel-power commands.
package fusion

import (
	"math"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Mean returns the per-axis arithmetic mean of readings.
// It panics on an empty slice; callers check for presence first.
func Mean(readings []sensor.Reading) sensor.Reading {
	var sum sensor.Reading
	for _, r := range readings {
		sum.Left += r.Left
		sum.Right += r.Right
		sum.Duration += r.Duration
	}
	n := float64(len(readings))
	if n == 0 {
		panic("fusion: mean of no readings")
	}
	return sensor.Reading{
		Left:     sum.Left / n,
		Right:    sum.Right / n,
		Duration: sum.Duration / n,
	}
}

// Power converts a multiplier to a wheel power, rounding half away from zero.
func Power(wheelSpeed int, multiplier float64) int {
	return int(math.Round(float64(wheelSpeed) * multiplier))
}

// Fuse computes the next command from the present readings of one cycle.
//
// With no readings the command enters search mode and keeps prev's powers
// and duration. Otherwise the powers are the rounded means. tracking is
// true when at least one reading was present.
func Fuse(readings []sensor.Reading, wheelSpeed int, prev control.Command) (cmd control.Command, tracking bool) {
	if len(readings) == 0 {
		return control.Command{
			LeftPower:     prev.LeftPower,
			RightPower:    prev.RightPower,
			PowerDuration: prev.PowerDuration,
			SearchMode:    true,
		}, false
	}

	m := Mean(readings)
	return control.Command{
		LeftPower:     Power(wheelSpeed, m.Left),
		RightPower:    Power(wheelSpeed, m.Right),
		PowerDuration: m.Duration,
		SearchMode:    false,
	}, true
}

// TargetReached reports whether a tracking command stops both wheels.
func TargetReached(cmd control.Command, tracking bool) bool {
	return tracking && cmd.LeftPower == 0 && cmd.RightPower == 0
}
