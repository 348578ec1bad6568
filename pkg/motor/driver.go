// Package motor drives the rover's two wheels from the latest fused command.
package motor

import "fmt"

// MaxPower is the magnitude of full forward or reverse power.
const MaxPower = 100

// Side selects a wheel.
type Side int

// Wheels.
const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// Driver is the motor hardware contract.
type Driver interface {
	// SetMotorPower sets a wheel to power in [-MaxPower, MaxPower].
	// Out-of-range values are clamped.
	SetMotorPower(side Side, power int) error

	// ResetAll releases every output. It is safe to call in any state.
	ResetAll() error
}

func clampPower(p int) int {
	if p > MaxPower {
		return MaxPower
	}
	if p < -MaxPower {
		return -MaxPower
	}
	return p
}
