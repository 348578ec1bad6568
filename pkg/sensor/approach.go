package sensor

import "math"

// Approach steers toward a visual target and stops in front of it.
type Approach struct {
	Speed           float64 // forward fraction while far away
	StopSize        float64 // apparent size (0-1) at which the target is reached
	CenterTolerance float64 // |offset| below which the target counts as centred
	Duration        float64 // duration hint attached to every reading
}

// DefaultApproach returns a cautious approach policy.
func DefaultApproach() Approach {
	return Approach{
		Speed:           0.6,
		StopSize:        0.25,
		CenterTolerance: 0.15,
		Duration:        0.1,
	}
}

// Toward returns the reading for a target centred at cx (0 = left edge,
// 1 = right edge) with apparent size in [0, 1]. Speed falls off as the
// target grows; once it is large and centred the reading is Stop.
func (a Approach) Toward(cx, size float64) Reading {
	offset := clamp((cx-0.5)*2, -1, 1)
	if size >= a.StopSize {
		if math.Abs(offset) < a.CenterTolerance {
			return Stop
		}
		// close but off-centre: turn in place toward it
		r := Reading{Left: a.Speed * offset, Right: -a.Speed * offset}
		r.Duration = a.Duration
		return r
	}

	speed := a.Speed * (1 - size/a.StopSize)
	r := Steer(offset, speed)
	r.Duration = a.Duration
	return r
}
