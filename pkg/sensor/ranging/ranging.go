// Package ranging is a sensor module that slows and stops the rover in
// front of obstacles using an ultrasonic distance sensor.
package ranging

import (
	"context"
	"errors"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Ranger measures the distance ahead in cm.
type Ranger interface {
	Distance() (float64, error)
	Close() error
}

// Config holds the distance thresholds.
type Config struct {
	StopCm   float64 // closer than this stops the rover
	SlowCm   float64 // closer than this slows it down
	Speed    float64 // forward fraction at SlowCm
	Duration float64
}

// DefaultConfig returns 20cm stop / 60cm slow thresholds.
func DefaultConfig() Config {
	return Config{StopCm: 20, SlowCm: 60, Speed: 0.5, Duration: 0.1}
}

// Module reports a reading only when an obstacle is within SlowCm; a clear
// path is an absent result.
type Module struct {
	r   Ranger
	cfg Config
}

// New wraps a ranger.
func New(r Ranger, cfg Config) *Module {
	return &Module{r: r, cfg: cfg}
}

// Name implements sensor.Module.
func (m *Module) Name() string {
	return "ranging"
}

// Update implements sensor.Module. The frame is not used.
func (m *Module) Update(ctx context.Context, _ gocv.Mat) (sensor.Reading, bool, error) {
	cm, err := m.r.Distance()
	if errors.Is(err, ErrNoEcho) {
		return sensor.Reading{}, false, nil
	}
	if err != nil {
		return sensor.Reading{}, false, err
	}
	return m.decide(cm)
}

func (m *Module) decide(cm float64) (sensor.Reading, bool, error) {
	switch {
	case cm <= 0 || cm >= m.cfg.SlowCm:
		return sensor.Reading{}, false, nil
	case cm <= m.cfg.StopCm:
		return sensor.Stop, true, nil
	default:
		frac := (cm - m.cfg.StopCm) / (m.cfg.SlowCm - m.cfg.StopCm)
		speed := m.cfg.Speed * frac
		return sensor.Reading{Left: speed, Right: speed, Duration: m.cfg.Duration}, true, nil
	}
}

// Shutdown implements sensor.Module.
func (m *Module) Shutdown() error {
	return m.r.Close()
}
