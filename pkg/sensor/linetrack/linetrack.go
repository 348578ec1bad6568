// Package linetrack follows a dark line on a light floor by thresholding the
// bottom band of the frame and steering toward the line's centroid.
package linetrack

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Config tunes line detection.
type Config struct {
	ROI         float64 // bottom fraction of the frame searched for the line
	Threshold   float32 // gray levels at or below this count as line
	MinFraction float64 // minimum share of ROI pixels that must be line
	Speed       float64
	Duration    float64
}

// DefaultConfig returns settings for black tape on a light floor.
func DefaultConfig() Config {
	return Config{
		ROI:         0.25,
		Threshold:   80,
		MinFraction: 0.01,
		Speed:       0.5,
		Duration:    0.1,
	}
}

// Module is the line-following sensor module.
type Module struct {
	cfg Config
}

// New creates a line tracker. An ROI outside (0, 1] falls back to the default.
func New(cfg Config) *Module {
	if cfg.ROI <= 0 || cfg.ROI > 1 {
		cfg.ROI = DefaultConfig().ROI
	}
	return &Module{cfg: cfg}
}

// Name implements sensor.Module.
func (m *Module) Name() string {
	return "linetrack"
}

// Update implements sensor.Module.
func (m *Module) Update(ctx context.Context, frame gocv.Mat) (sensor.Reading, bool, error) {
	if frame.Empty() {
		return sensor.Reading{}, false, nil
	}
	cx, ok, err := m.centroid(frame)
	if err != nil || !ok {
		return sensor.Reading{}, false, err
	}
	r := sensor.Steer((cx-0.5)*2, m.cfg.Speed)
	r.Duration = m.cfg.Duration
	return r, true, nil
}

// centroid returns the line's horizontal position in [0, 1].
func (m *Module) centroid(frame gocv.Mat) (float64, bool, error) {
	rows, cols := frame.Rows(), frame.Cols()
	top := rows - int(float64(rows)*m.cfg.ROI)
	if top >= rows {
		top = rows - 1
	}

	roi := frame.Region(image.Rect(0, top, cols, rows))
	defer roi.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	switch roi.Channels() {
	case 1:
		roi.CopyTo(&gray)
	case 3:
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
	default:
		return 0, false, fmt.Errorf("unsupported channel count %d", roi.Channels())
	}

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, m.cfg.Threshold, 255, gocv.ThresholdBinaryInv)

	mo := gocv.Moments(mask, true)
	area := mo["m00"]
	total := float64(mask.Rows() * mask.Cols())
	if total == 0 || area/total < m.cfg.MinFraction {
		return 0, false, nil
	}
	return mo["m10"] / area / float64(cols), true, nil
}

// Shutdown implements sensor.Module.
func (m *Module) Shutdown() error {
	return nil
}
