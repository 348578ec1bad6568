package objectdetect

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Detector finds objects in a frame. *YOLO implements it.
type Detector interface {
	Detect(img gocv.Mat) ([]Detection, error)
	Close() error
}

// Module steers toward the best detection of one class.
type Module struct {
	det      Detector
	class    int
	approach sensor.Approach
}

// New wraps det. class is the COCO class id to follow.
func New(det Detector, class int, approach sensor.Approach) *Module {
	return &Module{det: det, class: class, approach: approach}
}

// Name implements sensor.Module.
func (m *Module) Name() string {
	return "objectdetect"
}

// Update implements sensor.Module.
func (m *Module) Update(ctx context.Context, frame gocv.Mat) (sensor.Reading, bool, error) {
	dets, err := m.det.Detect(frame)
	if err != nil {
		return sensor.Reading{}, false, err
	}
	return m.decide(dets)
}

func (m *Module) decide(dets []Detection) (sensor.Reading, bool, error) {
	var matching []Detection
	for _, d := range dets {
		if d.ClassID == m.class {
			matching = append(matching, d)
		}
	}

	best := SelectBest(matching)
	if best == nil {
		return sensor.Reading{}, false, nil
	}
	cx, _ := best.Center()
	return m.approach.Toward(cx, best.Area()), true, nil
}

// Shutdown implements sensor.Module.
func (m *Module) Shutdown() error {
	return m.det.Close()
}
