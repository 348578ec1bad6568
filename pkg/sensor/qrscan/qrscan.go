// Package qrscan is a sensor module that drives toward a QR code marker.
package qrscan

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

// Marker is a located QR code.
type Marker struct {
	Bounds  image.Rectangle
	Payload string
}

// Locator finds a QR code in a frame.
type Locator interface {
	Locate(img gocv.Mat) (Marker, bool)
	Close() error
}

// OpenCV locates markers with the OpenCV QR detector.
type OpenCV struct {
	mu  sync.Mutex
	det gocv.QRCodeDetector
}

// NewOpenCV creates an OpenCV-backed locator.
func NewOpenCV() *OpenCV {
	return &OpenCV{det: gocv.NewQRCodeDetector()}
}

// Locate implements Locator.
func (o *OpenCV) Locate(img gocv.Mat) (Marker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	points := gocv.NewMat()
	defer points.Close()
	straight := gocv.NewMat()
	defer straight.Close()

	payload := o.det.DetectAndDecode(img, &points, &straight)
	if points.Empty() {
		return Marker{}, false
	}

	corners, err := points.DataPtrFloat32()
	if err != nil || len(corners) < 8 {
		return Marker{}, false
	}
	return Marker{Bounds: boundsOf(corners), Payload: payload}, true
}

// Close releases the detector.
func (o *OpenCV) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.det.Close()
}

// boundsOf returns the axis-aligned box around x,y corner pairs.
func boundsOf(xy []float32) image.Rectangle {
	minX, minY := xy[0], xy[1]
	maxX, maxY := minX, minY
	for i := 2; i+1 < len(xy); i += 2 {
		x, y := xy[i], xy[i+1]
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	return image.Rect(int(minX), int(minY), int(maxX), int(maxY))
}

// Module steers toward the marker. When Payload is set, markers with a
// different decoded payload are ignored.
type Module struct {
	loc      Locator
	payload  string
	approach sensor.Approach
	logger   *slog.Logger

	lastPayload string
}

// New wraps a locator.
func New(loc Locator, payload string, approach sensor.Approach, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{loc: loc, payload: payload, approach: approach, logger: logger}
}

// Name implements sensor.Module.
func (m *Module) Name() string {
	return "qrscan"
}

// Update implements sensor.Module.
func (m *Module) Update(ctx context.Context, frame gocv.Mat) (sensor.Reading, bool, error) {
	marker, found := m.loc.Locate(frame)
	if !found || frame.Cols() == 0 {
		return sensor.Reading{}, false, nil
	}
	if marker.Payload != "" && marker.Payload != m.lastPayload {
		m.logger.Info("qr code decoded", "payload", marker.Payload)
		m.lastPayload = marker.Payload
	}
	if m.payload != "" && marker.Payload != m.payload {
		return sensor.Reading{}, false, nil
	}

	w := float64(frame.Cols())
	cx := (float64(marker.Bounds.Min.X) + float64(marker.Bounds.Dx())/2) / w
	size := float64(marker.Bounds.Dx()) / w
	return m.approach.Toward(cx, size), true, nil
}

// Shutdown implements sensor.Module.
func (m *Module) Shutdown() error {
	return m.loc.Close()
}
