package camera

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the device produced no image.
var ErrNoFrame = errors.New("camera returned no frame")

// Source yields camera frames.
type Source interface {
	// Read fills dst with the next frame.
	Read(dst *gocv.Mat) error
	Close() error
}

// Device is a Source backed by an OpenCV video capture.
type Device struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	closed bool
}

// Open opens the configured video device.
func Open(cfg Config) (*Device, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", cfg.Device, err)
	}

	if cfg.CaptureWidth > 0 && cfg.CaptureHeight > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.CaptureWidth))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.CaptureHeight))
	}
	if cfg.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	}

	return &Device{cap: vc}, nil
}

// Read fills dst with the next frame.
func (d *Device) Read(dst *gocv.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("camera closed")
	}
	if ok := d.cap.Read(dst); !ok || dst.Empty() {
		return ErrNoFrame
	}
	return nil
}

// Close releases the device. Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.cap.Close()
}

// ResizeToWidth scales src into dst so that dst is width pixels wide,
// keeping the aspect ratio.
func ResizeToWidth(src gocv.Mat, dst *gocv.Mat, width int) {
	if src.Cols() == width {
		src.CopyTo(dst)
		return
	}
	height := src.Rows() * width / src.Cols()
	if height < 1 {
		height = 1
	}
	gocv.Resize(src, dst, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
}
