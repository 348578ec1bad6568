// Package camera captures frames from a local video device and prepares
// them for the fusion loop and the video feed.
package camera

// Config holds capture parameters.
type Config struct {
	Device        int // V4L2 device index
	CaptureWidth  int // requested native width, 0 = driver default
	CaptureHeight int
	Framerate     int

	// WorkingWidth is the width frames are resized to before the sensor
	// modules see them. Height follows the aspect ratio.
	WorkingWidth int

	Quality int // JPEG quality 1-100
}

// DefaultConfig returns 640x480 capture resized to a 400px working width.
func DefaultConfig() Config {
	return Config{
		Device:        0,
		CaptureWidth:  640,
		CaptureHeight: 480,
		Framerate:     30,
		WorkingWidth:  400,
		Quality:       80,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must be >= 0")
	}
	if c.CaptureWidth < 0 || c.CaptureHeight < 0 {
		errors = append(errors, "capture size must not be negative")
	}
	if c.WorkingWidth < 32 || c.WorkingWidth > 4096 {
		errors = append(errors, "working width must be between 32 and 4096")
	}
	if c.Framerate < 0 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 0 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}
