// Package config loads the rover configuration document shared by the
// navigator and actuator binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for optional settings.
const (
	DefaultWheelSpeed    = 70
	DefaultWorkingWidth  = 400
	DefaultWebPort       = 5000
	DefaultTopicPrefix   = "rover"
	DefaultModuleTimeout = 500 * time.Millisecond
)

// Config is the full configuration document.
// The three top-level keys imageoutput, ip and port are required.
type Config struct {
	// ImageOutput selects the image-logging sensor configuration instead of
	// the navigation sensor set.
	ImageOutput *bool `yaml:"imageoutput"`

	// IP and Port locate the remote endpoint the ready listener connects to.
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`

	Camera   CameraConfig   `yaml:"camera"`
	Fusion   FusionConfig   `yaml:"fusion"`
	Listener ListenerConfig `yaml:"listener"`
	Control  ControlConfig  `yaml:"control"`
	Motor    MotorConfig    `yaml:"motor"`
	Actuator ActuatorConfig `yaml:"actuator"`
	Web      WebConfig      `yaml:"web"`
	Sensors  SensorsConfig  `yaml:"sensors"`
}

// CameraConfig configures frame capture.
type CameraConfig struct {
	Device       int `yaml:"device"`
	Width        int `yaml:"width"` // working width after resize
	JPEGQuality  int `yaml:"jpeg_quality"`
	RetryDelayMs int `yaml:"retry_delay_ms"`
}

// FusionConfig configures the decision loop.
type FusionConfig struct {
	WheelSpeed    int           `yaml:"wheel_speed"`
	ModuleTimeout time.Duration `yaml:"module_timeout"`
}

// ListenerConfig configures the ready-signal listener.
type ListenerConfig struct {
	Transport  string        `yaml:"transport"` // "mqtt" or "websocket"
	Prefix     string        `yaml:"prefix"`
	ClientID   string        `yaml:"client_id"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ControlConfig configures the command link between the two processes.
type ControlConfig struct {
	Broker   string `yaml:"broker"`
	Prefix   string `yaml:"prefix"`
	ClientID string `yaml:"client_id"`
}

// MotorConfig describes the PCA9685 motor HAT.
type MotorConfig struct {
	I2CBus       string `yaml:"i2c_bus"`
	Address      uint16 `yaml:"address"`
	PWMFrequency int    `yaml:"pwm_frequency"` // Hz
	LeftMotor    int    `yaml:"left_motor"`    // HAT motor port 1-4
	RightMotor   int    `yaml:"right_motor"`
	InvertLeft   bool   `yaml:"invert_left"`
	InvertRight  bool   `yaml:"invert_right"`
}

// ActuatorConfig configures the actuation loop.
type ActuatorConfig struct {
	LoopInterval time.Duration `yaml:"loop_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// WebConfig configures the streaming interface.
type WebConfig struct {
	Port int `yaml:"port"`
}

// SensorsConfig configures the concrete sensor modules.
type SensorsConfig struct {
	// Modules lists the navigation modules. It defaults to NavigationModules;
	// a subset is allowed for bench runs but must keep that order. Ignored
	// when imageoutput is true.
	Modules        []string `yaml:"modules"`
	ModelPath      string   `yaml:"model_path"`
	QRPayload      string   `yaml:"qr_payload"` // empty follows any code
	TargetClass    int      `yaml:"target_class"`
	TrigPin        string   `yaml:"trig_pin"`
	EchoPin        string   `yaml:"echo_pin"`
	StopDistanceCm float64  `yaml:"stop_distance_cm"`
	SlowDistanceCm float64  `yaml:"slow_distance_cm"`
	LineROI        float64  `yaml:"line_roi"` // bottom fraction of the frame
	ImageDir       string   `yaml:"image_dir"`
	ImageEvery     int      `yaml:"image_every"`
}

// DefaultConfig returns a Config with every optional setting filled in.
func DefaultConfig() Config {
	return Config{
		Camera: CameraConfig{
			Device:       0,
			Width:        DefaultWorkingWidth,
			JPEGQuality:  80,
			RetryDelayMs: 100,
		},
		Fusion: FusionConfig{
			WheelSpeed:    DefaultWheelSpeed,
			ModuleTimeout: DefaultModuleTimeout,
		},
		Listener: ListenerConfig{
			Transport:  "mqtt",
			Prefix:     DefaultTopicPrefix,
			ClientID:   "rover-listener",
			MaxBackoff: 30 * time.Second,
		},
		Control: ControlConfig{
			Broker:   "tcp://localhost:1883",
			Prefix:   DefaultTopicPrefix,
			ClientID: "rover",
		},
		Motor: MotorConfig{
			I2CBus:       "",
			Address:      0x60,
			PWMFrequency: 1600,
			LeftMotor:    1,
			RightMotor:   2,
		},
		Web: WebConfig{Port: DefaultWebPort},
		Sensors: SensorsConfig{
			Modules:        append([]string(nil), NavigationModules...),
			ModelPath:      "models/yolov8n.onnx",
			TargetClass:    0,
			TrigPin:        "GPIO23",
			EchoPin:        "GPIO24",
			StopDistanceCm: 20,
			SlowDistanceCm: 60,
			LineROI:        0.25,
			ImageDir:       "images",
			ImageEvery:     1,
		},
	}
}

// Load reads the YAML document at path on top of DefaultConfig, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document from memory.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrMissingKey is wrapped by Validate for each absent required key.
var ErrMissingKey = errors.New("missing required config key")

// Validate checks required keys and value ranges.
func (c *Config) Validate() error {
	if c.ImageOutput == nil {
		return fmt.Errorf("%w: imageoutput", ErrMissingKey)
	}
	if c.IP == "" {
		return fmt.Errorf("%w: ip", ErrMissingKey)
	}
	if c.Port == 0 {
		return fmt.Errorf("%w: port", ErrMissingKey)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", c.Port)
	}
	if c.Fusion.WheelSpeed <= 0 || c.Fusion.WheelSpeed > 100 {
		return fmt.Errorf("fusion.wheel_speed must be 1-100, got %d", c.Fusion.WheelSpeed)
	}
	if c.Camera.Width <= 0 {
		return fmt.Errorf("camera.width must be positive, got %d", c.Camera.Width)
	}
	if c.Listener.Transport != "mqtt" && c.Listener.Transport != "websocket" {
		return fmt.Errorf("listener.transport must be 'mqtt' or 'websocket', got '%s'", c.Listener.Transport)
	}
	if c.Motor.LeftMotor < 1 || c.Motor.LeftMotor > 4 || c.Motor.RightMotor < 1 || c.Motor.RightMotor > 4 {
		return fmt.Errorf("motor ports must be 1-4, got left=%d right=%d", c.Motor.LeftMotor, c.Motor.RightMotor)
	}
	if c.Motor.LeftMotor == c.Motor.RightMotor {
		return fmt.Errorf("motor.left_motor and motor.right_motor must differ")
	}
	if c.Sensors.StopDistanceCm <= 0 || c.Sensors.SlowDistanceCm <= c.Sensors.StopDistanceCm {
		return fmt.Errorf("sensors: need 0 < stop_distance_cm < slow_distance_cm, got %v and %v",
			c.Sensors.StopDistanceCm, c.Sensors.SlowDistanceCm)
	}
	if !c.ImageLogging() && len(c.Sensors.Modules) == 0 {
		return fmt.Errorf("sensors.modules must name at least one module")
	}
	if err := checkModuleOrder(c.Sensors.Modules); err != nil {
		return err
	}
	return nil
}

// NavigationModules is the navigation module set in query order.
var NavigationModules = []string{"objectdetect", "qrscan", "ranging", "linetrack"}

// checkModuleOrder rejects unknown and repeated names and any order other
// than NavigationModules'.
func checkModuleOrder(names []string) error {
	next := 0
	for _, name := range names {
		pos := slices.Index(NavigationModules, name)
		switch {
		case pos < 0:
			return fmt.Errorf("sensors.modules: unknown module '%s'", name)
		case pos < next:
			return fmt.Errorf("sensors.modules: '%s' repeated or out of order, want order %v", name, NavigationModules)
		}
		next = pos + 1
	}
	return nil
}

// ImageLogging reports whether the image-logging configuration is active.
func (c *Config) ImageLogging() bool {
	return c.ImageOutput != nil && *c.ImageOutput
}

// Endpoint returns the listener endpoint as host:port.
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}
