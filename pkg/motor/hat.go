package motor

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// pwmMax is the PCA9685's 12-bit full scale.
const pwmMax = 4095

// PWM is the subset of the PCA9685 used by the HAT. *pca9685.Dev
// implements it.
type PWM interface {
	SetPwm(channel int, on, off gpio.Duty) error
	SetFullOn(channel int) error
	SetFullOff(channel int) error
}

// hatPort maps one of the HAT's four DC motor terminals to its PWM and
// H-bridge direction channels.
type hatPort struct {
	pwm, in1, in2 int
}

var hatPorts = map[int]hatPort{
	1: {pwm: 8, in1: 10, in2: 9},
	2: {pwm: 13, in1: 11, in2: 12},
	3: {pwm: 2, in1: 4, in2: 3},
	4: {pwm: 7, in1: 5, in2: 6},
}

// HATConfig describes the wiring of the two wheels.
type HATConfig struct {
	Bus         string // I2C bus name, "" for the first one
	Address     uint16
	Frequency   physic.Frequency
	LeftPort    int // 1-4
	RightPort   int
	InvertLeft  bool
	InvertRight bool
}

// DefaultHATConfig matches an Adafruit DC motor HAT with the left wheel on
// M1 and the right wheel on M2.
func DefaultHATConfig() HATConfig {
	return HATConfig{
		Address:   0x60,
		Frequency: 1600 * physic.Hertz,
		LeftPort:  1,
		RightPort: 2,
	}
}

// HAT drives two DC motors through a PCA9685 PWM controller.
type HAT struct {
	mu     sync.Mutex
	pwm    PWM
	bus    i2c.BusCloser
	ports  [2]hatPort
	invert [2]bool
}

// NewHAT wraps an already initialised PWM controller.
func NewHAT(pwm PWM, cfg HATConfig) (*HAT, error) {
	left, ok := hatPorts[cfg.LeftPort]
	if !ok {
		return nil, fmt.Errorf("left port %d: must be 1-4", cfg.LeftPort)
	}
	right, ok := hatPorts[cfg.RightPort]
	if !ok {
		return nil, fmt.Errorf("right port %d: must be 1-4", cfg.RightPort)
	}
	if cfg.LeftPort == cfg.RightPort {
		return nil, errors.New("left and right ports must differ")
	}
	return &HAT{
		pwm:    pwm,
		ports:  [2]hatPort{left, right},
		invert: [2]bool{cfg.InvertLeft, cfg.InvertRight},
	}, nil
}

// OpenHAT opens the I2C bus, configures the PCA9685 and releases both
// motors.
func OpenHAT(cfg HATConfig) (*HAT, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Bus, err)
	}
	dev, err := pca9685.NewI2C(bus, cfg.Address)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("pca9685 at 0x%02x: %w", cfg.Address, err)
	}
	if err := dev.SetPwmFreq(cfg.Frequency); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set pwm frequency: %w", err)
	}

	h, err := NewHAT(dev, cfg)
	if err != nil {
		bus.Close()
		return nil, err
	}
	h.bus = bus
	if err := h.ResetAll(); err != nil {
		bus.Close()
		return nil, err
	}
	return h, nil
}

// SetMotorPower implements Driver.
func (h *HAT) SetMotorPower(side Side, power int) error {
	if side != Left && side != Right {
		return fmt.Errorf("unknown motor %v", side)
	}
	power = clampPower(power)
	if h.invert[side] {
		power = -power
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drive(h.ports[side], power)
}

func (h *HAT) drive(p hatPort, power int) error {
	if power == 0 {
		return h.release(p)
	}

	fwd, rev := p.in1, p.in2
	if power < 0 {
		fwd, rev = rev, fwd
		power = -power
	}
	duty := gpio.Duty(power * pwmMax / MaxPower)
	if err := h.pwm.SetFullOff(rev); err != nil {
		return err
	}
	if err := h.pwm.SetFullOn(fwd); err != nil {
		return err
	}
	return h.pwm.SetPwm(p.pwm, 0, duty)
}

func (h *HAT) release(p hatPort) error {
	return errors.Join(
		h.pwm.SetFullOff(p.in1),
		h.pwm.SetFullOff(p.in2),
		h.pwm.SetPwm(p.pwm, 0, 0),
	)
}

// ResetAll implements Driver. Every channel is attempted even if one fails.
func (h *HAT) ResetAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return errors.Join(h.release(h.ports[Left]), h.release(h.ports[Right]))
}

// Close releases the motors and the I2C bus.
func (h *HAT) Close() error {
	err := h.ResetAll()
	if h.bus != nil {
		err = errors.Join(err, h.bus.Close())
		h.bus = nil
	}
	return err
}
