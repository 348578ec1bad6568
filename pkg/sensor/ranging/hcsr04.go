package ranging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// ErrNoEcho means no echo came back in time: nothing within range.
var ErrNoEcho = errors.New("no echo")

const (
	// speedOfSound in cm/s at ~20°C.
	speedOfSound = 34300.0

	triggerPulse = 10 * time.Microsecond
	echoStart    = 30 * time.Millisecond
	// maxEcho covers the sensor's 4m range round trip.
	maxEcho = 25 * time.Millisecond
)

// HCSR04 is an ultrasonic ranger wired to two GPIO pins.
type HCSR04 struct {
	mu   sync.Mutex
	trig gpio.PinOut
	echo gpio.PinIn
}

// OpenHCSR04 initializes periph and claims the trigger and echo pins by
// name (e.g. "GPIO23").
func OpenHCSR04(trigName, echoName string) (*HCSR04, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	trig := gpioreg.ByName(trigName)
	if trig == nil {
		return nil, fmt.Errorf("trigger pin %q not found", trigName)
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, fmt.Errorf("echo pin %q not found", echoName)
	}

	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure trigger %s: %w", trigName, err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("configure echo %s: %w", echoName, err)
	}

	return &HCSR04{trig: trig, echo: echo}, nil
}

// Distance fires one ping and returns the measured distance in cm.
func (h *HCSR04) Distance() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.trig.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(triggerPulse)
	if err := h.trig.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("trigger low: %w", err)
	}

	// wait for the echo line to rise
	deadline := time.Now().Add(echoStart)
	for h.echo.Read() != gpio.High {
		remaining := time.Until(deadline)
		if remaining <= 0 || !h.echo.WaitForEdge(remaining) {
			return 0, ErrNoEcho
		}
	}
	start := time.Now()

	if !h.echo.WaitForEdge(maxEcho) {
		return 0, ErrNoEcho
	}
	return EchoToCm(time.Since(start)), nil
}

// Close releases the echo pin's edge detection.
func (h *HCSR04) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.echo.Halt()
}

// EchoToCm converts an echo pulse width to a one-way distance.
func EchoToCm(d time.Duration) float64 {
	return d.Seconds() * speedOfSound / 2
}
