package motor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/teslashibe/go-rover/pkg/control"
)

// mockDriver records all motor writes for testing
type mockDriver struct {
	mu       sync.Mutex
	powers   [2]int
	writes   int
	resets   int
	failSide Side
	fail     error
}

func (m *mockDriver) SetMotorPower(side Side, power int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil && side == m.failSide {
		return m.fail
	}
	m.powers[side] = power
	m.writes++
	return nil
}

func (m *mockDriver) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powers = [2]int{}
	m.resets++
	return nil
}

func (m *mockDriver) state() (powers [2]int, writes, resets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powers, m.writes, m.resets
}

// staticSource serves a fixed command with a fixed age.
type staticSource struct {
	cmd control.Command
	age time.Duration
	ok  bool
}

func (s staticSource) Load() control.Command      { return s.cmd }
func (s staticSource) Age() (time.Duration, bool) { return s.age, s.ok }

func TestLoop_Step(t *testing.T) {
	tests := []struct {
		name        string
		src         staticSource
		staleAfter  time.Duration
		left, right int
	}{
		{
			name:  "drives stored powers",
			src:   staticSource{cmd: control.Command{LeftPower: 35, RightPower: -20}, ok: true},
			left:  35,
			right: -20,
		},
		{
			name:  "search spins with both wheels forward",
			src:   staticSource{cmd: control.Command{LeftPower: -5, RightPower: 9, SearchMode: true}, ok: true},
			left:  70,
			right: 70,
		},
		{
			name:       "stale command holds neutral",
			src:        staticSource{cmd: control.Command{LeftPower: 50, RightPower: 50}, age: time.Second, ok: true},
			staleAfter: 100 * time.Millisecond,
		},
		{
			name:       "never received holds neutral",
			src:        staticSource{cmd: control.Command{SearchMode: true}},
			staleAfter: 100 * time.Millisecond,
		},
		{
			name:       "fresh command passes watchdog",
			src:        staticSource{cmd: control.Command{LeftPower: 10, RightPower: 20}, age: time.Millisecond, ok: true},
			staleAfter: 100 * time.Millisecond,
			left:       10,
			right:      20,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			drv := &mockDriver{}
			l := NewLoop(Config{WheelSpeed: 70, StaleAfter: tc.staleAfter}, drv, tc.src, nil)

			if err := l.Step(); err != nil {
				t.Fatalf("Step: %v", err)
			}
			powers, _, _ := drv.state()
			if powers[Left] != tc.left || powers[Right] != tc.right {
				t.Errorf("powers: got %v, want [%d %d]", powers, tc.left, tc.right)
			}
		})
	}
}

func TestLoop_RunFollowsRegister(t *testing.T) {
	drv := &mockDriver{}
	reg := control.NewRegister()
	l := NewLoop(Config{WheelSpeed: 70, Interval: time.Millisecond}, drv, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	reg.Store(control.Command{Session: "s", Seq: 1, LeftPower: 40, RightPower: 45})

	deadline := time.Now().Add(2 * time.Second)
	for {
		left, right, _ := l.Applied()
		if left == 40 && right == 45 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loop never applied the command, got %d/%d", left, right)
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	powers, _, resets := drv.state()
	if powers != [2]int{} {
		t.Errorf("after cancel: got %v, want neutral", powers)
	}
	if resets != 1 {
		t.Errorf("resets: got %d, want 1", resets)
	}
}

func TestLoop_HardwareFaultIsFatal(t *testing.T) {
	drv := &mockDriver{failSide: Right, fail: errors.New("i2c nack")}
	src := staticSource{cmd: control.Command{LeftPower: 30, RightPower: 30}, ok: true}
	l := NewLoop(Config{WheelSpeed: 70}, drv, src, nil)

	err := l.Run(context.Background())
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("got %v, want ErrHardware", err)
	}
	powers, _, resets := drv.state()
	if resets != 1 {
		t.Errorf("resets: got %d, want 1", resets)
	}
	if powers != [2]int{} {
		t.Errorf("after fault: got %v, want neutral", powers)
	}
}

func TestLoop_ResetIdempotent(t *testing.T) {
	drv := &mockDriver{}
	l := NewLoop(Config{WheelSpeed: 70}, drv, staticSource{}, nil)

	for i := 0; i < 3; i++ {
		if err := l.Reset(); err != nil {
			t.Fatalf("Reset %d: %v", i, err)
		}
	}
	powers, writes, resets := drv.state()
	if powers != [2]int{} || writes != 0 || resets != 3 {
		t.Errorf("got powers=%v writes=%d resets=%d", powers, writes, resets)
	}
}

// fakePWM records the last value written per channel: -1 full off,
// 4096 full on, otherwise the off count.
type fakePWM struct {
	ch   map[int]int
	fail error
}

func newFakePWM() *fakePWM { return &fakePWM{ch: map[int]int{}} }

func (f *fakePWM) SetPwm(channel int, on, off gpio.Duty) error {
	if f.fail != nil {
		return f.fail
	}
	f.ch[channel] = int(off)
	return nil
}

func (f *fakePWM) SetFullOn(channel int) error {
	if f.fail != nil {
		return f.fail
	}
	f.ch[channel] = 4096
	return nil
}

func (f *fakePWM) SetFullOff(channel int) error {
	if f.fail != nil {
		return f.fail
	}
	f.ch[channel] = -1
	return nil
}

func TestHAT_SetMotorPower(t *testing.T) {
	tests := []struct {
		name          string
		cfg           HATConfig
		side          Side
		power         int
		pwm, in1, in2 int // channels to check
		wantDuty      int
		wantIn1       int
		wantIn2       int
	}{
		{
			name: "left forward half", cfg: DefaultHATConfig(), side: Left, power: 50,
			pwm: 8, in1: 10, in2: 9, wantDuty: 2047, wantIn1: 4096, wantIn2: -1,
		},
		{
			name: "right reverse full", cfg: DefaultHATConfig(), side: Right, power: -100,
			pwm: 13, in1: 11, in2: 12, wantDuty: 4095, wantIn1: -1, wantIn2: 4096,
		},
		{
			name: "clamped above max", cfg: DefaultHATConfig(), side: Left, power: 250,
			pwm: 8, in1: 10, in2: 9, wantDuty: 4095, wantIn1: 4096, wantIn2: -1,
		},
		{
			name: "zero releases", cfg: DefaultHATConfig(), side: Right, power: 0,
			pwm: 13, in1: 11, in2: 12, wantDuty: 0, wantIn1: -1, wantIn2: -1,
		},
		{
			name: "inverted left", cfg: HATConfig{LeftPort: 3, RightPort: 4, InvertLeft: true}, side: Left, power: 100,
			pwm: 2, in1: 4, in2: 3, wantDuty: 4095, wantIn1: -1, wantIn2: 4096,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pwm := newFakePWM()
			h, err := NewHAT(pwm, tc.cfg)
			if err != nil {
				t.Fatalf("NewHAT: %v", err)
			}
			if err := h.SetMotorPower(tc.side, tc.power); err != nil {
				t.Fatalf("SetMotorPower: %v", err)
			}
			if got := pwm.ch[tc.pwm]; got != tc.wantDuty {
				t.Errorf("pwm ch%d: got %d, want %d", tc.pwm, got, tc.wantDuty)
			}
			if got := pwm.ch[tc.in1]; got != tc.wantIn1 {
				t.Errorf("in1 ch%d: got %d, want %d", tc.in1, got, tc.wantIn1)
			}
			if got := pwm.ch[tc.in2]; got != tc.wantIn2 {
				t.Errorf("in2 ch%d: got %d, want %d", tc.in2, got, tc.wantIn2)
			}
		})
	}
}

func TestHAT_ResetAll(t *testing.T) {
	pwm := newFakePWM()
	h, err := NewHAT(pwm, DefaultHATConfig())
	if err != nil {
		t.Fatalf("NewHAT: %v", err)
	}
	h.SetMotorPower(Left, 80)
	h.SetMotorPower(Right, -80)

	for i := 0; i < 2; i++ {
		if err := h.ResetAll(); err != nil {
			t.Fatalf("ResetAll: %v", err)
		}
	}
	for _, ch := range []int{8, 13} {
		if pwm.ch[ch] != 0 {
			t.Errorf("pwm ch%d: got %d, want 0", ch, pwm.ch[ch])
		}
	}
	for _, ch := range []int{9, 10, 11, 12} {
		if pwm.ch[ch] != -1 {
			t.Errorf("direction ch%d: got %d, want full off", ch, pwm.ch[ch])
		}
	}

	pwm.fail = errors.New("bus gone")
	if err := h.ResetAll(); err == nil {
		t.Error("expected reset error from failing bus")
	}
}

func TestNewHAT_BadPorts(t *testing.T) {
	for _, cfg := range []HATConfig{
		{LeftPort: 0, RightPort: 2},
		{LeftPort: 1, RightPort: 5},
		{LeftPort: 2, RightPort: 2},
	} {
		if _, err := NewHAT(newFakePWM(), cfg); err == nil {
			t.Errorf("NewHAT(%+v): expected error", cfg)
		}
	}
}

func TestSide_String(t *testing.T) {
	if Left.String() != "left" || Right.String() != "right" || Side(7).String() != "side(7)" {
		t.Error("unexpected Side names")
	}
}
