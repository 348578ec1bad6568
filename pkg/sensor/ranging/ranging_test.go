package ranging

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-rover/pkg/sensor"
)

type fakeRanger struct {
	cm     float64
	err    error
	closed bool
}

func (f *fakeRanger) Distance() (float64, error) { return f.cm, f.err }
func (f *fakeRanger) Close() error               { f.closed = true; return nil }

func TestEchoToCm(t *testing.T) {
	// 1ms round trip is ~17.15cm
	got := EchoToCm(time.Millisecond)
	if math.Abs(got-17.15) > 0.001 {
		t.Errorf("EchoToCm(1ms): got %v, want 17.15", got)
	}
}

func TestModule_Update(t *testing.T) {
	frame := gocv.NewMat()
	defer frame.Close()

	tests := []struct {
		name    string
		cm      float64
		err     error
		present bool
		want    sensor.Reading
		wantErr bool
	}{
		{name: "clear path", cm: 150, present: false},
		{name: "out of range", err: ErrNoEcho, present: false},
		{name: "obstacle very close", cm: 10, present: true, want: sensor.Stop},
		{name: "at stop distance", cm: 20, present: true, want: sensor.Stop},
		{name: "halfway", cm: 40, present: true, want: sensor.Reading{Left: 0.25, Right: 0.25, Duration: 0.1}},
		{name: "gpio failure", err: errors.New("pin busy"), wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := New(&fakeRanger{cm: tc.cm, err: tc.err}, DefaultConfig())
			r, ok, err := m.Update(context.Background(), frame)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tc.wantErr)
			}
			if ok != tc.present {
				t.Fatalf("present: got %v, want %v", ok, tc.present)
			}
			if ok && r != tc.want {
				t.Errorf("reading: got %+v, want %+v", r, tc.want)
			}
		})
	}
}

func TestModule_Shutdown(t *testing.T) {
	r := &fakeRanger{}
	New(r, DefaultConfig()).Shutdown()
	if !r.closed {
		t.Error("ranger not closed")
	}
}
