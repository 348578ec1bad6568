package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestParse_RequiredKeys(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		missing string
	}{
		{name: "no imageoutput", doc: "ip: 10.0.0.2\nport: 5555\n", missing: "imageoutput"},
		{name: "no ip", doc: "imageoutput: false\nport: 5555\n", missing: "ip"},
		{name: "no port", doc: "imageoutput: false\nip: 10.0.0.2\n", missing: "port"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if !errors.Is(err, ErrMissingKey) {
				t.Fatalf("expected ErrMissingKey, got %v", err)
			}
			if got := err.Error(); got != "missing required config key: "+tc.missing {
				t.Errorf("error: got %q", got)
			}
		})
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("imageoutput: false\nip: 10.0.0.2\nport: 5555\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.ImageLogging() {
		t.Error("ImageLogging: got true, want false")
	}
	if cfg.Fusion.WheelSpeed != DefaultWheelSpeed {
		t.Errorf("WheelSpeed: got %d, want %d", cfg.Fusion.WheelSpeed, DefaultWheelSpeed)
	}
	if cfg.Fusion.ModuleTimeout != DefaultModuleTimeout {
		t.Errorf("ModuleTimeout: got %v, want %v", cfg.Fusion.ModuleTimeout, DefaultModuleTimeout)
	}
	if cfg.Endpoint() != "10.0.0.2:5555" {
		t.Errorf("Endpoint: got %s", cfg.Endpoint())
	}
	if cfg.Listener.Transport != "mqtt" {
		t.Errorf("Transport: got %s, want mqtt", cfg.Listener.Transport)
	}
	want := []string{"objectdetect", "qrscan", "ranging", "linetrack"}
	if !slices.Equal(cfg.Sensors.Modules, want) {
		t.Errorf("Modules: got %v, want %v", cfg.Sensors.Modules, want)
	}
}

func TestParse_Overrides(t *testing.T) {
	doc := `
imageoutput: true
ip: 192.168.1.7
port: 1883
fusion:
  wheel_speed: 50
  module_timeout: 250ms
actuator:
  stale_after: 2s
listener:
  transport: websocket
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.ImageLogging() {
		t.Error("ImageLogging: got false, want true")
	}
	if cfg.Fusion.WheelSpeed != 50 {
		t.Errorf("WheelSpeed: got %d, want 50", cfg.Fusion.WheelSpeed)
	}
	if cfg.Fusion.ModuleTimeout != 250*time.Millisecond {
		t.Errorf("ModuleTimeout: got %v", cfg.Fusion.ModuleTimeout)
	}
	if cfg.Actuator.StaleAfter != 2*time.Second {
		t.Errorf("StaleAfter: got %v", cfg.Actuator.StaleAfter)
	}
	if cfg.Listener.Transport != "websocket" {
		t.Errorf("Transport: got %s", cfg.Listener.Transport)
	}
}

func TestParse_ModuleList(t *testing.T) {
	doc := "imageoutput: false\nip: a\nport: 1\nsensors:\n  modules: [qrscan, linetrack]\n"
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := cfg.Sensors.Modules
	if len(got) != 2 || got[0] != "qrscan" || got[1] != "linetrack" {
		t.Errorf("Modules: got %v, want [qrscan linetrack]", got)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown key", doc: "imageoutput: false\nip: a\nport: 1\nbogus: 1\n"},
		{name: "bad transport", doc: "imageoutput: false\nip: a\nport: 1\nlistener:\n  transport: zmq\n"},
		{name: "port range", doc: "imageoutput: false\nip: a\nport: 70000\n"},
		{name: "wheel speed", doc: "imageoutput: false\nip: a\nport: 1\nfusion:\n  wheel_speed: 0\n"},
		{name: "same motor", doc: "imageoutput: false\nip: a\nport: 1\nmotor:\n  left_motor: 2\n  right_motor: 2\n"},
		{name: "unknown module", doc: "imageoutput: false\nip: a\nport: 1\nsensors:\n  modules: [sonar]\n"},
		{name: "duplicate module", doc: "imageoutput: false\nip: a\nport: 1\nsensors:\n  modules: [linetrack, linetrack]\n"},
		{name: "modules out of order", doc: "imageoutput: false\nip: a\nport: 1\nsensors:\n  modules: [linetrack, qrscan]\n"},
		{name: "no modules", doc: "imageoutput: false\nip: a\nport: 1\nsensors:\n  modules: []\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.doc)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	if err := os.WriteFile(path, []byte("imageoutput: false\nip: 10.0.0.2\nport: 5555\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvIP, "10.0.0.9")
	t.Setenv(EnvPort, "6000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint() != "10.0.0.9:6000" {
		t.Errorf("Endpoint: got %s, want 10.0.0.9:6000", cfg.Endpoint())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
