package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/sensor"
	"github.com/teslashibe/go-rover/pkg/sensor/imagelog"
	"github.com/teslashibe/go-rover/pkg/sensor/linetrack"
	"github.com/teslashibe/go-rover/pkg/sensor/objectdetect"
	"github.com/teslashibe/go-rover/pkg/sensor/qrscan"
	"github.com/teslashibe/go-rover/pkg/sensor/ranging"
)

// buildModules returns the one active module configuration: the image
// logger alone, or the navigation modules in configured order (by default
// config.NavigationModules).
func buildModules(cfg *config.Config, logger *slog.Logger) ([]sensor.Module, error) {
	if cfg.ImageLogging() {
		m, err := imagelog.New(cfg.Sensors.ImageDir, cfg.Sensors.ImageEvery, logger)
		if err != nil {
			return nil, err
		}
		fmt.Printf("🖼️  Image logging to %s\n", cfg.Sensors.ImageDir)
		return []sensor.Module{m}, nil
	}

	var modules []sensor.Module
	for _, name := range cfg.Sensors.Modules {
		m, err := newModule(name, cfg, logger)
		if err != nil {
			shutdownModules(modules)
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		modules = append(modules, m)
		fmt.Printf("🧩 Module %s ready\n", name)
	}
	return modules, nil
}

// newModule opens one navigation module by name. Tests replace it to avoid
// touching the camera model and GPIO.
var newModule = openModule

func openModule(name string, cfg *config.Config, logger *slog.Logger) (sensor.Module, error) {
	s := cfg.Sensors
	switch name {
	case "objectdetect":
		yc := objectdetect.DefaultYOLOConfig()
		yc.ModelPath = s.ModelPath
		det, err := objectdetect.NewYOLO(yc)
		if err != nil {
			return nil, err
		}
		return objectdetect.New(det, s.TargetClass, sensor.DefaultApproach()), nil

	case "qrscan":
		return qrscan.New(qrscan.NewOpenCV(), s.QRPayload, sensor.DefaultApproach(), logger), nil

	case "ranging":
		r, err := ranging.OpenHCSR04(s.TrigPin, s.EchoPin)
		if err != nil {
			return nil, err
		}
		rc := ranging.DefaultConfig()
		rc.StopCm = s.StopDistanceCm
		rc.SlowCm = s.SlowDistanceCm
		return ranging.New(r, rc), nil

	case "linetrack":
		lc := linetrack.DefaultConfig()
		lc.ROI = s.LineROI
		return linetrack.New(lc), nil

	default:
		return nil, errors.New("unknown module")
	}
}

func shutdownModules(modules []sensor.Module) {
	for _, m := range modules {
		if err := m.Shutdown(); err != nil {
			log.Warn("module shutdown failed", "module", m.Name(), "error", err)
		}
	}
}
