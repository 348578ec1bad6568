// Actuator - drives the rover's wheels from the navigator's command stream
//
// Subscribes to the command record on the broker and applies the latest
// one to the motor HAT in a tight loop. Interrupt resets the motors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"periph.io/x/conn/v3/physic"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/motor"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (required)")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "❌ -config is required")
		flag.Usage()
		os.Exit(2)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Configuration error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, motor.ErrHardware) {
			fatal("Motor fault", err)
		}
		fatal("Runtime error", err)
	}
	fmt.Println("👋 Actuator stopped")
}

func fatal(what string, err error) {
	log.Error(what, "error", err)
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", what, err)
	os.Exit(1)
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := control.NewRegister()
	sub, err := control.DialSubscriber(control.LinkConfig{
		Broker:   cfg.Control.Broker,
		ClientID: cfg.Control.ClientID,
		Prefix:   cfg.Control.Prefix,
	}, reg, log.Component("control"))
	if err != nil {
		return fmt.Errorf("command link: %w", err)
	}
	defer sub.Close()

	hat, err := motor.OpenHAT(motor.HATConfig{
		Bus:         cfg.Motor.I2CBus,
		Address:     cfg.Motor.Address,
		Frequency:   physic.Frequency(cfg.Motor.PWMFrequency) * physic.Hertz,
		LeftPort:    cfg.Motor.LeftMotor,
		RightPort:   cfg.Motor.RightMotor,
		InvertLeft:  cfg.Motor.InvertLeft,
		InvertRight: cfg.Motor.InvertRight,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", motor.ErrHardware, err)
	}
	defer func() {
		if err := hat.Close(); err != nil {
			log.Warn("motor close failed", "error", err)
		}
	}()
	fmt.Printf("⚙️  Motor HAT at 0x%02x (left M%d, right M%d)\n",
		cfg.Motor.Address, cfg.Motor.LeftMotor, cfg.Motor.RightMotor)

	loop := motor.NewLoop(motor.Config{
		WheelSpeed: cfg.Fusion.WheelSpeed,
		Interval:   cfg.Actuator.LoopInterval,
		StaleAfter: cfg.Actuator.StaleAfter,
	}, hat, reg, log.Component("motor"))

	err = loop.Run(ctx)

	received, dropped := reg.Stats()
	_, _, iterations := loop.Applied()
	log.Info("actuator finished", "commands", received, "stale_dropped", dropped, "iterations", iterations)
	return err
}
