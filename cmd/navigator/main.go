// Navigator - camera-driven sensor fusion for the rover
//
// Reads frames, queries the configured sensor modules, publishes one
// command record per cycle to the actuator and serves the live stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/camera"
	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/framebuf"
	"github.com/teslashibe/go-rover/pkg/fusion"
	"github.com/teslashibe/go-rover/pkg/gate"
	"github.com/teslashibe/go-rover/pkg/listener"
	"github.com/teslashibe/go-rover/pkg/web"
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

	fmt.Println("🤖 Rover navigator")
	fmt.Printf("   Ready endpoint: %s (%s)\n", cfg.Endpoint(), cfg.Listener.Transport)
	fmt.Printf("   Command broker: %s\n", cfg.Control.Broker)

	if err := run(ctx, cfg); err != nil {
		fatal("Runtime error", err)
	}
	fmt.Println("👋 Navigator stopped")
}

func fatal(what string, err error) {
	log.Error(what, "error", err)
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", what, err)
	os.Exit(1)
}

func run(ctx context.Context, cfg *config.Config) error {
	frames := framebuf.New()
	g := gate.New()
	g.OnChange(func(from, to gate.State, src gate.Source) {
		log.Info("gate changed", "from", from.String(), "to", to.String(), "source", string(src))
	})

	pub, err := control.DialPublisher(control.LinkConfig{
		Broker:   cfg.Control.Broker,
		ClientID: cfg.Control.ClientID,
		Prefix:   cfg.Control.Prefix,
	}, log.Component("control"))
	if err != nil {
		return fmt.Errorf("command link: %w", err)
	}
	defer pub.Close()
	writer := control.NewWriter(pub)
	log.Info("command session", "session", writer.Session())

	modules, err := buildModules(cfg, log.Component("sensor"))
	if err != nil {
		return fmt.Errorf("sensor modules: %w", err)
	}

	cam, err := openCamera(cfg)
	if err != nil {
		shutdownModules(modules)
		return err
	}

	loop := fusion.New(fusion.Config{
		WheelSpeed:    cfg.Fusion.WheelSpeed,
		WorkingWidth:  cfg.Camera.Width,
		ModuleTimeout: cfg.Fusion.ModuleTimeout,
		JPEGQuality:   cfg.Camera.JPEGQuality,
		RetryDelay:    time.Duration(cfg.Camera.RetryDelayMs) * time.Millisecond,
	}, cam, modules, writer, frames, g, log.Component("fusion"))

	ready := listener.New(listener.Config{
		InitialBackoff: listener.DefaultConfig().InitialBackoff,
		MaxBackoff:     cfg.Listener.MaxBackoff,
	}, newDialer(cfg), g, log.Component("listener"))

	srv := web.NewServer(cfg.Web.Port, frames, g, log.Component("web"))
	srv.FusionStats = loop.Stats
	srv.ReadyCount = ready.Received
	srv.LastCommand = writer.Last

	fmt.Printf("⏳ Waiting for ready signal or /start (%d modules)\n", len(modules))

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return loop.Run(gctx) })
	grp.Go(func() error { return ready.Run(gctx) })
	grp.Go(func() error { return srv.Run(gctx) })
	return grp.Wait()
}

func openCamera(cfg *config.Config) (*camera.Device, error) {
	camCfg := camera.DefaultConfig()
	camCfg.Device = cfg.Camera.Device
	camCfg.WorkingWidth = cfg.Camera.Width
	camCfg.Quality = cfg.Camera.JPEGQuality
	if errs := camCfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera config: %v", errs)
	}

	cam, err := camera.Open(camCfg)
	if err != nil {
		return nil, fmt.Errorf("camera: %w", err)
	}
	fmt.Printf("📷 Camera %d open\n", camCfg.Device)
	return cam, nil
}

func newDialer(cfg *config.Config) listener.Dialer {
	logger := log.Component("listener")
	if cfg.Listener.Transport == "websocket" {
		return &listener.WebSocketDialer{Endpoint: cfg.Endpoint(), Logger: logger}
	}
	return &listener.MQTTDialer{
		Broker:   "tcp://" + cfg.Endpoint(),
		ClientID: cfg.Listener.ClientID,
		Topic:    control.NewTopics(cfg.Listener.Prefix).Ready(),
		Logger:   logger,
	}
}
