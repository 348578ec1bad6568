// Package web serves the live camera stream and the start/stop controls.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/framebuf"
	"github.com/teslashibe/go-rover/pkg/fusion"
	"github.com/teslashibe/go-rover/pkg/gate"
	"github.com/teslashibe/go-rover/pkg/hub"
)

const (
	readTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
	statusInterval  = time.Second
	statsTimeout    = 200 * time.Millisecond

	// streamKeepalive bounds how long a video client waits without a write
	streamKeepalive = 2 * time.Second
)

// Status is the JSON document served at /api/status and pushed on
// /ws/status.
type Status struct {
	Gate          string           `json:"gate"`
	FrameSeq      uint64           `json:"frame_seq"`
	ReadyMessages int64            `json:"ready_messages"`
	Fusion        *fusion.Stats    `json:"fusion,omitempty"`
	Command       *control.Command `json:"command,omitempty"`
	Time          time.Time        `json:"time"`
}

// Server is the streaming interface.
type Server struct {
	app    *fiber.App
	port   int
	frames *framebuf.Buffer
	gate   *gate.Gate
	status *hub.Hub
	logger *slog.Logger

	// streamCtx ends open video streams; set by Run.
	streamCtx context.Context
	keepalive time.Duration

	// FusionStats reports fusion loop counters, if set.
	FusionStats func(ctx context.Context) (fusion.Stats, error)

	// ReadyCount reports how many ready messages were received, if set.
	ReadyCount func() int64

	// LastCommand reports the last command written, if set. A zero Seq
	// means nothing was written yet.
	LastCommand func() control.Command
}

// NewServer creates the server and registers its routes.
func NewServer(port int, frames *framebuf.Buffer, g *gate.Gate, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:      port,
		frames:    frames,
		gate:      g,
		status:    hub.New("status", logger),
		logger:    logger,
		streamCtx: context.Background(),
		keepalive: streamKeepalive,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Rover",
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
	})
	app.Use(recover.New())

	app.Get("/", s.handleIndex)
	app.Get("/video_feed", s.handleVideoFeed)

	for _, route := range []string{"/start", "/stop"} {
		app.Get(route, s.handleGate)
		app.Post(route, s.handleGate)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.streamCtx = ctx
	go s.status.Run(ctx)
	go s.pushStatus(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()

	fmt.Printf("🌐 Stream: http://%s/\n", ln.Addr())
	s.logger.Info("web server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("web shutdown: %w", err)
	}
	s.logger.Info("web server stopped")
	return nil
}

// pushStatus broadcasts the status on every gate change and once a second.
func (s *Server) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		changed := s.gate.Changed()
		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-ticker.C:
		}
		if s.status.ClientCount() == 0 {
			continue
		}
		if err := s.status.BroadcastJSON(s.snapshot(ctx)); err != nil {
			s.logger.Warn("status encode failed", "error", err)
		}
	}
}

func (s *Server) snapshot(ctx context.Context) Status {
	st := Status{
		Gate:     s.gate.State().String(),
		FrameSeq: s.frames.Seq(),
		Time:     time.Now(),
	}
	if s.ReadyCount != nil {
		st.ReadyMessages = s.ReadyCount()
	}
	if s.FusionStats != nil {
		ctx, cancel := context.WithTimeout(ctx, statsTimeout)
		defer cancel()
		if fs, err := s.FusionStats(ctx); err == nil {
			st.Fusion = &fs
		}
	}
	if s.LastCommand != nil {
		if cmd := s.LastCommand(); cmd.Seq > 0 {
			st.Command = &cmd
		}
	}
	return st
}
