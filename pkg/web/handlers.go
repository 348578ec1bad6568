package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-rover/pkg/framebuf"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Rover</title></head>
<body>
<h1>Rover</h1>
<img src="/video_feed" alt="camera">
<p>
<button onclick="fetch('/start', {method: 'POST'})">Start</button>
<button onclick="fetch('/stop', {method: 'POST'})">Stop</button>
</p>
</body>
</html>
`

// handleIndex serves the control page
func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Type("html")
	return c.SendString(indexHTML)
}

// handleVideoFeed streams the frame buffer as multipart JPEG until the
// client disconnects or the server stops.
func (s *Server) handleVideoFeed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary=frame")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	ctx := s.streamCtx
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamFrames(ctx, w)
	})
	return nil
}

// streamFrames writes each new frame as one part. When no frame arrives
// within the keepalive interval the last part is repeated (or a blank line
// sent before the first frame) so a departed client is noticed by the
// failing flush.
func (s *Server) streamFrames(ctx context.Context, w *bufio.Writer) {
	var last framebuf.Frame
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.keepalive)
		f, err := s.frames.Wait(waitCtx, last.Seq)
		cancel()

		switch {
		case err == nil:
			last = f
			writePart(w, f.Data)
		case ctx.Err() != nil:
			return
		case last.Data != nil:
			writePart(w, last.Data)
		default:
			w.WriteString("\r\n")
		}

		if err := w.Flush(); err != nil {
			return
		}
	}
}

func writePart(w *bufio.Writer, jpeg []byte) {
	fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpeg))
	w.Write(jpeg)
	w.WriteString("\r\n")
}

// handleGate serves /start and /stop with an empty body
func (s *Server) handleGate(c *fiber.Ctx) error {
	if strings.HasSuffix(c.Path(), "/start") {
		s.gate.Start()
		fmt.Println("▶️  Start requested")
	} else {
		s.gate.Stop()
		fmt.Println("⏹️  Stop requested")
	}
	s.logger.Info("gate set from web", "path", c.Path(), "state", s.gate.State().String())
	return c.SendString("")
}

// handleStatus returns the current status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.snapshot(c.UserContext()))
}

// handleStatusWS pushes status updates until the client leaves
func (s *Server) handleStatusWS(c *websocket.Conn) {
	initial, err := json.Marshal(s.snapshot(s.streamCtx))
	if err != nil {
		initial = nil
	}
	s.status.Serve(c, initial)
}
