package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/framebuf"
	"github.com/teslashibe/go-rover/pkg/fusion"
	"github.com/teslashibe/go-rover/pkg/gate"
)

func newTestServer() (*Server, *framebuf.Buffer, *gate.Gate) {
	frames := framebuf.New()
	g := gate.New()
	return NewServer(0, frames, g, nil), frames, g
}

func TestIndex(t *testing.T) {
	s, _, _ := newTestServer()

	resp, err := s.App().Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `src="/video_feed"`) {
		t.Error("index page should embed the video feed")
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("content type: got %q", resp.Header.Get("Content-Type"))
	}
}

func TestStartStop(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   gate.State
	}{
		{"POST", "/start", gate.Enabled},
		{"GET", "/start", gate.Enabled},
		{"POST", "/stop", gate.Disabled},
		{"GET", "/stop", gate.Disabled},
	}

	for _, tc := range tests {
		t.Run(tc.method+tc.path, func(t *testing.T) {
			s, _, g := newTestServer()
			resp, err := s.App().Test(httptest.NewRequest(tc.method, tc.path, nil))
			if err != nil {
				t.Fatalf("%s %s: %v", tc.method, tc.path, err)
			}
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != 200 {
				t.Errorf("status: got %d, want 200", resp.StatusCode)
			}
			if len(body) != 0 {
				t.Errorf("body: got %q, want empty", body)
			}
			if g.State() != tc.want {
				t.Errorf("gate: got %v, want %v", g.State(), tc.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	s, frames, g := newTestServer()
	frames.Publish([]byte("jpeg"))
	g.Start()
	s.ReadyCount = func() int64 { return 3 }
	s.FusionStats = func(ctx context.Context) (fusion.Stats, error) {
		return fusion.Stats{Cycles: 12, Mode: fusion.ModeTracking}, nil
	}
	s.LastCommand = func() control.Command {
		return control.Command{Seq: 7, LeftPower: 40, RightPower: -40}
	}

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if st.Gate != "enabled" {
		t.Errorf("gate: got %q, want enabled", st.Gate)
	}
	if st.FrameSeq != 1 {
		t.Errorf("frame_seq: got %d, want 1", st.FrameSeq)
	}
	if st.ReadyMessages != 3 {
		t.Errorf("ready_messages: got %d, want 3", st.ReadyMessages)
	}
	if st.Fusion == nil || st.Fusion.Cycles != 12 {
		t.Errorf("fusion: got %+v", st.Fusion)
	}
	if st.Command == nil || st.Command.Seq != 7 || st.Command.LeftPower != 40 || st.Command.RightPower != -40 {
		t.Errorf("command: got %+v", st.Command)
	}
}

func TestStatus_NoCommandYet(t *testing.T) {
	s, _, _ := newTestServer()
	s.LastCommand = func() control.Command { return control.Command{} }

	st := s.snapshot(context.Background())
	if st.Command != nil {
		t.Errorf("command before first write: got %+v, want none", st.Command)
	}
}

func TestVideoFeed(t *testing.T) {
	s, frames, _ := newTestServer()
	frames.Publish([]byte("\xff\xd8fake-jpeg\xff\xd9"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.streamCtx = ctx

	resp, err := s.App().Test(httptest.NewRequest("GET", "/video_feed", nil), 3000)
	if err != nil {
		t.Fatalf("GET /video_feed: %v", err)
	}
	if got := resp.Header.Get("Content-Type"); got != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("content type: got %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "--frame\r\nContent-Type: image/jpeg\r\n") {
		t.Errorf("body should start with a frame part, got %q", body)
	}
	if !strings.Contains(string(body), "fake-jpeg") {
		t.Error("frame payload missing from stream")
	}
}

type closedConn struct{}

func (closedConn) Write([]byte) (int, error) { return 0, errors.New("connection closed") }

func TestStreamFrames_Keepalive(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"before first frame", nil, "\r\n\r\n"},
		{"repeats last frame", []byte("jpeg"), "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\njpeg\r\n--frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, frames, _ := newTestServer()
			s.keepalive = 20 * time.Millisecond
			if tt.frame != nil {
				frames.Publish(tt.frame)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
			defer cancel()

			var out bytes.Buffer
			s.streamFrames(ctx, bufio.NewWriter(&out))
			if !strings.HasPrefix(out.String(), tt.want) {
				t.Errorf("stream: got %q, want prefix %q", out.String(), tt.want)
			}
		})
	}
}

func TestStreamFrames_DepartedClientWithoutFrames(t *testing.T) {
	s, _, _ := newTestServer()
	s.keepalive = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		s.streamFrames(context.Background(), bufio.NewWriterSize(closedConn{}, 16))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream kept waiting for frames after the client left")
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _, _ := newTestServer()
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/status", nil))
	if err != nil {
		t.Fatalf("GET /ws/status: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("status: got %d, want 426", resp.StatusCode)
	}
}

func TestServe_StatusWebSocket(t *testing.T) {
	s, _, g := newTestServer()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/status", nil)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first Status
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial status: %v", err)
	}
	if first.Gate != "unset" {
		t.Errorf("initial gate: got %q, want unset", first.Gate)
	}

	g.Start()
	for {
		var st Status
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read status: %v", err)
		}
		if st.Gate == "enabled" {
			break
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return")
	}
}
