package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 10 * time.Second

// WebSocketDialer connects to ws://<Endpoint>/ready.
type WebSocketDialer struct {
	Endpoint string // host:port
	Logger   *slog.Logger
}

// URL returns the websocket URL dialled.
func (d *WebSocketDialer) URL() string {
	u := url.URL{Scheme: "ws", Host: d.Endpoint, Path: "/ready"}
	return u.String()
}

// Dial performs the websocket handshake.
func (d *WebSocketDialer) Dial(ctx context.Context) (Channel, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL(), err)
	}
	logger.Info("listening for ready signal", "url", d.URL())

	ch := &wsChannel{
		conn: conn,
		from: conn.RemoteAddr().String(),
		msgs: make(chan Message),
		done: make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

// wsChannel pumps frames from a reader goroutine so Receive can honour ctx.
type wsChannel struct {
	conn *websocket.Conn
	from string
	msgs chan Message
	done chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (c *wsChannel) readLoop() {
	defer close(c.msgs)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
		select {
		case c.msgs <- Message{From: c.from, Payload: data}:
		case <-c.done:
			return
		}
	}
}

func (c *wsChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			if err == nil {
				return Message{}, ErrClosed
			}
			return Message{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
