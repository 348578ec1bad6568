// Package listener waits for the remote "ready" signal that arms the
// navigation gate. The transport is pluggable; the listener reconnects with
// exponential backoff and never gives up while its context is live.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrClosed is returned by Receive once the channel has been lost or closed.
var ErrClosed = errors.New("channel closed")

// Message is one datagram from the remote sender.
type Message struct {
	From    string
	Payload []byte
}

// Channel is an open connection to the remote sender.
type Channel interface {
	// Receive blocks for the next message or until ctx is done.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens channels to the configured endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// Armer is the gate operation the listener drives. *gate.Gate implements it.
// ArmOnce only enables a gate nobody has set yet.
type Armer interface {
	ArmOnce() bool
}

// Config holds the reconnect policy.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a 500ms..30s backoff.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Listener receives ready messages and arms the gate on the first one.
type Listener struct {
	cfg    Config
	dialer Dialer
	gate   Armer
	logger *slog.Logger

	received atomic.Int64
	sessions atomic.Int64
}

// New creates a listener.
func New(cfg Config, dialer Dialer, g Armer, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Listener{cfg: cfg, dialer: dialer, gate: g, logger: logger}
}

// Run connects and receives until ctx is cancelled. It returns nil on
// cancellation; transport failures are retried, never returned.
func (l *Listener) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialBackoff
	b.MaxInterval = l.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		l.logger.Warn("ready channel down, reconnecting", "error", err, "retry_in", next)
	}

	err := backoff.RetryNotify(func() error {
		return l.session(ctx, b)
	}, backoff.WithContext(b, ctx), notify)

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session runs one dial + receive cycle. It always returns a non-nil error:
// the reason the channel ended.
func (l *Listener) session(ctx context.Context, b backoff.BackOff) error {
	ch, err := l.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer ch.Close()

	n := l.sessions.Add(1)
	l.logger.Info("ready channel connected", "session", n)

	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("receive: %w", err)
		}
		b.Reset()
		l.handle(msg)
	}
}

func (l *Listener) handle(msg Message) {
	count := l.received.Add(1)
	l.logger.Debug("ready message", "from", msg.From, "payload", string(msg.Payload), "count", count)

	if l.gate.ArmOnce() {
		fmt.Printf("🟢 Ready signal from %s, navigation armed\n", msg.From)
		l.logger.Info("gate armed by ready signal", "from", msg.From)
	} else if count == 1 {
		fmt.Printf("🟡 Ready signal from %s ignored, gate already set by operator\n", msg.From)
		l.logger.Info("ready signal ignored, gate already set", "from", msg.From)
	}
}

// Received returns the number of messages received so far.
func (l *Listener) Received() int64 {
	return l.received.Load()
}

// Sessions returns how many channels have been opened.
func (l *Listener) Sessions() int64 {
	return l.sessions.Load()
}
