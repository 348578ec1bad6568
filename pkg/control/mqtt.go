package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// commandQoS is at-least-once; duplicates are dropped by Register.
	commandQoS = 1

	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
	quiesceMs      = 250
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// LinkConfig configures an MQTT command link.
type LinkConfig struct {
	Broker   string
	ClientID string
	Prefix   string
}

// Publisher sends commands to the broker. It implements Sink.
type Publisher struct {
	client     mqtt.Client
	topic      string
	logger     *slog.Logger
	ackTimeout time.Duration

	mu      sync.Mutex
	pending mqtt.Token // last publish; paho delivers in order
}

// neutralWill is published by the broker if the navigator drops off
// without a clean disconnect. Its empty session makes the actuator accept it.
func neutralWill() string {
	data, _ := json.Marshal(Command{})
	return string(data)
}

// DialPublisher connects to the broker and returns a Publisher.
func DialPublisher(cfg LinkConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	topic := NewTopics(cfg.Prefix).Command()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID+"-cmd-pub").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWill(topic, neutralWill(), commandQoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("command link lost", "error", err)
		})

	client := mqtt.NewClient(opts)
	if err := wait(client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	logger.Info("command publisher connected", "broker", cfg.Broker, "topic", topic)
	return &Publisher{client: client, topic: topic, logger: logger, ackTimeout: publishTimeout}, nil
}

// Publish sends cmd as a retained message. It does not wait for the
// broker's ack; a failure known at send time is returned, a late one is
// logged.
func (p *Publisher) Publish(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	token := p.client.Publish(p.topic, commandQoS, true, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", p.topic, err)
		}
		return nil
	default:
	}

	p.mu.Lock()
	p.pending = token
	p.mu.Unlock()

	go p.watch(cmd.Seq, token)
	return nil
}

func (p *Publisher) watch(seq uint64, token mqtt.Token) {
	if err := wait(token, p.ackTimeout); err != nil {
		p.logger.Warn("command publish failed", "topic", p.topic, "seq", seq, "error", err)
	}
}

// Close waits for the last publish to be acknowledged, then disconnects
// from the broker.
func (p *Publisher) Close() {
	p.mu.Lock()
	token := p.pending
	p.mu.Unlock()

	if token != nil {
		if err := wait(token, p.ackTimeout); err != nil {
			p.logger.Warn("last command not acknowledged", "topic", p.topic, "error", err)
		}
	}
	p.client.Disconnect(quiesceMs)
}

// Subscriber feeds commands from the broker into a Register.
type Subscriber struct {
	client mqtt.Client
	topic  string
	reg    *Register
	logger *slog.Logger
}

// DialSubscriber connects to the broker and subscribes to the command topic.
// The subscription is re-established on every reconnect.
func DialSubscriber(cfg LinkConfig, reg *Register, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		topic:  NewTopics(cfg.Prefix).Command(),
		reg:    reg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID + "-cmd-sub").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			if err := wait(c.Subscribe(s.topic, commandQoS, s.handle), connectTimeout); err != nil {
				logger.Error("command subscribe failed", "topic", s.topic, "error", err)
				return
			}
			logger.Info("subscribed to commands", "topic", s.topic)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("command link lost", "error", err)
		})

	s.client = mqtt.NewClient(opts)
	if err := wait(s.client.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return s, nil
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := Decode(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping malformed command", "error", err)
		return
	}
	if !s.reg.Store(cmd) {
		s.logger.Debug("dropping stale command", "session", cmd.Session, "seq", cmd.Seq)
	}
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	s.client.Disconnect(quiesceMs)
}

// Decode parses a JSON command record.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

func wait(token mqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return ErrTimeout
	}
	return token.Error()
}
