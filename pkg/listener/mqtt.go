package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	readyQoS       = 1
	mqttTimeout    = 10 * time.Second
	mqttQuiesceMs  = 250
	mqttBufferSize = 16
)

var errMQTTTimeout = errors.New("mqtt operation timed out")

// MQTTDialer subscribes to the ready topic on a broker.
type MQTTDialer struct {
	Broker   string // e.g. tcp://10.0.0.5:1883
	ClientID string
	Topic    string
	Logger   *slog.Logger
}

// Dial connects and subscribes. Reconnection is left to the Listener, so
// the paho client's own auto-reconnect is off.
func (d *MQTTDialer) Dial(ctx context.Context) (Channel, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &mqttChannel{
		msgs: make(chan Message, mqttBufferSize),
		lost: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(d.Broker).
		SetClientID(d.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(mqttTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("ready broker connection lost", "error", err)
			ch.markLost()
		})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", d.Broker, err)
	}
	ch.client = client

	handler := func(_ mqtt.Client, m mqtt.Message) {
		msg := Message{From: m.Topic(), Payload: append([]byte(nil), m.Payload()...)}
		select {
		case ch.msgs <- msg:
		default:
			logger.Warn("ready buffer full, dropping message", "topic", m.Topic())
		}
	}
	if err := waitToken(ctx, client.Subscribe(d.Topic, readyQoS, handler)); err != nil {
		client.Disconnect(mqttQuiesceMs)
		return nil, fmt.Errorf("subscribe %s: %w", d.Topic, err)
	}

	logger.Info("listening for ready signal", "broker", d.Broker, "topic", d.Topic)
	return ch, nil
}

type mqttChannel struct {
	client mqtt.Client
	msgs   chan Message
	lost   chan struct{}
	once   sync.Once
}

func (c *mqttChannel) markLost() {
	c.once.Do(func() { close(c.lost) })
}

func (c *mqttChannel) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.msgs:
		return msg, nil
	case <-c.lost:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *mqttChannel) Close() error {
	c.markLost()
	c.client.Disconnect(mqttQuiesceMs)
	return nil
}

// waitToken waits for a paho token, bounded by mqttTimeout and ctx.
func waitToken(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(mqttTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errMQTTTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
