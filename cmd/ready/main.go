// Ready - bench tool that sends the navigator its ready signal
//
// Publishes a single message on the listener's ready topic at ip:port
// from the configuration file.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/control"
)

const timeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (required)")
	message := flag.String("message", "ready", "Payload to send")
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
	if cfg.Listener.Transport != "mqtt" {
		fatal("Unsupported transport", fmt.Errorf("ready only speaks mqtt, config has '%s'", cfg.Listener.Transport))
	}

	broker := "tcp://" + cfg.Endpoint()
	topic := control.NewTopics(cfg.Listener.Prefix).Ready()

	if err := send(broker, cfg.Listener.ClientID+"-sender", topic, []byte(*message)); err != nil {
		fatal("Send failed", err)
	}
	fmt.Printf("📨 Sent %q to %s on %s\n", *message, topic, broker)
}

func send(broker, clientID, topic string, payload []byte) error {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(timeout)
	client := mqtt.NewClient(opts)

	if tok := client.Connect(); !tok.WaitTimeout(timeout) {
		return fmt.Errorf("connect %s: timed out", broker)
	} else if err := tok.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", broker, err)
	}
	defer client.Disconnect(250)

	tok := client.Publish(topic, 1, false, payload)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	log.Debug("ready sent", "topic", topic, "bytes", len(payload))
	return nil
}

func fatal(what string, err error) {
	log.Error(what, "error", err)
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", what, err)
	os.Exit(1)
}
