package config

import (
	"os"
	"strconv"
)

// Environment overrides, applied after the document is decoded.
const (
	EnvIP     = "ROVER_IP"
	EnvPort   = "ROVER_PORT"
	EnvBroker = "ROVER_BROKER"
)

func applyEnv(c *Config) {
	if ip := os.Getenv(EnvIP); ip != "" {
		c.IP = ip
	}
	if p := os.Getenv(EnvPort); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			c.Port = port
		}
	}
	if broker := os.Getenv(EnvBroker); broker != "" {
		c.Control.Broker = broker
	}
}
