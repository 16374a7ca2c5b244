package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds all service-level options for jkbms-reactor. The card itself
// (title, prefix, cells, ...) is described by Card.
type Config struct {
	// Home Assistant
	HassURL      string `json:"hass_url"`      // Base URL of the Home Assistant instance (http(s)://host:8123)
	HassToken    string `json:"hass_token"`    // Long-lived access token
	HassInsecure bool   `json:"hass_insecure"` // Skip TLS verification (self-signed installs)

	// HTTP panel server
	ListenAddr string `json:"listen_addr"` // host:port the panel is served on

	// Card definition
	CardConfigPath string `json:"card_config"` // YAML file with the card config

	// MQTT Configuration
	MQTTUrl         string        `json:"mqtt_url"`         // MQTT URL (supports both WebSocket and standard MQTT)
	DiscoveryPrefix string        `json:"discovery_prefix"` // Home Assistant discovery prefix
	MQTTInterval    time.Duration `json:"mqtt_interval"`    // Minimum time between derived-metric publications

	// Device Configuration
	DeviceID string `json:"device_id"` // Unique device identifier

	// Application Configuration
	Verbose bool `json:"verbose"` // Enable verbose logging
}

// GetDefaultConfig returns a configuration with sensible defaults
func GetDefaultConfig() *Config {
	return &Config{
		HassURL:         "http://homeassistant.local:8123",
		ListenAddr:      ":8099",
		DiscoveryPrefix: "homeassistant",
		MQTTInterval:    MQTTTransmitInterval,
		DeviceID:        "jkbms",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if c.HassToken == "" {
		return fmt.Errorf("home assistant access token is required")
	}

	u, err := url.Parse(c.HassURL)
	if err != nil {
		return fmt.Errorf("invalid home assistant URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("home assistant URL must use http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("home assistant URL has no host")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	// MQTT validation - support both WebSocket and standard MQTT protocols
	if c.MQTTUrl != "" {
		if !strings.HasPrefix(c.MQTTUrl, "ws://") &&
			!strings.HasPrefix(c.MQTTUrl, "wss://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtt://") &&
			!strings.HasPrefix(c.MQTTUrl, "mqtts://") {
			return fmt.Errorf("MQTT URL must use supported protocol (ws://, wss://, mqtt://, or mqtts://)")
		}
	}

	if c.MQTTInterval <= 0 {
		c.MQTTInterval = MQTTTransmitInterval
	}

	return nil
}

// HasMQTT returns true if MQTT is configured
func (c *Config) HasMQTT() bool {
	return c.MQTTUrl != ""
}

// WebSocketURL returns the Home Assistant WebSocket API endpoint derived from
// HassURL.
func (c *Config) WebSocketURL() (string, error) {
	u, err := url.Parse(c.HassURL)
	if err != nil {
		return "", fmt.Errorf("invalid home assistant URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	u.RawQuery = ""
	return u.String(), nil
}
