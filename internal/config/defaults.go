package config

import "time"

// Central place for all application-wide timing constants and other defaults.
// Changing a value here immediately affects all components that import
// github.com/jkaberg/jkbms-reactor/internal/config.

const (
	// History refresh: the card re-fetches the full window this often.
	HistoryRefreshInterval = 60 * time.Second

	// Polling / transmission intervals
	MQTTTransmitInterval = 60 * time.Second // Publish derived metrics to MQTT
	HassReconnectDelay   = 10 * time.Second // Wait before re-dialling Home Assistant

	// Operation time-outs (to avoid blocking goroutines)
	HassTimeout         = 10 * time.Second // Home Assistant WebSocket command
	HassDialTimeout     = 8 * time.Second  // WebSocket handshake + auth
	MQTTTimeout         = 5 * time.Second  // MQTT publish
	HTTPShutdownTimeout = 5 * time.Second  // Graceful panel server shutdown
)
