package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/app"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/console"
	"github.com/jkaberg/jkbms-reactor/internal/mqtt"
	"github.com/jkaberg/jkbms-reactor/internal/transmission"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg, debugMode := parseFlags()
	logger := setupLogger(cfg.Verbose || debugMode)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	card, err := config.LoadCard(cfg.CardConfigPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load card config")
	}

	// Debug path ------------------------------------------------------------------
	if debugMode {
		runDebugMode(cfg, card, logger)
		return
	}

	logger.WithFields(logrus.Fields{
		"version":    version,
		"device_id":  cfg.DeviceID,
		"hass_url":   cfg.HassURL,
		"listen":     cfg.ListenAddr,
		"card":       cfg.CardConfigPath,
		"cell_count": card.CellCount,
		"layout":     card.Layout,
		"mqtt_int":   cfg.MQTTInterval,
	}).Info("Starting JK-BMS reactor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Transmitters ---------------------------------------------------------------
	transmission.Version = version
	var mqttTx transmission.Transmitter
	if cfg.HasMQTT() {
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer mqttClient.Disconnect(250)
		mqttTx = transmission.NewMQTTTransmitter(mqttClient, cfg.DiscoveryPrefix, logger)
		logger.Info("MQTT transmitter ready")
	} else {
		logger.Info("No MQTT broker configured; derived metrics are only served on the panel")
	}

	// Run application ------------------------------------------------------------
	a, err := app.New(cfg, card, mqttTx, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up application")
	}
	if err := a.Run(ctx); err != nil {
		logger.WithError(err).Error("Application stopped with error")
		cancel()
		os.Exit(1)
	}

	logger.Info("JK-BMS reactor stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() (*config.Config, bool) {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")
	debug := flag.Bool("debug", false, "Print the panel built from the current Home Assistant state and exit")

	flag.StringVar(&cfg.HassURL, "hass-url", getEnv("JKBMS_REACTOR_HASS_URL", cfg.HassURL), "Home Assistant base URL")
	flag.StringVar(&cfg.HassToken, "hass-token", getEnv("JKBMS_REACTOR_HASS_TOKEN", cfg.HassToken), "Home Assistant long-lived access token")
	flag.BoolVar(&cfg.HassInsecure, "hass-insecure", getEnv("JKBMS_REACTOR_HASS_INSECURE", "false") == "true", "Skip TLS verification for Home Assistant")
	flag.StringVar(&cfg.ListenAddr, "listen", getEnv("JKBMS_REACTOR_LISTEN", cfg.ListenAddr), "Panel HTTP listen address")
	flag.StringVar(&cfg.CardConfigPath, "card-config", getEnv("JKBMS_REACTOR_CARD_CONFIG", cfg.CardConfigPath), "Card config YAML file")
	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("JKBMS_REACTOR_MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	flag.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("JKBMS_REACTOR_DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	flag.StringVar(&cfg.DeviceID, "device-id", getEnv("JKBMS_REACTOR_DEVICE_ID", cfg.DeviceID), "Device identifier")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("JKBMS_REACTOR_VERBOSE", "false") == "true", "Verbose logging")

	mqttIntervalStr := flag.String("mqtt-interval", getEnv("JKBMS_REACTOR_MQTT_INTERVAL", ""), "MQTT interval (e.g. 60s)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("jkbms-reactor %s\n", version)
		os.Exit(0)
	}

	if d, ok := parseInterval(*mqttIntervalStr); ok {
		cfg.MQTTInterval = d
	}

	return cfg, *debug
}

// parseInterval accepts a Go duration or a plain number of seconds.
func parseInterval(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func runDebugMode(cfg *config.Config, card *config.Card, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), config.HassDialTimeout+2*config.HassTimeout)
	defer cancel()

	v, err := app.Inspect(ctx, cfg, card, logger)
	if err != nil {
		logger.WithError(err).Fatal("Debug mode failed")
	}
	if err := console.PrintView(os.Stdout, v); err != nil {
		logger.WithError(err).Fatal("Failed to print panel")
	}
}
