package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/sirupsen/logrus"
)

// TopicRoot is the first level of every state topic.
const TopicRoot = "jkbms_reactor"

// Client wraps the MQTT client with the reactor's topic layout
type Client struct {
	client   mqtt.Client
	deviceID string
	logger   *logrus.Logger
}

// BrokerURL maps the configured URL onto a paho broker address. mqtt and
// mqtts become tcp and ssl; ws and wss are used as they are.
func BrokerURL(mqttURL string) (string, *url.URL, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "ws", "wss":
		return mqttURL, parsedURL, nil
	case "mqtt":
		return strings.Replace(mqttURL, "mqtt://", "tcp://", 1), parsedURL, nil
	case "mqtts":
		return strings.Replace(mqttURL, "mqtts://", "ssl://", 1), parsedURL, nil
	default:
		return "", nil, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsedURL.Scheme)
	}
}

// NewClient creates a new MQTT client with support for both WebSocket and standard MQTT protocols
func NewClient(mqttURL, deviceID string, logger *logrus.Logger) (*Client, error) {
	brokerURL, parsedURL, err := BrokerURL(mqttURL)
	if err != nil {
		return nil, err
	}

	// Client ids must be unique per broker.
	clientID := fmt.Sprintf("jkbms-reactor-%s-%s", deviceID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions()
	if parsedURL.Scheme == "wss" || parsedURL.Scheme == "mqtts" {
		// Broker certificates are not verified
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}
	logger.WithField("protocol", parsedURL.Scheme).Debug("Using MQTT transport")

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(config.MQTTTimeout)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetWill(AvailabilityTopic(deviceID), "offline", 1, true)

	// Set credentials if provided in URL
	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})

	firstConnect := true
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		if firstConnect {
			logger.Debug("MQTT connected")
			firstConnect = false
		} else {
			logger.Info("MQTT reconnected")
		}
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(config.MQTTTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker: timed out after %s", config.MQTTTimeout)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"protocol":  parsedURL.Scheme,
		"client_id": clientID,
	}).Info("MQTT client connected")

	return &Client{
		client:   client,
		deviceID: deviceID,
		logger:   logger,
	}, nil
}

// Publish publishes a message to the specified topic
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	qos := byte(1) // At least once delivery
	token := c.client.Publish(topic, qos, retained, payload)

	if !token.WaitTimeout(config.MQTTTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, config.MQTTTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")

	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect marks the device offline and disconnects.
func (c *Client) Disconnect(quiesce uint) {
	if c.client.IsConnected() {
		if err := c.PublishAvailability(false); err != nil {
			c.logger.WithError(err).Debug("Failed to publish offline availability")
		}
	}
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// GetDeviceID returns the device ID
func (c *Client) GetDeviceID() string {
	return c.deviceID
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}

// BaseTopic returns the topic prefix of deviceID.
func BaseTopic(deviceID string) string {
	return BuildCleanTopic(TopicRoot, deviceID)
}

// AvailabilityTopic returns the retained online/offline topic of deviceID.
func AvailabilityTopic(deviceID string) string {
	return BaseTopic(deviceID) + "/availability"
}

// GetBaseTopic returns the base topic for this device
func (c *Client) GetBaseTopic() string {
	return BaseTopic(c.deviceID)
}

// GetDiscoveryTopic returns the Home Assistant discovery topic
func (c *Client) GetDiscoveryTopic(prefix, entityType, entityID string) string {
	return fmt.Sprintf("%s/%s/%s_%s/%s/config", prefix, entityType, TopicRoot, c.deviceID, entityID)
}

// GetStateTopic returns the state topic for this device
func (c *Client) GetStateTopic() string {
	return fmt.Sprintf("%s/state", c.GetBaseTopic())
}

// GetAvailabilityTopic returns the availability topic for this device
func (c *Client) GetAvailabilityTopic() string {
	return AvailabilityTopic(c.deviceID)
}

// PublishAvailability publishes device availability status
func (c *Client) PublishAvailability(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}

	return c.Publish(c.GetAvailabilityTopic(), []byte(status), true)
}

// BuildCleanTopic ensures topic follows MQTT standards
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		// Replace invalid characters
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
