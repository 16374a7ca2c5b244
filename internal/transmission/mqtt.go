package transmission

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/jkaberg/jkbms-reactor/internal/mqtt"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/sirupsen/logrus"
)

// Version is reported as sw_version in the discovery device block.
var Version = "dev"

// MQTTTransmitter publishes derived reactor metrics via MQTT
type MQTTTransmitter struct {
	client           *mqtt.Client
	deviceID         string
	discoveryPrefix  string
	logger           *logrus.Logger
	publishedSensors map[string]bool // Tracks published discovery configs
}

// HADiscoveryConfig represents Home Assistant MQTT discovery configuration
type HADiscoveryConfig struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	Device            HADevice `json:"device"`
	AvailabilityTopic string   `json:"availability_topic"`
	Icon              string   `json:"icon,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
}

// HADevice represents the device information for Home Assistant
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SensorConfig defines the configuration for each published entity
type SensorConfig struct {
	Name          string
	EntityID      string
	EntityType    string
	DeviceClass   string
	Unit          string
	Icon          string
	StateClass    string
	Category      string
	ValueTemplate string // defaults to value_json.<EntityID>
}

// NewMQTTTransmitter creates a new MQTT transmitter
func NewMQTTTransmitter(client *mqtt.Client, discoveryPrefix string, logger *logrus.Logger) *MQTTTransmitter {
	return &MQTTTransmitter{
		client:           client,
		deviceID:         client.GetDeviceID(),
		discoveryPrefix:  discoveryPrefix,
		logger:           logger,
		publishedSensors: make(map[string]bool),
	}
}

func (t *MQTTTransmitter) device(title string) HADevice {
	return HADevice{
		Identifiers:  []string{fmt.Sprintf("%s_%s", mqtt.TopicRoot, t.deviceID)},
		Name:         fmt.Sprintf("JK-BMS Reactor %s", title),
		Model:        "JK-BMS",
		Manufacturer: "Jikong",
		SWVersion:    Version,
	}
}

// publishDiscoveryForSensor publishes the discovery config for a single entity.
func (t *MQTTTransmitter) publishDiscoveryForSensor(sensor SensorConfig, device HADevice) error {
	uniqueID := fmt.Sprintf("%s_%s", t.deviceID, sensor.EntityID)

	// Skip if already published
	if t.publishedSensors[uniqueID] {
		return nil
	}

	config := HADiscoveryConfig{
		Name:              sensor.Name,
		UniqueID:          uniqueID,
		StateTopic:        t.client.GetStateTopic(),
		ValueTemplate:     sensor.ValueTemplate,
		AvailabilityTopic: t.client.GetAvailabilityTopic(),
		Device:            device,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.Unit,
		Icon:              sensor.Icon,
		StateClass:        sensor.StateClass,
		EntityCategory:    sensor.Category,
	}
	if config.ValueTemplate == "" {
		config.ValueTemplate = fmt.Sprintf("{{ value_json.%s | default(0) }}", sensor.EntityID)
	}

	topic := t.client.GetDiscoveryTopic(t.discoveryPrefix, sensor.EntityType, sensor.EntityID)
	if err := t.publishConfigRaw(topic, config); err != nil {
		return fmt.Errorf("failed to publish %s discovery config: %w", sensor.Name, err)
	}

	t.logger.WithFields(logrus.Fields{
		"sensor_name": sensor.Name,
		"entity_id":   sensor.EntityID,
		"topic":       topic,
	}).Info("Published sensor discovery config")

	t.publishedSensors[uniqueID] = true
	return nil
}

// publishDiscoveryConfigs ensures every entity in MQTTMetrics has its discovery config published.
func (t *MQTTTransmitter) publishDiscoveryConfigs(title string) {
	device := t.device(title)
	for _, config := range MQTTMetrics {
		// Entities are announced even before they have a value; the
		// value templates fall back to a default.
		if err := t.publishDiscoveryForSensor(config, device); err != nil {
			t.logger.WithError(err).WithField("sensor", config.Name).Error("Failed to publish discovery config")
		}
	}
}

// publishConfigRaw publishes a raw configuration object
func (t *MQTTTransmitter) publishConfigRaw(topic string, config interface{}) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery config: %w", err)
	}

	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish discovery config to %s: %w", topic, err)
	}

	return nil
}

// buildStatePayload builds the JSON payload for the state topic. Only fields
// listed in MQTTMetrics are included and nil values are left out.
func buildStatePayload(m Metrics) ([]byte, error) {
	allowed := make(map[string]struct{}, len(MQTTMetrics))
	for _, s := range MQTTMetrics {
		allowed[s.EntityID] = struct{}{}
	}

	state := make(map[string]interface{})
	v := reflect.ValueOf(m)
	tOf := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)

		// Skip unexported fields or fields that are nil
		if !field.CanInterface() || (field.Kind() == reflect.Ptr && field.IsNil()) {
			continue
		}

		jsonKey := strings.Split(tOf.Field(i).Tag.Get("json"), ",")[0]
		if jsonKey == "" || jsonKey == "-" {
			continue
		}
		if _, ok := allowed[jsonKey]; !ok {
			continue // not in MQTT allow-list
		}

		if field.Kind() == reflect.Ptr {
			state[jsonKey] = field.Elem().Interface()
		} else {
			state[jsonKey] = field.Interface()
		}
	}

	return json.Marshal(state)
}

// Transmit publishes the metrics derived from v
func (t *MQTTTransmitter) Transmit(v *panel.View) error {
	if !t.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	t.publishDiscoveryConfigs(v.Title)

	if err := t.publishState(DeriveMetrics(v)); err != nil {
		return fmt.Errorf("failed to publish metrics: %w", err)
	}

	if err := t.client.PublishAvailability(true); err != nil {
		return fmt.Errorf("failed to publish availability: %w", err)
	}

	t.logger.Debug("Metrics transmitted successfully")
	return nil
}

func (t *MQTTTransmitter) publishState(m Metrics) error {
	payload, err := buildStatePayload(m)
	if err != nil {
		return fmt.Errorf("failed to build state payload: %w", err)
	}

	topic := t.client.GetStateTopic()
	if err := t.client.Publish(topic, payload, true); err != nil {
		return fmt.Errorf("failed to publish state to %s: %w", topic, err)
	}

	t.logger.WithFields(logrus.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("Published reactor metrics")

	return nil
}

// IsConnected checks if the MQTT client is connected
func (t *MQTTTransmitter) IsConnected() bool {
	return t.client.IsConnected()
}
