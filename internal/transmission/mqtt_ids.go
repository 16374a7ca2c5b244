package transmission

// MQTTMetrics is the authoritative list of derived values we publish via MQTT
// (state + Home-Assistant discovery). EntityID must match a json tag of
// Metrics; edit this slice to add or remove entities.
var MQTTMetrics = []SensorConfig{
	{Name: "Delta Cell Voltage", EntityID: "delta_cell_voltage", EntityType: "sensor", DeviceClass: "voltage", Unit: "V", StateClass: "measurement", Icon: "mdi:battery-heart-variant"},
	{Name: "Min Cell", EntityID: "min_cell", EntityType: "sensor", Icon: "mdi:battery-arrow-down", Category: "diagnostic"},
	{Name: "Min Cell Voltage", EntityID: "min_cell_voltage", EntityType: "sensor", DeviceClass: "voltage", Unit: "V", StateClass: "measurement"},
	{Name: "Max Cell", EntityID: "max_cell", EntityType: "sensor", Icon: "mdi:battery-arrow-up", Category: "diagnostic"},
	{Name: "Max Cell Voltage", EntityID: "max_cell_voltage", EntityType: "sensor", DeviceClass: "voltage", Unit: "V", StateClass: "measurement"},
	{Name: "Average Cell Voltage", EntityID: "average_cell_voltage", EntityType: "sensor", DeviceClass: "voltage", Unit: "V", StateClass: "measurement"},
	{Name: "Cells Reporting", EntityID: "cells_reporting", EntityType: "sensor", Icon: "mdi:counter", Category: "diagnostic"},
	{Name: "Flow", EntityID: "flow", EntityType: "sensor", Icon: "mdi:transmission-tower-export"},
	{
		Name:          "Balance Needed",
		EntityID:      "balance_needed",
		EntityType:    "binary_sensor",
		Icon:          "mdi:scale-balance",
		ValueTemplate: "{{ 'ON' if value_json.balance_needed | default(false) else 'OFF' }}",
	},
}
