package entities

import (
	"fmt"
	"sort"
)

// Key names a logical JK-BMS value. Unless overridden in the card config it is
// also the suffix of the Home Assistant entity id (sensor.<prefix>_<key>).
type Key string

// Kind is the Home Assistant domain an entity lives in.
type Kind string

const (
	KindSensor Kind = "sensor"
	KindSwitch Kind = "switch"
	KindNumber Kind = "number"
)

// MaxCells and MaxTempSensors bound the numbered key families.
const (
	MaxCells       = 48
	MaxTempSensors = 4
)

const (
	TotalVoltage                Key = "total_voltage"
	Current                     Key = "current"
	Power                       Key = "power"
	ChargingPower               Key = "charging_power"
	DischargingPower            Key = "discharging_power"
	StateOfCharge               Key = "state_of_charge"
	CapacityRemaining           Key = "capacity_remaining"
	TotalBatteryCapacitySetting Key = "total_battery_capacity_setting"
	ChargingCycles              Key = "charging_cycles"
	TotalRuntimeFormatted       Key = "total_runtime_formatted"
	DeltaCellVoltage            Key = "delta_cell_voltage"
	AverageCellVoltage          Key = "average_cell_voltage"
	MinCellVoltage              Key = "min_cell_voltage"
	MaxCellVoltage              Key = "max_cell_voltage"
	MinVoltageCell              Key = "min_voltage_cell"
	MaxVoltageCell              Key = "max_voltage_cell"
	PowerTubeTemperature        Key = "power_tube_temperature"
	BalancingCurrent            Key = "balancing_current"
	Errors                      Key = "errors"

	Charging    Key = "charging"
	Discharging Key = "discharging"
	Balancer    Key = "balancer"
	Heating     Key = "heating"

	BalanceTriggerVoltage Key = "balance_trigger_voltage"
)

// Definition holds display metadata for a key.
type Definition struct {
	Key       Key
	Kind      Kind
	Name      string
	Unit      string
	Precision int
}

var definitions = []Definition{
	{TotalVoltage, KindSensor, "Total Voltage", "V", 2},
	{Current, KindSensor, "Current", "A", 2},
	{Power, KindSensor, "Power", "W", 1},
	{ChargingPower, KindSensor, "Charging Power", "W", 1},
	{DischargingPower, KindSensor, "Discharging Power", "W", 1},
	{StateOfCharge, KindSensor, "State of Charge", "%", 0},
	{CapacityRemaining, KindSensor, "Capacity Remaining", "Ah", 1},
	{TotalBatteryCapacitySetting, KindSensor, "Total Battery Capacity", "Ah", 0},
	{ChargingCycles, KindSensor, "Charging Cycles", "", 0},
	{TotalRuntimeFormatted, KindSensor, "Total Runtime", "", 0},
	{DeltaCellVoltage, KindSensor, "Delta Cell Voltage", "V", 3},
	{AverageCellVoltage, KindSensor, "Average Cell Voltage", "V", 3},
	{MinCellVoltage, KindSensor, "Min Cell Voltage", "V", 3},
	{MaxCellVoltage, KindSensor, "Max Cell Voltage", "V", 3},
	{MinVoltageCell, KindSensor, "Min Voltage Cell", "", 0},
	{MaxVoltageCell, KindSensor, "Max Voltage Cell", "", 0},
	{PowerTubeTemperature, KindSensor, "MOS Temperature", "°C", 1},
	{BalancingCurrent, KindSensor, "Balancing Current", "A", 3},
	{Errors, KindSensor, "Errors", "", 0},
	{Charging, KindSwitch, "Charging", "", 0},
	{Discharging, KindSwitch, "Discharging", "", 0},
	{Balancer, KindSwitch, "Balancer", "", 0},
	{Heating, KindSwitch, "Heating", "", 0},
	{BalanceTriggerVoltage, KindNumber, "Balance Trigger Voltage", "V", 3},
}

var byKey = buildIndex()

func buildIndex() map[Key]Definition {
	idx := make(map[Key]Definition, len(definitions)+2*MaxCells+MaxTempSensors)
	for _, d := range definitions {
		idx[d.Key] = d
	}
	for i := 1; i <= MaxCells; i++ {
		idx[CellVoltage(i)] = Definition{CellVoltage(i), KindSensor, fmt.Sprintf("Cell Voltage %d", i), "V", 3}
		idx[CellResistance(i)] = Definition{CellResistance(i), KindSensor, fmt.Sprintf("Cell Resistance %d", i), "Ω", 3}
	}
	for i := 1; i <= MaxTempSensors; i++ {
		idx[TemperatureSensor(i)] = Definition{TemperatureSensor(i), KindSensor, fmt.Sprintf("Temperature Sensor %d", i), "°C", 1}
	}
	return idx
}

// CellVoltage returns the key of cell n (1-based).
func CellVoltage(n int) Key { return Key(fmt.Sprintf("cell_voltage_%d", n)) }

// CellResistance returns the resistance key of cell n (1-based).
func CellResistance(n int) Key { return Key(fmt.Sprintf("cell_resistance_%d", n)) }

// TemperatureSensor returns the key of temperature probe n (1-based).
func TemperatureSensor(n int) Key { return Key(fmt.Sprintf("temperature_sensor_%d", n)) }

// Lookup returns the definition of k.
func Lookup(k Key) (Definition, bool) {
	d, ok := byKey[k]
	return d, ok
}

// Known reports whether k is a recognised key.
func Known(k Key) bool {
	_, ok := byKey[k]
	return ok
}

// All returns every known key in sorted order.
func All() []Key {
	keys := make([]Key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// HistoryKeys are the values the reactor panel keeps sparkline history for.
var HistoryKeys = []Key{TotalVoltage, Current, PowerTubeTemperature, DeltaCellVoltage}
