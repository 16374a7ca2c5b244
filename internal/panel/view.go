// Package panel builds the JK-BMS reactor panel from a state snapshot and the
// sparkline history, and renders it as HTML/SVG.
package panel

import (
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/sparkline"
)

// Cell voltage window mapped onto the 0..100% fill bar (LiFePO4 working range).
const (
	CellEmptyVoltage = 2.8
	CellFullVoltage  = 3.65
)

// Sparkline colours.
const (
	ColorGreen  = "#41CD52"
	ColorBlue   = "#3090c7"
	ColorOrange = "#FFA500"
)

// CSS classes for the cell voltage readout.
const (
	ClassCellLow  = "cell-low"
	ClassCellHigh = "cell-high"
	ClassNormal   = "val-white"
)

// Value is a formatted reading and the entity it came from.
type Value struct {
	EntityID string `json:"entity_id"`
	Text     string `json:"text"`
}

// Switch is an on/off entity.
type Switch struct {
	EntityID string `json:"entity_id"`
	On       bool   `json:"on"`
}

// Label returns ON or OFF.
func (s Switch) Label() string {
	if s.On {
		return "ON"
	}
	return "OFF"
}

// Metric is one stat tile with its background sparkline.
type Metric struct {
	Label string             `json:"label"`
	Value Value              `json:"value"`
	Unit  string             `json:"unit"`
	Class string             `json:"class"`
	Color string             `json:"color"`
	Spark sparkline.PathSpec `json:"sparkline"`
}

// Cell is one entry of the cell grid.
type Cell struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Voltage    Value   `json:"voltage"`
	Resistance Value   `json:"resistance"`
	Class      string  `json:"class"`
	Percent    float64 `json:"percent"`
}

// Temperature is one temperature probe reading.
type Temperature struct {
	Index int   `json:"index"`
	Value Value `json:"value"`
}

// View is everything the panel shows. Views are built fresh for every change
// and never modified afterwards.
type View struct {
	Generated time.Time `json:"generated"`
	Layout    string    `json:"layout"`
	Title     string    `json:"title"`
	Runtime   Value     `json:"runtime"`

	// ChargeFlow and DischargeFlow follow the sign of the current.
	ChargeFlow      bool    `json:"charge_flow"`
	DischargeFlow   bool    `json:"discharge_flow"`
	ChargeSwitch    Switch  `json:"charge_switch"`
	DischargeSwitch Switch  `json:"discharge_switch"`
	BalancerSwitch  Switch  `json:"balancer_switch"`
	Heater          *Switch `json:"heater,omitempty"`

	SOC               Value `json:"soc"`
	CapacityRemaining Value `json:"capacity_remaining"`
	TotalCapacity     Value `json:"total_capacity"`
	TotalVoltage      Value `json:"total_voltage"`
	Current           Value `json:"current"`
	Power             Value `json:"power"`
	MOSTemperature    Value `json:"mos_temperature"`
	DeltaVoltage      Value `json:"delta_voltage"`
	BalancingCurrent  Value `json:"balancing_current"`
	BalanceTrigger    Value `json:"balance_trigger"`

	// DeltaVolts is the spread between the highest and lowest cell, in volts.
	DeltaVolts float64 `json:"delta_volts"`
	// MinCell and MaxCell are 1-based cell numbers, 0 when no cell reports.
	MinCell int `json:"min_cell"`
	MaxCell int `json:"max_cell"`

	Metrics      []Metric      `json:"metrics"`
	CellColumns  int           `json:"cell_columns"`
	Cells        []Cell        `json:"cells"`
	Temperatures []Temperature `json:"temperatures"`
}
