package transmission

import (
	"math"
	"strconv"

	"github.com/jkaberg/jkbms-reactor/internal/panel"
)

// Flow states reported on MQTT.
const (
	FlowCharging    = "charging"
	FlowDischarging = "discharging"
	FlowIdle        = "idle"
)

// Metrics are the values the reactor derives from the raw BMS entities.
// Pointer fields are nil when the inputs are missing.
type Metrics struct {
	DeltaCellVoltage   *float64 `json:"delta_cell_voltage"`
	MinCell            *int     `json:"min_cell"`
	MinCellVoltage     *float64 `json:"min_cell_voltage"`
	MaxCell            *int     `json:"max_cell"`
	MaxCellVoltage     *float64 `json:"max_cell_voltage"`
	AverageCellVoltage *float64 `json:"average_cell_voltage"`
	CellsReporting     int      `json:"cells_reporting"`
	Flow               string   `json:"flow"`
	BalanceNeeded      *bool    `json:"balance_needed"`
}

// DeriveMetrics computes Metrics from a built panel view.
func DeriveMetrics(v *panel.View) Metrics {
	m := Metrics{Flow: FlowIdle}
	switch {
	case v.ChargeFlow:
		m.Flow = FlowCharging
	case v.DischargeFlow:
		m.Flow = FlowDischarging
	}

	var sum float64
	for _, c := range v.Cells {
		volts, ok := cellVolts(c)
		if !ok {
			continue
		}
		m.CellsReporting++
		sum += volts

		if c.Index == v.MinCell {
			idx, val := c.Index, volts
			m.MinCell, m.MinCellVoltage = &idx, &val
		}
		if c.Index == v.MaxCell {
			idx, val := c.Index, volts
			m.MaxCell, m.MaxCellVoltage = &idx, &val
		}
	}
	if m.CellsReporting == 0 {
		return m
	}

	avg := math.Round(sum/float64(m.CellsReporting)*1000) / 1000
	delta := v.DeltaVolts
	m.AverageCellVoltage = &avg
	m.DeltaCellVoltage = &delta

	if trigger, err := strconv.ParseFloat(v.BalanceTrigger.Text, 64); err == nil && trigger > 0 {
		need := delta >= trigger
		m.BalanceNeeded = &need
	}
	return m
}

// cellVolts parses the voltage of c. Cells shown with the zero placeholder
// do not report.
func cellVolts(c panel.Cell) (float64, bool) {
	v, err := strconv.ParseFloat(c.Voltage.Text, 64)
	return v, err == nil && panel.CellReporting(v)
}
