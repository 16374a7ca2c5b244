package panel

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/entities"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/sparkline"
)

// DefaultTitle is shown when the card has no title.
const DefaultTitle = "Bat 1"

// builder carries the inputs of one Build call.
type builder struct {
	card *config.Card
	snap *domain.Snapshot
	res  entities.Resolver
}

func (b builder) id(k entities.Key) string { return b.res.ResolveDefault(k) }

// value formats key k using its definition's precision.
func (b builder) value(k entities.Key, def string) Value {
	precision := 2
	if d, ok := entities.Lookup(k); ok {
		precision = d.Precision
	}
	return b.valueP(k, precision, def)
}

func (b builder) valueP(k entities.Key, precision int, def string) Value {
	id := b.id(k)
	return Value{EntityID: id, Text: formatState(b.snap, id, precision, def)}
}

func (b builder) toggle(k entities.Key) Switch {
	id := b.res.Resolve(k, entities.KindSwitch)
	return Switch{EntityID: id, On: isOn(b.snap, id)}
}

// Build assembles the panel for card from the state snapshot and the history
// store. A nil snapshot renders every reading with its placeholder.
func Build(card *config.Card, snap *domain.Snapshot, store history.Store, now time.Time) *View {
	b := builder{card: card, snap: snap, res: card.Resolver()}

	v := &View{
		Generated:       now,
		Layout:          card.Layout,
		Title:           card.Title,
		ChargeSwitch:    b.toggle(entities.Charging),
		DischargeSwitch: b.toggle(entities.Discharging),
		BalancerSwitch:  b.toggle(entities.Balancer),
		CellColumns:     card.CellColumns,
	}
	if v.Title == "" {
		v.Title = DefaultTitle
	}
	if card.Heater() {
		h := b.toggle(entities.Heating)
		v.Heater = &h
	}

	runtime := b.value(entities.TotalRuntimeFormatted, "")
	if runtime.Text != "" && runtime.Text != StateUnknown {
		runtime.Text = strings.ToUpper(runtime.Text)
		v.Runtime = runtime
	} else {
		v.Runtime = Value{EntityID: runtime.EntityID}
	}

	v.SOC = b.value(entities.StateOfCharge, "")
	v.CapacityRemaining = b.value(entities.CapacityRemaining, "")
	v.TotalCapacity = b.value(entities.TotalBatteryCapacitySetting, "")
	v.TotalVoltage = b.value(entities.TotalVoltage, "")
	v.Power = b.value(entities.Power, "")
	v.MOSTemperature = b.value(entities.PowerTubeTemperature, "")
	v.BalancingCurrent = b.value(entities.BalancingCurrent, "")
	v.BalanceTrigger = b.value(entities.BalanceTriggerVoltage, "")

	current := b.value(entities.Current, "")
	if a, ok := parseNumber(current.Text); ok {
		v.ChargeFlow = a > 0
		v.DischargeFlow = a < 0
		current.Text = strconv.FormatFloat(a, 'f', -1, 64)
	}
	v.Current = current

	b.cells(v)
	v.DeltaVoltage = Value{EntityID: b.id(entities.DeltaCellVoltage), Text: formatDelta(v.DeltaVolts, card.DeltaVoltageUnit)}

	for i := 1; i <= card.TempSensorsCount; i++ {
		v.Temperatures = append(v.Temperatures, Temperature{
			Index: i,
			Value: b.value(entities.TemperatureSensor(i), ""),
		})
	}

	v.Metrics = b.metrics(v, store)
	return v
}

// cells fills the cell grid, min/max markers and the delta voltage.
func (b builder) cells(v *View) {
	n := b.card.CellCount
	byIndex := make([]Cell, n+1)

	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 1; i <= n; i++ {
		volt := b.valueP(entities.CellVoltage(i), 3, "")
		if x, ok := parseNumber(volt.Text); ok && CellReporting(x) {
			if x < lo {
				lo, v.MinCell = x, i
			}
			if x > hi {
				hi, v.MaxCell = x, i
			}
		}

		if volt.Text == "" {
			volt.Text = "0.000"
		}
		c := Cell{
			Index:      i,
			Label:      fmt.Sprintf("%02d", i),
			Voltage:    volt,
			Resistance: b.valueP(entities.CellResistance(i), 3, "0.000"),
			Class:      ClassNormal,
		}
		if x, ok := parseNumber(volt.Text); ok {
			c.Percent = fillPercent(x)
		}
		byIndex[i] = c
	}

	if v.MinCell != 0 {
		v.DeltaVolts = round3(hi - lo)
		byIndex[v.MaxCell].Class = ClassCellHigh
		// The low marker wins when every cell reads the same.
		byIndex[v.MinCell].Class = ClassCellLow
	}

	for _, i := range cellOrder(n, b.card.CellColumns, b.card.CellLayout) {
		v.Cells = append(v.Cells, byIndex[i])
	}
}

func (b builder) metrics(v *View, store history.Store) []Metric {
	opts := sparkline.Options{MinRange: b.card.SparklineMinRange, Padding: sparkline.DefaultPadding}
	spark := func(k entities.Key) sparkline.PathSpec {
		return sparkline.ToPath(store.Series(b.res.Resolve(k, entities.KindSensor)), sparkline.DefaultViewport, opts)
	}

	return []Metric{
		{Label: "Total Voltage", Value: v.TotalVoltage, Unit: "V", Class: ClassNormal, Color: ColorGreen, Spark: spark(entities.TotalVoltage)},
		{Label: "Current", Value: v.Current, Unit: "A", Class: ClassNormal, Color: ColorBlue, Spark: spark(entities.Current)},
		{Label: "MOS Temp", Value: v.MOSTemperature, Unit: "°C", Class: ClassNormal, Color: ColorOrange, Spark: spark(entities.PowerTubeTemperature)},
		{Label: "Delta V", Value: v.DeltaVoltage, Class: "val-green", Color: ColorGreen, Spark: spark(entities.DeltaCellVoltage)},
	}
}

// cellOrder returns cell numbers in display (row-major) order. Incremental
// numbers cells left to right; bank mode numbers them top to bottom, one
// column per bank.
func cellOrder(n, columns int, layout string) []int {
	order := make([]int, 0, n)
	if layout != config.CellLayoutBankMode || columns <= 1 {
		for i := 1; i <= n; i++ {
			order = append(order, i)
		}
		return order
	}

	rows := (n + columns - 1) / columns
	for r := 0; r < rows; r++ {
		for c := 0; c < columns; c++ {
			if i := c*rows + r + 1; i <= n {
				order = append(order, i)
			}
		}
	}
	return order
}

func fillPercent(volts float64) float64 {
	p := (volts - CellEmptyVoltage) / (CellFullVoltage - CellEmptyVoltage) * 100
	return math.Max(0, math.Min(100, p))
}

func formatDelta(volts float64, unit string) string {
	if unit == config.UnitMillivolt {
		return strconv.FormatFloat(volts*1000, 'f', 1, 64) + " mV"
	}
	return strconv.FormatFloat(volts, 'f', 3, 64) + " V"
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
