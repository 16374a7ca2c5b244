// Package console prints a built panel as tables, for the -debug mode.
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	lowColor  = color.New(color.FgYellow, color.Bold)
	highColor = color.New(color.FgRed, color.Bold)
	onColor   = color.New(color.FgGreen)
	offColor  = color.New(color.FgHiBlack)
)

// PrintView writes the overview, metric and cell tables of v to w.
func PrintView(w io.Writer, v *panel.View) error {
	fmt.Fprintf(w, "%s (%s)\n", v.Title, v.Generated.Format("2006-01-02 15:04:05"))
	if err := printOverview(w, v); err != nil {
		return err
	}
	if err := printMetrics(w, v); err != nil {
		return err
	}
	return printCells(w, v)
}

func switchLabel(s panel.Switch) string {
	if s.On {
		return onColor.Sprint(s.Label())
	}
	return offColor.Sprint(s.Label())
}

func flowLabel(v *panel.View) string {
	switch {
	case v.ChargeFlow:
		return "charging"
	case v.DischargeFlow:
		return "discharging"
	default:
		return "idle"
	}
}

func printOverview(w io.Writer, v *panel.View) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Value", "State", "Entity"})

	data := [][]string{
		{"Runtime", v.Runtime.Text, v.Runtime.EntityID},
		{"SOC", v.SOC.Text + " %", v.SOC.EntityID},
		{"Capacity", v.CapacityRemaining.Text + " / " + v.TotalCapacity.Text + " Ah", v.CapacityRemaining.EntityID},
		{"Total Voltage", v.TotalVoltage.Text + " V", v.TotalVoltage.EntityID},
		{"Current", v.Current.Text + " A", v.Current.EntityID},
		{"Power", v.Power.Text + " W", v.Power.EntityID},
		{"Flow", flowLabel(v), ""},
		{"Charging", switchLabel(v.ChargeSwitch), v.ChargeSwitch.EntityID},
		{"Discharging", switchLabel(v.DischargeSwitch), v.DischargeSwitch.EntityID},
		{"Balancer", switchLabel(v.BalancerSwitch), v.BalancerSwitch.EntityID},
	}
	if v.Heater != nil {
		data = append(data, []string{"Heater", switchLabel(*v.Heater), v.Heater.EntityID})
	}
	data = append(data,
		[]string{"Balancing Current", v.BalancingCurrent.Text + " A", v.BalancingCurrent.EntityID},
		[]string{"Balance Trigger", v.BalanceTrigger.Text + " V", v.BalanceTrigger.EntityID},
		[]string{"Delta", v.DeltaVoltage.Text, ""},
	)
	for _, t := range v.Temperatures {
		data = append(data, []string{"Temp " + strconv.Itoa(t.Index), t.Value.Text + " °C", t.Value.EntityID})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printMetrics(w io.Writer, v *panel.View) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Metric", "Value", "Range", "Points"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, m := range v.Metrics {
		rng := "-"
		if !m.Spark.Empty {
			rng = fmt.Sprintf("%.3f .. %.3f", m.Spark.Min, m.Spark.Max)
		}
		data = append(data, []string{m.Label, strings.TrimSpace(m.Value.Text + " " + m.Unit), rng, strconv.Itoa(len(m.Spark.Coords))})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func printCells(w io.Writer, v *panel.View) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Cell", "Voltage", "Resistance", "Fill", ""})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, c := range v.Cells {
		mark := ""
		switch c.Class {
		case panel.ClassCellLow:
			mark = lowColor.Sprint("min")
		case panel.ClassCellHigh:
			mark = highColor.Sprint("max")
		}
		data = append(data, []string{
			c.Label,
			c.Voltage.Text,
			c.Resistance.Text,
			fmt.Sprintf("%.0f%%", c.Percent),
			mark,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
