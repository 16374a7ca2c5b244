package transmission

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/mqtt"
	"github.com/jkaberg/jkbms-reactor/internal/mqtt/mqtttest"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1717243200000)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testView(states map[string]string) *panel.View {
	card := config.DefaultCard()
	card.CellCount = 4
	card.Title = "Shed"

	var list []domain.EntityState
	for id, s := range states {
		list = append(list, domain.EntityState{EntityID: id, State: s, LastUpdated: now})
	}
	return panel.Build(card, domain.NewSnapshot(now, list...), history.NewStore(), now)
}

func packStates() map[string]string {
	return map[string]string{
		"sensor.jk_bms_cell_voltage_1":          "3.310",
		"sensor.jk_bms_cell_voltage_2":          "3.300",
		"sensor.jk_bms_cell_voltage_3":          "3.330",
		"sensor.jk_bms_current":                 "5.2",
		"number.jk_bms_balance_trigger_voltage": "0.02",
	}
}

func TestDeriveMetrics(t *testing.T) {
	m := DeriveMetrics(testView(packStates()))

	assert.Equal(t, FlowCharging, m.Flow)
	assert.Equal(t, 3, m.CellsReporting)
	require.NotNil(t, m.MinCell)
	assert.Equal(t, 2, *m.MinCell)
	assert.Equal(t, 3.3, *m.MinCellVoltage)
	assert.Equal(t, 3, *m.MaxCell)
	assert.Equal(t, 3.33, *m.MaxCellVoltage)
	assert.Equal(t, 0.03, *m.DeltaCellVoltage)
	assert.Equal(t, 3.313, *m.AverageCellVoltage)
	require.NotNil(t, m.BalanceNeeded)
	assert.True(t, *m.BalanceNeeded)
}

func TestDeriveMetricsNoCells(t *testing.T) {
	m := DeriveMetrics(testView(map[string]string{"sensor.jk_bms_current": "-1"}))
	assert.Equal(t, FlowDischarging, m.Flow)
	assert.Zero(t, m.CellsReporting)
	assert.Nil(t, m.MinCell)
	assert.Nil(t, m.AverageCellVoltage)
	assert.Nil(t, m.BalanceNeeded)
}

func TestDeriveMetricsZeroCellAgreesWithPanel(t *testing.T) {
	states := packStates()
	states["sensor.jk_bms_cell_voltage_4"] = "0"
	v := testView(states)
	m := DeriveMetrics(v)

	assert.Equal(t, 3, m.CellsReporting)
	require.NotNil(t, m.MinCell)
	assert.Equal(t, v.MinCell, *m.MinCell)
	assert.Equal(t, 3.3, *m.MinCellVoltage)
	assert.Equal(t, 0.03, *m.DeltaCellVoltage)
}

func TestBuildStatePayload(t *testing.T) {
	payload, err := buildStatePayload(DeriveMetrics(testView(map[string]string{})))
	require.NoError(t, err)
	assert.JSONEq(t, `{"cells_reporting":0,"flow":"idle"}`, string(payload))
}

func TestTransmit(t *testing.T) {
	url := mqtttest.StartBroker(t)
	rec := mqtttest.Subscribe(t, url, "#")

	client, err := mqtt.NewClient(url, "shed", quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(100) })

	tx := NewMQTTTransmitter(client, "homeassistant", quietLogger())
	var _ Transmitter = tx
	assert.True(t, tx.IsConnected())

	require.NoError(t, tx.Transmit(testView(packStates())))
	require.NoError(t, tx.Transmit(testView(packStates())))

	require.Eventually(t, func() bool { return rec.Count("jkbms_reactor/shed/state") == 2 }, 5*time.Second, 10*time.Millisecond)

	state, _ := rec.Last("jkbms_reactor/shed/state")
	var got map[string]any
	require.NoError(t, json.Unmarshal(state.Payload, &got))
	assert.Equal(t, "charging", got["flow"])
	assert.Equal(t, 0.03, got["delta_cell_voltage"])
	assert.Equal(t, true, got["balance_needed"])

	avail, ok := rec.Last("jkbms_reactor/shed/availability")
	require.True(t, ok)
	assert.Equal(t, "online", string(avail.Payload))

	topic := "homeassistant/sensor/jkbms_reactor_shed/delta_cell_voltage/config"
	disc, ok := rec.Last(topic)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count(topic), "discovery is published once")

	var cfg HADiscoveryConfig
	require.NoError(t, json.Unmarshal(disc.Payload, &cfg))
	assert.Equal(t, "shed_delta_cell_voltage", cfg.UniqueID)
	assert.Equal(t, "jkbms_reactor/shed/state", cfg.StateTopic)
	assert.Equal(t, "{{ value_json.delta_cell_voltage | default(0) }}", cfg.ValueTemplate)
	assert.Equal(t, "JK-BMS Reactor Shed", cfg.Device.Name)

	_, ok = rec.Last("homeassistant/binary_sensor/jkbms_reactor_shed/balance_needed/config")
	assert.True(t, ok)
}
