package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jkaberg/jkbms-reactor/internal/bus"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1717243200000)

type fakeSource struct {
	view  atomic.Pointer[panel.View]
	store history.Store
	views *bus.Bus[*panel.View]
}

func (f *fakeSource) View() *panel.View { return f.view.Load() }
func (f *fakeSource) History() map[string]history.Series { return f.store.Snapshot() }
func (f *fakeSource) Views() *bus.Bus[*panel.View] { return f.views }

func (f *fakeSource) publish(v *panel.View) {
	f.view.Store(v)
	f.views.Publish(v)
}

func buildView(soc string) *panel.View {
	card := config.DefaultCard()
	card.CellCount = 2
	snap := domain.NewSnapshot(now,
		domain.EntityState{EntityID: "sensor.jk_bms_state_of_charge", State: soc, LastUpdated: now},
		domain.EntityState{EntityID: "sensor.jk_bms_cell_voltage_1", State: "3.31", LastUpdated: now},
		domain.EntityState{EntityID: "sensor.jk_bms_cell_voltage_2", State: "3.29", LastUpdated: now},
	)
	return panel.Build(card, snap, history.NewStore(), now)
}

func newTestServer(t *testing.T, connected func() bool) (*fakeSource, *httptest.Server) {
	t.Helper()

	src := &fakeSource{views: bus.New[*panel.View]()}
	src.store = history.Append(history.NewStore(), "sensor.jk_bms_total_voltage",
		history.Point{Value: 52.1, TimestampMs: now.UnixMilli()}, now)
	src.view.Store(buildView("81"))

	renderer, err := panel.NewRenderer("http://ha.local:8123")
	require.NoError(t, err)

	l := logrus.New()
	l.SetOutput(io.Discard)
	s := New("127.0.0.1:0", src, renderer, connected, l)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return src, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestIndexRendersPanel(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Bat 1")
	assert.Contains(t, body, "81")

	resp, _ = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIndexLayoutOverride(t *testing.T) {
	src, ts := newTestServer(t, nil)

	_, body := get(t, ts.URL+"/?layout=default")
	assert.Contains(t, body, "Balance Trigger")
	assert.Equal(t, config.LayoutCoreReactor, src.View().Layout, "override does not touch the published view")
}

func TestPanelJSON(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/api/v1/panel")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var v panel.View
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	assert.Equal(t, "81", v.SOC.Text)
	assert.Equal(t, 2, v.MinCell)
	assert.Equal(t, 1, v.MaxCell)
	assert.Len(t, v.Cells, 2)
}

func TestPanelRejectsPost(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/panel", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHistoryJSON(t *testing.T) {
	_, ts := newTestServer(t, nil)

	_, body := get(t, ts.URL+"/api/v1/history")
	var h HistoryResponse
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, int64(3600), h.RetentionSeconds)
	require.Contains(t, h.Series, "sensor.jk_bms_total_voltage")
	assert.Equal(t, 52.1, h.Series["sensor.jk_bms_total_voltage"][0].Value)

	_, body = get(t, ts.URL+"/api/v1/history?entity_id=sensor.jk_bms_current")
	h = HistoryResponse{}
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Empty(t, h.Series)
}

func TestHealth(t *testing.T) {
	var up atomic.Bool
	_, ts := newTestServer(t, up.Load)

	resp, body := get(t, ts.URL+"/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var h HealthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.HassConnected)

	up.Store(true)
	resp, body = get(t, ts.URL+"/api/v1/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	h = HealthResponse{}
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.LastView.Equal(now))
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readView(t *testing.T, conn *websocket.Conn) panel.View {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var v panel.View
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func TestWebSocketPushesViews(t *testing.T) {
	src, ts := newTestServer(t, nil)
	conn := dialWS(t, ts)

	first := readView(t, conn)
	assert.Equal(t, "81", first.SOC.Text)

	// The subscription is registered before the initial view is written.
	src.publish(buildView("82"))
	next := readView(t, conn)
	assert.Equal(t, "82", next.SOC.Text)
}

func TestWebSocketClosesWithCard(t *testing.T) {
	src, ts := newTestServer(t, nil)
	conn := dialWS(t, ts)
	readView(t, conn)

	src.views.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
