package card

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1717243200000)

const voltageID = "sensor.jk_bms_total_voltage"

type fakeFetcher struct {
	mu        sync.Mutex
	calls     int
	lastIDs   []string
	responses []fetchResult
	gate      chan struct{}
}

func (f *fakeFetcher) HistoryDuringPeriod(ctx context.Context, start, end time.Time, ids []string) (map[string][]history.Point, error) {
	f.mu.Lock()
	f.calls++
	f.lastIDs = ids
	var r fetchResult
	if len(f.responses) > 0 {
		r = f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.points, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCard(f HistoryFetcher, snaps <-chan *domain.Snapshot) *Card {
	c := New(config.DefaultCard(), f, snaps, quietLogger())
	c.refresh = time.Hour
	c.now = func() time.Time { return now }
	return c
}

func start(t *testing.T, c *Card) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		errCh <- c.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return cancel, errCh
}

func points(values ...float64) []history.Point {
	out := make([]history.Point, len(values))
	for i, v := range values {
		out[i] = history.Point{Value: v, TimestampMs: now.UnixMilli() - int64(len(values)-i)*60000}
	}
	return out
}

func TestInitialFetch(t *testing.T) {
	f := &fakeFetcher{responses: []fetchResult{{points: map[string][]history.Point{voltageID: points(53.1, 53.2)}}}}
	c := newTestCard(f, nil)
	start(t, c)

	require.Eventually(t, func() bool { return !c.View().Metrics[0].Spark.Empty }, time.Second, 5*time.Millisecond)
	assert.Len(t, c.History()[voltageID], 2)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{
		"sensor.jk_bms_total_voltage",
		"sensor.jk_bms_current",
		"sensor.jk_bms_power_tube_temperature",
		"sensor.jk_bms_delta_cell_voltage",
	}, f.lastIDs)
}

func TestFetchInFlightGuard(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := newTestCard(f, nil)
	start(t, c)

	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, time.Millisecond)
	c.RequestRefresh()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, f.callCount(), "no second fetch while the first is pending")

	// The request was queued and runs once the pending fetch completes.
	f.gate <- struct{}{}
	require.Eventually(t, func() bool { return f.callCount() == 2 }, time.Second, time.Millisecond)
}

func TestFetchFailureKeepsHistory(t *testing.T) {
	f := &fakeFetcher{responses: []fetchResult{
		{points: map[string][]history.Point{voltageID: points(53.1, 53.2, 53.3)}},
		{err: errors.New("timeout")},
	}}
	c := newTestCard(f, nil)
	start(t, c)

	require.Eventually(t, func() bool { return len(c.History()[voltageID]) == 3 }, time.Second, 5*time.Millisecond)

	c.RequestRefresh()
	require.Eventually(t, func() bool { return f.callCount() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, c.History()[voltageID], 3)
}

func TestSnapshotsExtendHistory(t *testing.T) {
	f := &fakeFetcher{responses: []fetchResult{{points: map[string][]history.Point{voltageID: points(53.0)}}}}
	snaps := make(chan *domain.Snapshot)
	c := newTestCard(f, snaps)
	start(t, c)

	require.Eventually(t, func() bool { return len(c.History()[voltageID]) == 1 }, time.Second, 5*time.Millisecond)

	snap := domain.NewSnapshot(now,
		domain.EntityState{EntityID: voltageID, State: "53.4", LastUpdated: now},
		domain.EntityState{EntityID: "sensor.jk_bms_current", State: "unavailable", LastUpdated: now},
	)
	snaps <- snap
	// Same timestamp again: rejected.
	snaps <- snap.With(now, domain.EntityState{EntityID: voltageID, State: "99", LastUpdated: now})

	require.Eventually(t, func() bool { return c.View().TotalVoltage.Text == "99.00" }, time.Second, 5*time.Millisecond)
	series := c.History()[voltageID]
	require.Len(t, series, 2)
	assert.Equal(t, 53.4, series[1].Value)
	assert.Empty(t, c.History()["sensor.jk_bms_current"])
}

func TestTeardown(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	c := newTestCard(f, nil)
	views := c.Views().Subscribe()
	cancel, done := start(t, c)

	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	for range views {
	}
	assert.NotNil(t, c.View())
}

func TestAppendSnapshot(t *testing.T) {
	ids := []string{voltageID}
	snap := domain.NewSnapshot(now, domain.EntityState{EntityID: voltageID, State: " 52.9 "})

	store := appendSnapshot(history.NewStore(), snap, ids, now)
	p, ok := store.Series(voltageID).Last()
	require.True(t, ok)
	assert.Equal(t, 52.9, p.Value)
	assert.Equal(t, now.UnixMilli(), p.TimestampMs, "falls back to the snapshot time")
}
