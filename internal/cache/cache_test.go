package cache

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestReplaceFiltersWatchedEntities(t *testing.T) {
	m := NewManager(func(id string) bool { return strings.HasPrefix(id, "sensor.bms_") }, quietLogger())
	m.now = func() time.Time { return t0 }

	snap := m.Replace([]domain.EntityState{
		{EntityID: "sensor.bms_current", State: "1.2"},
		{EntityID: "light.kitchen", State: "on"},
	})

	assert.Equal(t, []string{"sensor.bms_current"}, snap.IDs())
	assert.Equal(t, t0, snap.Taken)
	assert.Same(t, snap, m.Latest())
}

func TestApplyIgnoresStaleUpdates(t *testing.T) {
	m := NewManager(nil, quietLogger())
	m.Replace([]domain.EntityState{{EntityID: "sensor.a", State: "1", LastUpdated: t0}})
	before := m.Latest()

	snap, changed := m.Apply(domain.EntityState{EntityID: "sensor.a", State: "0", LastUpdated: t0.Add(-time.Second)})
	assert.False(t, changed)
	assert.Same(t, before, snap)

	snap, changed = m.Apply(domain.EntityState{EntityID: "sensor.a", State: "2", LastUpdated: t0.Add(time.Second)})
	require.True(t, changed)
	st, _ := snap.Get("sensor.a")
	assert.Equal(t, "2", st.State)

	old, _ := before.Get("sensor.a")
	assert.Equal(t, "1", old.State, "earlier snapshots stay untouched")
}

func TestLatestIsNeverNil(t *testing.T) {
	m := NewManager(nil, quietLogger())
	require.NotNil(t, m.Latest())
	assert.Equal(t, 0, m.Latest().Len())
}
