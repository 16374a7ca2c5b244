package cache

import (
	"sync"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/sirupsen/logrus"
)

// Manager materialises the Home Assistant state feed. It keeps the latest
// *domain.Snapshot and produces a new one on every change, so readers can hold
// on to a snapshot without locking.
//
// Behaviour:
//   - Replace installs a full state dump (get_states) and always yields a new
//     snapshot.
//   - Apply merges incremental state_changed updates. Updates whose
//     LastUpdated is older than the stored state for the same entity are
//     ignored, and Apply reports whether anything was stored.
//   - Entities outside the watch filter are dropped at ingestion.
type Manager struct {
	mu     sync.RWMutex
	latest *domain.Snapshot
	watch  func(entityID string) bool
	now    func() time.Time
	logger *logrus.Logger
}

// NewManager returns a ready-to-use state cache. A nil watch keeps every
// entity.
func NewManager(watch func(entityID string) bool, logger *logrus.Logger) *Manager {
	if watch == nil {
		watch = func(string) bool { return true }
	}
	return &Manager{
		latest: domain.NewSnapshot(time.Time{}),
		watch:  watch,
		now:    time.Now,
		logger: logger,
	}
}

// Latest returns the current snapshot. It is never nil.
func (m *Manager) Latest() *domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Replace swaps the cached states for the given full dump.
func (m *Manager) Replace(states []domain.EntityState) *domain.Snapshot {
	kept := m.filter(states)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = domain.NewSnapshot(m.now(), kept...)
	m.logger.WithField("entities", m.latest.Len()).Debug("state cache replaced")
	return m.latest
}

// Apply merges updates into the cache. It returns the resulting snapshot and
// whether any update was stored.
func (m *Manager) Apply(updates ...domain.EntityState) (*domain.Snapshot, bool) {
	kept := m.filter(updates)

	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := kept[:0]
	for _, u := range kept {
		if prev, ok := m.latest.Get(u.EntityID); ok && u.LastUpdated.Before(prev.LastUpdated) {
			continue
		}
		fresh = append(fresh, u)
	}
	if len(fresh) == 0 {
		return m.latest, false
	}
	m.latest = m.latest.With(m.now(), fresh...)
	return m.latest, true
}

func (m *Manager) filter(states []domain.EntityState) []domain.EntityState {
	out := make([]domain.EntityState, 0, len(states))
	for _, s := range states {
		if s.EntityID == "" || !m.watch(s.EntityID) {
			continue
		}
		out = append(out, s)
	}
	return out
}
