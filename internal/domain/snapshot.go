package domain

import (
	"sort"
	"time"
)

// EntityState is the current value of one Home Assistant entity.
type EntityState struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastUpdated time.Time `json:"last_updated"`
}

// Snapshot is an immutable view of the state feed at a point in time. It is
// passed explicitly to whatever needs the current states instead of living in
// a package-level variable.
type Snapshot struct {
	Taken  time.Time
	states map[string]EntityState
}

// NewSnapshot builds a snapshot from a list of states. Later entries win.
func NewSnapshot(taken time.Time, states ...EntityState) *Snapshot {
	m := make(map[string]EntityState, len(states))
	for _, s := range states {
		m[s.EntityID] = s
	}
	return &Snapshot{Taken: taken, states: m}
}

// Get returns the state of entityID. A nil snapshot holds nothing.
func (s *Snapshot) Get(entityID string) (EntityState, bool) {
	if s == nil {
		return EntityState{}, false
	}
	st, ok := s.states[entityID]
	return st, ok
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.states)
}

// IDs returns the entity ids in sorted order.
func (s *Snapshot) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// With returns a copy of s with the given states applied.
func (s *Snapshot) With(taken time.Time, states ...EntityState) *Snapshot {
	n := 0
	if s != nil {
		n = len(s.states)
	}
	m := make(map[string]EntityState, n+len(states))
	if s != nil {
		for k, v := range s.states {
			m[k] = v
		}
	}
	for _, st := range states {
		m[st.EntityID] = st
	}
	return &Snapshot{Taken: taken, states: m}
}

// Changed returns true if any of ids has a different state value in cur than
// in prev. LastUpdated and Taken are ignored so a re-report of the same value
// does not count as a change. An empty ids compares every entity.
func Changed(prev, cur *Snapshot, ids []string) bool {
	if prev == nil && cur == nil {
		return false
	}
	if prev == nil || cur == nil {
		return true
	}
	if len(ids) == 0 {
		if len(prev.states) != len(cur.states) {
			return true
		}
		for id := range cur.states {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		p, pok := prev.states[id]
		c, cok := cur.states[id]
		if pok != cok || p.State != c.State {
			return true
		}
	}
	return false
}
