package entities

import (
	"fmt"
	"strings"
)

// Resolver maps keys to Home Assistant entity ids for one card.
type Resolver struct {
	Prefix    string
	Overrides map[string]string
}

// NewResolver builds a Resolver from the card prefix and manual assignments.
func NewResolver(prefix string, overrides map[string]string) Resolver {
	return Resolver{Prefix: prefix, Overrides: overrides}
}

// value returns the override for k, or k itself.
func (r Resolver) value(k Key) string {
	if v := strings.TrimSpace(r.Overrides[string(k)]); v != "" {
		return v
	}
	return string(k)
}

// Resolve returns the entity id of k in domain kind. An override containing a
// dot is a full entity id and is returned as is; anything else is a suffix
// joined onto <kind>.<prefix>_.
func (r Resolver) Resolve(k Key, kind Kind) string {
	v := r.value(k)
	if strings.Contains(v, ".") {
		return v
	}
	prefix := strings.TrimSuffix(r.Prefix, "_")
	if prefix == "" {
		return fmt.Sprintf("%s.%s", kind, v)
	}
	return fmt.Sprintf("%s.%s_%s", kind, prefix, v)
}

// ResolveDefault resolves k in the domain from its definition, falling back
// to sensor for unknown keys.
func (r Resolver) ResolveDefault(k Key) string {
	kind := KindSensor
	if d, ok := Lookup(k); ok {
		kind = d.Kind
	}
	return r.Resolve(k, kind)
}

// HistoryIDs resolves HistoryKeys as sensors and removes duplicates, keeping
// the first occurrence order.
func (r Resolver) HistoryIDs() []string {
	seen := make(map[string]struct{}, len(HistoryKeys))
	ids := make([]string, 0, len(HistoryKeys))
	for _, k := range HistoryKeys {
		id := r.Resolve(k, KindSensor)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Watched returns a predicate matching every entity id any known key resolves
// to. It is the filter for the state cache.
func (r Resolver) Watched() func(entityID string) bool {
	keys := All()
	ids := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		ids[r.ResolveDefault(k)] = struct{}{}
	}
	return func(entityID string) bool {
		_, ok := ids[entityID]
		return ok
	}
}
