package history

import (
	"math"
	"sort"
	"time"
)

// RetentionWindow is how far back a series reaches. Points older than
// now-RetentionWindow are pruned on every update.
const RetentionWindow = time.Hour

// Point is a single telemetry sample.
type Point struct {
	Value       float64 `json:"value"`
	TimestampMs int64   `json:"ts"`
}

// Time returns the sample timestamp as a time.Time.
func (p Point) Time() time.Time { return time.UnixMilli(p.TimestampMs) }

func (p Point) finite() bool {
	return !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0)
}

// Series is an ordered (ascending timestamp) list of points. A Series held by
// a Store is never modified in place; callers must treat it as read-only.
type Series []Point

// Last returns the newest point of the series.
func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// Store maps a series identifier (the resolved entity id) to its Series.
//
// Store values are immutable: Append and BulkReplace return a new Store and
// leave the receiver, and every Series it references, untouched. The zero
// value is an empty store.
type Store struct {
	series map[string]Series
}

// NewStore returns an empty store.
func NewStore() Store { return Store{} }

// Series returns the series for id, or nil.
func (s Store) Series(id string) Series { return s.series[id] }

// IDs returns the identifiers held by the store in sorted order.
func (s Store) IDs() []string {
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of series in the store.
func (s Store) Len() int { return len(s.series) }

// Snapshot returns a copy of the store contents suitable for encoding.
func (s Store) Snapshot() map[string]Series {
	out := make(map[string]Series, len(s.series))
	for id, ser := range s.series {
		out[id] = append(Series(nil), ser...)
	}
	return out
}

// with returns a new Store where id maps to ser. The map is copied; series
// slices are shared, which is safe because they are never mutated.
func (s Store) with(id string, ser Series) Store {
	next := make(map[string]Series, len(s.series)+1)
	for k, v := range s.series {
		next[k] = v
	}
	next[id] = ser
	return Store{series: next}
}

// Append adds p to the series id and prunes points that fell out of the
// retention window relative to now.
//
// A point with a non-finite value, or a timestamp not strictly newer than the
// last point of the series, is rejected; the series is still pruned. The
// input store is returned unchanged when nothing was added or pruned.
func Append(s Store, id string, p Point, now time.Time) Store {
	cur := s.series[id]
	if last, ok := cur.Last(); !p.finite() || (ok && p.TimestampMs <= last.TimestampMs) {
		kept := prune(cur, now)
		if len(kept) == len(cur) {
			return s
		}
		return s.with(id, kept)
	}

	next := make(Series, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, p)
	return s.with(id, prune(next, now))
}

// BulkReplace replaces the series id with points, which are treated as the
// authoritative history for the requested window. Non-finite values are
// dropped and the remainder is sorted by timestamp before pruning.
func BulkReplace(s Store, id string, points []Point, now time.Time) Store {
	next := make(Series, 0, len(points))
	for _, p := range points {
		if p.finite() {
			next = append(next, p)
		}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].TimestampMs < next[j].TimestampMs
	})
	return s.with(id, prune(next, now))
}

// prune drops points older than now-RetentionWindow from the front of ser.
// ser must be sorted ascending.
func prune(ser Series, now time.Time) Series {
	cutoff := now.Add(-RetentionWindow).UnixMilli()
	i := sort.Search(len(ser), func(i int) bool { return ser[i].TimestampMs >= cutoff })
	if i == 0 {
		return ser
	}
	return ser[i:]
}
