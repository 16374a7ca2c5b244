package panel

import (
	"math"
	"strconv"
	"strings"

	"github.com/jkaberg/jkbms-reactor/internal/domain"
)

// Placeholder states Home Assistant reports for entities without a reading.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// formatState returns the display text of entityID. Numeric states are
// rounded to precision decimals, anything else is passed through. A missing
// entity yields def.
func formatState(snap *domain.Snapshot, entityID string, precision int, def string) string {
	st, ok := snap.Get(entityID)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(st.State), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return st.State
	}
	return strconv.FormatFloat(v, 'f', precision, 64)
}

// parseNumber parses a formatted state. ok is false for placeholders.
func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// CellReporting reports whether a cell reading of volts counts toward the
// min/max markers and the delta. Zero stands in for a missing cell.
func CellReporting(volts float64) bool { return volts > 0 }

func isOn(snap *domain.Snapshot, entityID string) bool {
	st, ok := snap.Get(entityID)
	return ok && strings.EqualFold(st.State, "on")
}
