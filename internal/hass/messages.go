package hass

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/relvacode/iso8601"
)

var (
	// ErrAuthInvalid is returned when Home Assistant rejects the access token.
	ErrAuthInvalid = errors.New("home assistant rejected the access token")
	// ErrClosed is returned for calls on a connection that has gone away.
	ErrClosed = errors.New("home assistant connection closed")
)

// ResultError is a failed command result.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("home assistant error %s: %s", e.Code, e.Message)
}

// message is the envelope of every frame Home Assistant sends.
type message struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResultError    `json:"error,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
	Version string          `json:"ha_version,omitempty"`
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// rawState is a full state object as returned by get_states and carried in
// state_changed events.
type rawState struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastUpdated string `json:"last_updated"`
}

func (r rawState) toDomain() (domain.EntityState, error) {
	st := domain.EntityState{EntityID: r.EntityID, State: r.State}
	if r.LastUpdated == "" {
		return st, nil
	}
	ts, err := iso8601.ParseString(r.LastUpdated)
	if err != nil {
		return st, fmt.Errorf("entity %s: bad last_updated %q: %w", r.EntityID, r.LastUpdated, err)
	}
	st.LastUpdated = ts
	return st, nil
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string    `json:"entity_id"`
		NewState *rawState `json:"new_state"`
	} `json:"data"`
}

// historyEntry is one element of a history/history_during_period result. With
// minimal_response Home Assistant sends the compressed form (s, lu in epoch
// seconds); older versions and the first entry may use the long form.
type historyEntry struct {
	S           *string  `json:"s"`
	LU          *float64 `json:"lu"`
	State       *string  `json:"state"`
	LastUpdated *string  `json:"last_updated"`
}

func (h historyEntry) value() (float64, bool) {
	var raw string
	switch {
	case h.S != nil && *h.S != "":
		raw = *h.S
	case h.State != nil:
		raw = *h.State
	default:
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (h historyEntry) timestamp() (time.Time, bool) {
	if h.LU != nil && *h.LU > 0 {
		return time.UnixMilli(int64(math.Round(*h.LU * 1000))), true
	}
	if h.LastUpdated != nil {
		ts, err := iso8601.ParseString(*h.LastUpdated)
		if err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
