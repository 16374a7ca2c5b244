package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/sirupsen/logrus"
)

// Client is an authenticated connection to the Home Assistant WebSocket API.
// Commands are correlated by id; a single reader goroutine dispatches results
// and subscription events.
type Client struct {
	conn    *websocket.Conn
	logger  *logrus.Logger
	timeout time.Duration
	version string

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan message
	subs    map[int64]func(json.RawMessage)

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// Dial connects to wsURL and performs the auth handshake. timeout bounds every
// later command that is issued without its own deadline.
func Dial(ctx context.Context, dialer *websocket.Dialer, wsURL, token string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	version, err := authenticate(ctx, conn, token)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		timeout: timeout,
		version: version,
		pending: make(map[int64]chan message),
		subs:    make(map[int64]func(json.RawMessage)),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	logger.WithFields(logrus.Fields{
		"url":        wsURL,
		"ha_version": version,
	}).Info("Connected to Home Assistant")
	return c, nil
}

func authenticate(ctx context.Context, conn *websocket.Conn, token string) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		return "", fmt.Errorf("failed to read auth request: %w", err)
	}
	if hello.Type != "auth_required" {
		return "", fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: token}); err != nil {
		return "", fmt.Errorf("failed to send auth: %w", err)
	}

	var reply message
	if err := conn.ReadJSON(&reply); err != nil {
		return "", fmt.Errorf("failed to read auth reply: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return reply.Version, nil
	case "auth_invalid":
		return "", fmt.Errorf("%w: %s", ErrAuthInvalid, reply.Message)
	default:
		return "", fmt.Errorf("unexpected auth reply %q", reply.Type)
	}
}

// Version returns the Home Assistant version reported during the handshake.
func (c *Client) Version() string { return c.version }

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}

func (c *Client) fail(err error) {
	c.errOnce.Do(func() {
		c.err = err
		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		var msgs []message
		data = bytes.TrimSpace(data)
		if len(data) > 0 && data[0] == '[' {
			err = json.Unmarshal(data, &msgs)
		} else {
			var m message
			err = json.Unmarshal(data, &m)
			msgs = []message{m}
		}
		if err != nil {
			c.logger.WithError(err).Warn("hass: undecodable message")
			continue
		}
		for _, m := range msgs {
			c.dispatch(m)
		}
	}
}

func (c *Client) dispatch(m message) {
	switch m.Type {
	case "result", "pong":
		c.mu.Lock()
		ch, ok := c.pending[m.ID]
		delete(c.pending, m.ID)
		c.mu.Unlock()
		if ok {
			ch <- m
		}
	case "event":
		c.mu.Lock()
		fn := c.subs[m.ID]
		c.mu.Unlock()
		if fn != nil {
			fn(m.Event)
		}
	default:
		c.logger.WithField("type", m.Type).Debug("hass: ignoring message")
	}
}

// Call sends a command and waits for its result. payload must not carry an
// id; one is assigned here.
func (c *Client) Call(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	return c.call(ctx, id, payload)
}

func (c *Client) call(ctx context.Context, id int64, payload map[string]any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.pending[id] = ch
	c.mu.Unlock()

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["id"] = id

	if err := c.write(ctx, body); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case m, ok := <-ch:
		if !ok {
			return nil, c.err
		}
		if m.Type == "pong" {
			return nil, nil
		}
		if !m.Success {
			if m.Error != nil {
				return nil, m.Error
			}
			return nil, &ResultError{Code: "unknown", Message: "command failed"}
		}
		return m.Result, nil
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Client) write(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// Ping checks that the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, map[string]any{"type": "ping"})
	return err
}

// GetStates returns every entity state Home Assistant knows about.
func (c *Client) GetStates(ctx context.Context) ([]domain.EntityState, error) {
	raw, err := c.Call(ctx, map[string]any{"type": "get_states"})
	if err != nil {
		return nil, fmt.Errorf("get_states failed: %w", err)
	}
	var states []rawState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("failed to decode get_states result: %w", err)
	}

	out := make([]domain.EntityState, 0, len(states))
	for _, s := range states {
		st, err := s.toDomain()
		if err != nil {
			c.logger.WithError(err).Debug("hass: skipping state")
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// SubscribeStateChanged registers fn for every state_changed event. fn runs
// on the reader goroutine and must not block. Removed entities (no
// new_state) are not reported.
func (c *Client) SubscribeStateChanged(ctx context.Context, fn func(domain.EntityState)) error {
	id := c.nextID.Add(1)

	c.mu.Lock()
	c.subs[id] = func(raw json.RawMessage) {
		var ev stateChangedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.logger.WithError(err).Debug("hass: undecodable state_changed event")
			return
		}
		if ev.Data.NewState == nil {
			return
		}
		if ev.Data.NewState.EntityID == "" {
			ev.Data.NewState.EntityID = ev.Data.EntityID
		}
		st, err := ev.Data.NewState.toDomain()
		if err != nil {
			c.logger.WithError(err).Debug("hass: skipping state_changed event")
			return
		}
		fn(st)
	}
	c.mu.Unlock()

	if _, err := c.call(ctx, id, map[string]any{
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		c.forget(id)
		return fmt.Errorf("subscribe_events failed: %w", err)
	}
	return nil
}

// HistoryDuringPeriod fetches the recorded history of entityIDs between start
// and end. Samples whose state is not numeric are dropped; an entity without
// any numeric sample maps to an empty slice.
func (c *Client) HistoryDuringPeriod(ctx context.Context, start, end time.Time, entityIDs []string) (map[string][]history.Point, error) {
	raw, err := c.Call(ctx, map[string]any{
		"type":             "history/history_during_period",
		"start_time":       start.UTC().Format(time.RFC3339Nano),
		"end_time":         end.UTC().Format(time.RFC3339Nano),
		"entity_ids":       entityIDs,
		"minimal_response": true,
		"no_attributes":    true,
	})
	if err != nil {
		return nil, fmt.Errorf("history_during_period failed: %w", err)
	}
	return parseHistory(raw)
}

func parseHistory(raw json.RawMessage) (map[string][]history.Point, error) {
	var resp map[string][]historyEntry
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode history result: %w", err)
	}

	out := make(map[string][]history.Point, len(resp))
	for id, entries := range resp {
		points := make([]history.Point, 0, len(entries))
		for _, e := range entries {
			v, ok := e.value()
			if !ok {
				continue
			}
			ts, ok := e.timestamp()
			if !ok {
				continue
			}
			points = append(points, history.Point{Value: v, TimestampMs: ts.UnixMilli()})
		}
		out[id] = points
	}
	return out, nil
}
