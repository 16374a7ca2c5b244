// Package server exposes the reactor panel over HTTP: the rendered page, JSON
// views of the panel and its history, and a WebSocket that pushes every new
// view.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jkaberg/jkbms-reactor/internal/bus"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 5 * time.Second

// Source provides the published card state.
type Source interface {
	View() *panel.View
	History() map[string]history.Series
	Views() *bus.Bus[*panel.View]
}

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	Status        string    `json:"status"`
	HassConnected bool      `json:"hass_connected"`
	Clients       int64     `json:"ws_clients"`
	LastView      time.Time `json:"last_view"`
	Uptime        string    `json:"uptime"`
}

// HistoryResponse is the body of /api/v1/history.
type HistoryResponse struct {
	RetentionSeconds int64                     `json:"retention_seconds"`
	Series           map[string]history.Series `json:"series"`
}

// Server serves the panel.
type Server struct {
	src       Source
	renderer  *panel.Renderer
	connected func() bool
	logger    *logrus.Logger

	upgrader websocket.Upgrader
	server   *http.Server
	started  time.Time
	clients  atomic.Int64
}

// New creates a server listening on addr. connected reports whether the Home
// Assistant connection is up; nil means always.
func New(addr string, src Source, renderer *panel.Renderer, connected func() bool, logger *logrus.Logger) *Server {
	if connected == nil {
		connected = func() bool { return true }
	}
	s := &Server{
		src:       src,
		renderer:  renderer,
		connected: connected,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Any origin; the panel is embedded in Home Assistant dashboards.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/v1/panel", s.handlePanel)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.HTTPShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	return ctx.Err()
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to encode response")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowGet(w, r) {
		return
	}

	v := s.src.View()
	if layout := r.URL.Query().Get("layout"); layout == config.LayoutDefault || layout == config.LayoutCoreReactor {
		cp := *v
		cp.Layout = layout
		v = &cp
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.Render(w, v); err != nil {
		s.logger.WithError(err).Error("Failed to render panel")
	}
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.src.View())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	series := s.src.History()
	if ids := r.URL.Query()["entity_id"]; len(ids) > 0 {
		filtered := make(map[string]history.Series, len(ids))
		for _, id := range ids {
			if ser, ok := series[id]; ok {
				filtered[id] = ser
			}
		}
		series = filtered
	}

	s.writeJSON(w, http.StatusOK, HistoryResponse{
		RetentionSeconds: int64(history.RetentionWindow / time.Second),
		Series:           series,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	resp := HealthResponse{
		Status:        "ok",
		HassConnected: s.connected(),
		Clients:       s.clients.Load(),
		LastView:      s.src.View().Generated,
		Uptime:        time.Since(s.started).Round(time.Second).String(),
	}
	status := http.StatusOK
	if !resp.HassConnected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleWebSocket sends the current view, then every published view until the
// client goes away or the card stops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	log := s.logger.WithFields(logrus.Fields{"client_id": clientID, "remote_addr": r.RemoteAddr})
	s.clients.Add(1)
	defer s.clients.Add(-1)
	log.Debug("WebSocket client connected")

	views := s.src.Views()
	sub := views.Subscribe()
	defer views.Unsubscribe(sub)

	// The reader only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("WebSocket read failed")
				}
				return
			}
		}
	}()

	send := func(v *panel.View) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			log.WithError(err).Debug("WebSocket write failed")
			return false
		}
		return true
	}

	if !send(s.src.View()) {
		return
	}
	for {
		select {
		case <-gone:
			log.Debug("WebSocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case v, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if !send(v) {
				return
			}
		}
	}
}
