package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jkaberg/jkbms-reactor/internal/bus"
	"github.com/jkaberg/jkbms-reactor/internal/cache"
	"github.com/jkaberg/jkbms-reactor/internal/card"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/hass"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/netutil"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/jkaberg/jkbms-reactor/internal/server"
	"github.com/jkaberg/jkbms-reactor/internal/transmission"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNotConnected is returned by history queries while Home Assistant is
// unreachable.
var ErrNotConnected = errors.New("home assistant not connected")

// liveHass holds the current Home Assistant session, if any.
type liveHass struct {
	client atomic.Pointer[hass.Client]
}

func (h *liveHass) Connected() bool { return h.client.Load() != nil }

func (h *liveHass) HistoryDuringPeriod(ctx context.Context, start, end time.Time, entityIDs []string) (map[string][]history.Point, error) {
	c := h.client.Load()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c.HistoryDuringPeriod(ctx, start, end, entityIDs)
}

// App wires the Home Assistant collector, the card, the panel server and the
// optional MQTT publisher.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	wsURL     string
	dialer    *websocket.Dialer
	hass      *liveHass
	cache     *cache.Manager
	snapshots *bus.Bus[*domain.Snapshot]
	card      *card.Card
	server    *server.Server
	mqttTx    transmission.Transmitter
}

// New builds the application. mqttTx may be nil.
func New(cfg *config.Config, cardCfg *config.Card, mqttTx transmission.Transmitter, logger *logrus.Logger) (*App, error) {
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, err
	}
	renderer, err := panel.NewRenderer(cfg.HassURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load panel templates: %w", err)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		wsURL:     wsURL,
		dialer:    netutil.NewWebSocketDialer(config.HassDialTimeout, cfg.HassInsecure, logger),
		hass:      &liveHass{},
		cache:     cache.NewManager(cardCfg.Resolver().Watched(), logger),
		snapshots: bus.New[*domain.Snapshot](),
		mqttTx:    mqttTx,
	}
	a.card = card.New(cardCfg, a.hass, a.snapshots.Subscribe(), logger)
	a.server = server.New(cfg.ListenAddr, a.card, renderer, a.hass.Connected, logger)
	return a, nil
}

// Card returns the panel card.
func (a *App) Card() *card.Card { return a.card }

// Connected reports whether a Home Assistant session is up.
func (a *App) Connected() bool { return a.hass.Connected() }

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)

	// Collector -----------------------------------------------------------
	grp.Go(func() error { return a.collect(ctx) })

	// Card and panel ------------------------------------------------------
	grp.Go(func() error { return a.card.Run(ctx) })
	grp.Go(func() error { return a.server.Run(ctx) })

	// MQTT scheduler ------------------------------------------------------
	if a.mqttTx != nil {
		sub := a.snapshots.Subscribe()
		grp.Go(func() error { return a.schedule(ctx, sub) })
	}

	err := grp.Wait()
	a.snapshots.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// collect keeps a Home Assistant session open, reconnecting after
// HassReconnectDelay whenever it drops.
func (a *App) collect(ctx context.Context) error {
	for {
		err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.WithError(err).WithField("retry_in", config.HassReconnectDelay).Warn("collector: home assistant session ended")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.HassReconnectDelay):
		}
	}
}

func (a *App) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, config.HassDialTimeout)
	client, err := hass.Dial(dialCtx, a.dialer, a.wsURL, a.cfg.HassToken, config.HassTimeout, a.logger)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	states, err := client.GetStates(ctx)
	if err != nil {
		return err
	}
	a.snapshots.Publish(a.cache.Replace(states))

	err = client.SubscribeStateChanged(ctx, func(s domain.EntityState) {
		if snap, ok := a.cache.Apply(s); ok {
			a.snapshots.Publish(snap)
		}
	})
	if err != nil {
		return err
	}

	a.hass.client.Store(client)
	defer a.hass.client.Store(nil)

	a.logger.WithFields(logrus.Fields{
		"ha_version": client.Version(),
		"entities":   a.cache.Latest().Len(),
	}).Info("Connected to Home Assistant")
	a.card.RequestRefresh()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		return client.Err()
	}
}

// schedule publishes derived metrics at most once per MQTTInterval and only
// when a watched entity changed since the last successful publication.
func (a *App) schedule(ctx context.Context, sub <-chan *domain.Snapshot) error {
	type txState struct {
		interval time.Duration
		lastSent time.Time
		lastSnap *domain.Snapshot
		sendFn   func(*panel.View) error
		name     string
	}

	st := txState{
		interval: a.cfg.MQTTInterval,
		lastSent: time.Now().Add(-a.cfg.MQTTInterval),
		sendFn:   a.mqttTx.Transmit,
		name:     "MQTT",
	}

	var latest *domain.Snapshot
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-sub:
			if !ok {
				return nil
			}
			latest = snap
		case <-ticker.C:
			if latest == nil {
				continue
			}
			now := time.Now()
			if now.Sub(st.lastSent) < st.interval {
				continue
			}
			if !domain.Changed(st.lastSnap, latest, nil) {
				continue
			}
			if err := st.sendFn(a.card.View()); err != nil {
				a.logger.WithError(err).Warn(st.name + " transmit failed")
				// Retry on the next tick after the interval even if nothing changes.
				st.lastSnap = nil
			} else {
				st.lastSnap = latest
			}
			st.lastSent = now
		}
	}
}
