package app

import (
	"context"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/cache"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/hass"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/netutil"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/sirupsen/logrus"
)

// Inspect connects to Home Assistant once and builds the panel from the
// current states and the recorded history of the retention window.
func Inspect(ctx context.Context, cfg *config.Config, cardCfg *config.Card, logger *logrus.Logger) (*panel.View, error) {
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, err
	}
	dialer := netutil.NewWebSocketDialer(config.HassDialTimeout, cfg.HassInsecure, logger)

	dialCtx, cancel := context.WithTimeout(ctx, config.HassDialTimeout)
	client, err := hass.Dial(dialCtx, dialer, wsURL, cfg.HassToken, config.HassTimeout, logger)
	cancel()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	states, err := client.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	snap := cache.NewManager(cardCfg.Resolver().Watched(), logger).Replace(states)

	now := time.Now()
	store := history.NewStore()
	points, err := client.HistoryDuringPeriod(ctx, now.Add(-history.RetentionWindow), now, cardCfg.Resolver().HistoryIDs())
	if err != nil {
		logger.WithError(err).Warn("History unavailable; sparklines will be empty")
	}
	for id, p := range points {
		store = history.BulkReplace(store, id, p, now)
	}

	logger.WithFields(logrus.Fields{
		"ha_version": client.Version(),
		"entities":   snap.Len(),
		"series":     store.Len(),
	}).Debug("Inspected Home Assistant")
	return panel.Build(cardCfg, snap, store, now), nil
}
