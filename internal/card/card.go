// Package card owns the lifecycle of one reactor panel: it keeps the sparkline
// history, refreshes it from Home Assistant and republishes the panel view
// whenever its inputs change.
package card

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jkaberg/jkbms-reactor/internal/bus"
	"github.com/jkaberg/jkbms-reactor/internal/config"
	"github.com/jkaberg/jkbms-reactor/internal/domain"
	"github.com/jkaberg/jkbms-reactor/internal/history"
	"github.com/jkaberg/jkbms-reactor/internal/panel"
	"github.com/sirupsen/logrus"
)

// HistoryFetcher is the historical-data query of Home Assistant.
type HistoryFetcher interface {
	HistoryDuringPeriod(ctx context.Context, start, end time.Time, entityIDs []string) (map[string][]history.Point, error)
}

type fetchResult struct {
	points map[string][]history.Point
	err    error
}

// Card is a single panel instance. All history and view state is owned by the
// goroutine running Run; other goroutines only read the published values.
type Card struct {
	cfg       *config.Card
	fetcher   HistoryFetcher
	snapshots <-chan *domain.Snapshot
	logger    *logrus.Logger

	refresh   time.Duration
	now       func() time.Time
	refreshCh chan struct{}

	views *bus.Bus[*panel.View]
	view  atomic.Pointer[panel.View]
	store atomic.Pointer[history.Store]
}

// New creates a card fed by snapshots. Nothing happens until Run is called.
func New(cfg *config.Card, fetcher HistoryFetcher, snapshots <-chan *domain.Snapshot, logger *logrus.Logger) *Card {
	c := &Card{
		cfg:       cfg,
		fetcher:   fetcher,
		snapshots: snapshots,
		logger:    logger,
		refresh:   config.HistoryRefreshInterval,
		now:       time.Now,
		refreshCh: make(chan struct{}, 1),
		views:     bus.New[*panel.View](),
	}
	empty := history.NewStore()
	c.store.Store(&empty)
	c.view.Store(panel.Build(cfg, nil, empty, c.now()))
	return c
}

// Config returns the card definition.
func (c *Card) Config() *config.Card { return c.cfg }

// View returns the most recently built view. It is never nil.
func (c *Card) View() *panel.View { return c.view.Load() }

// History returns a copy of the sparkline history.
func (c *Card) History() map[string]history.Series { return c.store.Load().Snapshot() }

// Views returns the bus every rebuilt view is published on. It is closed when
// Run returns.
func (c *Card) Views() *bus.Bus[*panel.View] { return c.views }

// RequestRefresh asks for a history fetch ahead of the next tick, e.g. after
// a reconnect. Requests made while one is pending are merged.
func (c *Card) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Run drives the card until ctx is cancelled: an initial history fetch, one
// fetch per refresh interval, and an incremental update for every snapshot.
// At most one fetch is in flight. A refresh requested meanwhile runs once the
// pending fetch completes; a result that arrives after ctx is done is dropped.
func (c *Card) Run(ctx context.Context) error {
	defer c.views.Close()

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	var (
		store     = *c.store.Load()
		snap      *domain.Snapshot
		inFlight  bool
		queued    bool
		results   = make(chan fetchResult)
		ids       = c.cfg.Resolver().HistoryIDs()
		snapshots = c.snapshots
	)

	fetch := func(reason string) {
		if inFlight {
			if reason == "requested" {
				queued = true
			}
			c.logger.WithField("reason", reason).Debug("card: history fetch already in flight")
			return
		}
		inFlight = true
		end := c.now()
		start := end.Add(-history.RetentionWindow)
		go func() {
			points, err := c.fetcher.HistoryDuringPeriod(ctx, start, end, ids)
			select {
			case results <- fetchResult{points: points, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	publish := func() {
		published := store
		c.store.Store(&published)
		v := panel.Build(c.cfg, snap, store, c.now())
		c.view.Store(v)
		c.views.Publish(v)
	}

	fetch("attach")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			fetch("interval")

		case <-c.refreshCh:
			fetch("requested")

		case s, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			snap = s
			store = appendSnapshot(store, s, ids, c.now())
			publish()

		case r := <-results:
			inFlight = false
			if queued {
				queued = false
				fetch("requested")
			}
			if r.err != nil {
				// The previous history stays in place.
				c.logger.WithError(r.err).Warn("card: history fetch failed")
				continue
			}
			now := c.now()
			for id, points := range r.points {
				store = history.BulkReplace(store, id, points, now)
			}
			c.logger.WithField("series", len(r.points)).Debug("card: history refreshed")
			publish()
		}
	}
}

// appendSnapshot extends the history series in ids with the values of snap.
// Non-numeric states are skipped; values that are not newer than the last
// point are rejected by history.Append.
func appendSnapshot(store history.Store, snap *domain.Snapshot, ids []string, now time.Time) history.Store {
	for _, id := range ids {
		st, ok := snap.Get(id)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(st.State), 64)
		if err != nil {
			continue
		}
		ts := st.LastUpdated
		if ts.IsZero() {
			ts = snap.Taken
		}
		store = history.Append(store, id, history.Point{Value: v, TimestampMs: ts.UnixMilli()}, now)
	}
	return store
}
