package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"market-alerts/internal/analysis/indicators"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/models"
)

// Tick results reported to logs and metrics.
const (
	tickOK          = "ok"
	tickEmpty       = "empty"
	tickUnavailable = "unavailable"
	tickStoreError  = "store_error"
)

func newTickID() string {
	return uuid.NewString()
}

// monitor is the polling state of one instrument. The interval fields are
// shared with the activity loop; everything below them is owned by the
// monitor's goroutine.
type monitor struct {
	symbol string
	cancel context.CancelFunc
	since  time.Time
	wake   chan struct{}

	mu       sync.Mutex
	interval time.Duration
	gen      uint64

	lastTick  time.Time
	snapshots map[string]*indicators.Snapshot
	pending   map[string]time.Time
	seen      map[string]bool
}

func newMonitor(symbol string, interval time.Duration, cancel context.CancelFunc, now time.Time) *monitor {
	return &monitor{
		symbol:    symbol,
		cancel:    cancel,
		since:     now,
		wake:      make(chan struct{}, 1),
		interval:  interval,
		gen:       1,
		snapshots: make(map[string]*indicators.Snapshot),
		pending:   make(map[string]time.Time),
		seen:      make(map[string]bool),
	}
}

// setInterval stores d and wakes the loop. It reports false, touching
// nothing, when d is already the current interval.
func (m *monitor) setInterval(d time.Duration) bool {
	m.mu.Lock()
	if m.interval == d {
		m.mu.Unlock()
		return false
	}
	m.interval = d
	m.gen++
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

func (m *monitor) currentInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *monitor) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *monitor) status() InstrumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return InstrumentStatus{Symbol: m.symbol, Interval: m.interval, Generation: m.gen, Since: m.since}
}

// run ticks once immediately, then every interval until ctx is cancelled or
// the instrument has no active alerts left. A cancelled monitor finishes its
// current tick but schedules no further one.
func (s *Scheduler) run(ctx context.Context, m *monitor) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.forgetAll(m)
			return
		case <-m.wake:
			// Keep the cadence anchored at the last tick.
			wait := m.currentInterval() - s.now().Sub(m.lastTick)
			if wait < 0 {
				wait = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
		case <-timer.C:
			if !s.tick(ctx, m) {
				s.forgetAll(m)
				s.release(m)
				s.log.Debug().Str("symbol", m.symbol).Msg("No active alerts, monitor stopped")
				return
			}
			s.recheck(m)
			timer.Reset(m.currentInterval())
		}
	}
}

// tick runs one evaluation cycle and reports whether the monitor should
// keep running.
func (s *Scheduler) tick(ctx context.Context, m *monitor) bool {
	// Started ticks run to completion even when the monitor is torn down.
	ctx = context.WithoutCancel(ctx)
	start := s.now()
	m.lastTick = start
	logger := logging.WithSymbol(s.log, m.symbol)

	triggered := 0
	result := tickOK
	alertCount := 0
	defer func() {
		d := s.now().Sub(start)
		s.metrics.ObserveTick(result, d)
		logging.LogTick(logger, m.symbol, result, alertCount, triggered, d)
	}()

	alerts, err := s.store.LoadActive(ctx, m.symbol)
	if err != nil {
		result = tickStoreError
		logger.Warn().Err(err).Msg("Failed to load alerts, retrying next tick")
		return true
	}

	live := alerts[:0]
	for _, a := range alerts {
		if a.ExpiresAt != nil && !start.Before(*a.ExpiresAt) {
			s.expire(ctx, a)
			continue
		}
		live = append(live, a)
	}
	alerts = live
	alertCount = len(alerts)
	s.prune(m, alerts)

	if len(alerts) == 0 {
		result = tickEmpty
		return false
	}

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	md, err := s.data.Get(fctx, m.symbol)
	cancel()
	if err != nil {
		result = tickUnavailable
		logger.Warn().Err(err).Msg("Market data unavailable, skipping tick")
		return true
	}

	snaps := s.snapshots(m, alerts, md.Window)
	tickID := s.newTick()

	for _, a := range alerts {
		// Cooldown, trading hours and exhausted alerts are not evaluated.
		// OnTrigger repeats the check against the stored alert.
		if s.lifecycle != nil && !s.lifecycle.CanTrigger(a, start) {
			delete(m.pending, a.ID)
			continue
		}

		var snap *indicators.Snapshot
		if a.Variant.Family() == models.FamilyIndicator {
			snap = snaps[s.engine.ConfigFor(a).Key()]
		}

		dec, err := s.evaluator.Evaluate(a, md, snap)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrUnknownVariant) {
				logger.Warn().Err(err).Str("alert_id", a.ID).Msg("Skipping alert with unknown variant")
			} else {
				logger.Debug().Err(err).Str("alert_id", a.ID).Msg("Alert not evaluated")
			}
			delete(m.pending, a.ID)
			continue
		}
		if !dec.Triggered {
			delete(m.pending, a.ID)
			continue
		}
		if !s.confirmed(m, a, start) {
			continue
		}

		dec.Observation.TickID = tickID
		if s.fire(ctx, a, dec.Observation) {
			triggered++
			delete(m.pending, a.ID)
		}
	}
	return true
}

// snapshots computes one snapshot per distinct indicator config, carrying
// the previous cycle's snapshot of the same config forward.
func (s *Scheduler) snapshots(m *monitor, alerts []*models.Alert, window []models.Candle) map[string]*indicators.Snapshot {
	next := make(map[string]*indicators.Snapshot)
	if len(window) == 0 {
		m.snapshots = next
		return next
	}
	for _, a := range alerts {
		if a.Variant.Family() != models.FamilyIndicator {
			continue
		}
		cfg := s.engine.ConfigFor(a)
		key := cfg.Key()
		if _, ok := next[key]; ok {
			continue
		}
		prev, known := m.snapshots[key]
		if !known && len(window) < cfg.Lookback() {
			s.log.Warn().Str("symbol", m.symbol).Str("alert_id", a.ID).
				Int("candles", len(window)).Int("lookback", cfg.Lookback()).
				Msg("Candle window shorter than indicator lookback, values are partial")
		}
		snap := s.engine.Compute(window, cfg, prev)
		next[key] = &snap
	}
	m.snapshots = next
	return next
}

// confirmed applies the alert's confirmation delay: the condition has to
// hold on consecutive ticks for at least that long.
func (s *Scheduler) confirmed(m *monitor, a *models.Alert, now time.Time) bool {
	delay := a.Policy.ConfirmationDelay
	if delay <= 0 {
		return true
	}
	first, ok := m.pending[a.ID]
	if !ok {
		m.pending[a.ID] = now
		return false
	}
	return now.Sub(first) >= delay
}

func (s *Scheduler) fire(ctx context.Context, a *models.Alert, obs models.Observation) bool {
	if s.lifecycle == nil {
		return false
	}
	_, err := s.lifecycle.OnTrigger(ctx, a, obs)
	switch {
	case err == nil:
		return true
	case apperrors.Is(err, apperrors.ErrNotEligible), apperrors.Is(err, apperrors.ErrAlreadyApplied):
		s.log.Debug().Err(err).Str("alert_id", a.ID).Msg("Trigger not applied")
	default:
		s.log.Error().Err(err).Str("alert_id", a.ID).Str("symbol", a.Symbol).Msg("Trigger failed")
	}
	return false
}

// prune drops per-alert state of alerts that are no longer active.
func (s *Scheduler) prune(m *monitor, alerts []*models.Alert) {
	current := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		current[a.ID] = true
	}
	for id := range m.seen {
		if !current[id] {
			delete(m.pending, id)
			if s.lifecycle != nil {
				s.lifecycle.Forget(id)
			}
		}
	}
	m.seen = current
}

func (s *Scheduler) forgetAll(m *monitor) {
	if s.lifecycle == nil {
		return
	}
	for id := range m.seen {
		s.lifecycle.Forget(id)
	}
}
