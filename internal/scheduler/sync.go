package scheduler

import (
	"context"
	"sort"
	"time"

	"market-alerts/internal/models"
)

// candidate is an instrument with at least one active alert.
type candidate struct {
	symbol     string
	lastSeen   time.Time
	hasUser    bool
	newestEdit time.Time
}

// Sync reconciles running monitors with the store: instruments with active
// alerts get a monitor (up to MaxInstruments), the rest are torn down.
// Alerts past their expiry are expired here rather than polled.
func (s *Scheduler) Sync(ctx context.Context) error {
	alerts, err := s.store.LoadActive(ctx, "")
	if err != nil {
		return err
	}

	now := s.now()
	bySymbol := make(map[string]*candidate)
	for _, a := range alerts {
		if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			s.expire(ctx, a)
			continue
		}
		c, ok := bySymbol[a.Symbol]
		if !ok {
			c = &candidate{symbol: a.Symbol}
			bySymbol[a.Symbol] = c
		}
		edited := a.UpdatedAt
		if a.CreatedAt.After(edited) {
			edited = a.CreatedAt
		}
		if edited.After(c.newestEdit) {
			c.newestEdit = edited
		}
	}

	candidates := make([]*candidate, 0, len(bySymbol))
	for _, c := range bySymbol {
		c.lastSeen, c.hasUser = s.tracker.LastSeen(c.symbol)
		candidates = append(candidates, c)
	}
	selected := s.selectInstruments(candidates)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	started, stopped := 0, 0
	for sym, m := range s.monitors {
		if !selected[sym] {
			m.cancel()
			delete(s.monitors, sym)
			stopped++
		}
	}
	for sym := range selected {
		if _, ok := s.monitors[sym]; !ok {
			s.startLocked(sym)
			started++
		}
	}
	total := len(s.monitors)
	s.mu.Unlock()

	if started > 0 || stopped > 0 {
		s.log.Info().
			Int("started", started).
			Int("stopped", stopped).
			Int("monitored", total).
			Msg("Synced monitored instruments")
	}
	s.reportMonitored()
	return nil
}

// selectInstruments applies the MaxInstruments cap.
func (s *Scheduler) selectInstruments(candidates []*candidate) map[string]bool {
	if limit := s.cfg.MaxInstruments; limit > 0 && len(candidates) > limit {
		s.rank(candidates)
		for _, c := range candidates[limit:] {
			s.metrics.OverCap()
			s.log.Warn().Str("symbol", c.symbol).Int("max_instruments", limit).
				Msg("Instrument cap reached, not monitoring")
		}
		candidates = candidates[:limit]
	}

	out := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		out[c.symbol] = true
	}
	return out
}

// rank orders candidates by the configured priority, best first.
func (s *Scheduler) rank(candidates []*candidate) {
	byActivity := s.cfg.Priority != PriorityRecency
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if byActivity {
			if a.hasUser != b.hasUser {
				return a.hasUser
			}
			if a.hasUser && !a.lastSeen.Equal(b.lastSeen) {
				return a.lastSeen.After(b.lastSeen)
			}
		}
		if !a.newestEdit.Equal(b.newestEdit) {
			return a.newestEdit.After(b.newestEdit)
		}
		return a.symbol < b.symbol
	})
}

// startLocked creates and launches a monitor. s.mu must be held.
func (s *Scheduler) startLocked(symbol string) *monitor {
	ctx, cancel := context.WithCancel(s.rootCtx)
	m := newMonitor(symbol, s.intervalFor(symbol), cancel, s.now())
	s.monitors[symbol] = m
	s.wg.Go(func() { s.run(ctx, m) })
	s.log.Debug().Str("symbol", symbol).Dur("interval", m.currentInterval()).Msg("Monitor started")
	return m
}

// release removes m from the monitor set if it is still the registered one.
func (s *Scheduler) release(m *monitor) {
	s.mu.Lock()
	if cur, ok := s.monitors[m.symbol]; ok && cur == m {
		delete(s.monitors, m.symbol)
	}
	s.mu.Unlock()
	m.cancel()
	if inv, ok := s.data.(invalidator); ok {
		inv.Invalidate(m.symbol)
	}
	s.reportMonitored()
}

// invalidator is implemented by data sources that can drop a symbol's
// cached data once nothing monitors it.
type invalidator interface {
	Invalidate(symbol string)
}

func (s *Scheduler) expire(ctx context.Context, a *models.Alert) {
	if s.lifecycle == nil {
		return
	}
	if _, err := s.lifecycle.Expire(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("alert_id", a.ID).Msg("Failed to expire alert")
	}
	s.lifecycle.Forget(a.ID)
}
