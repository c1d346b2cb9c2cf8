// Package scheduler runs one polling loop per monitored instrument. Each loop
// reloads the instrument's active alerts, fetches market data, evaluates
// every alert and routes satisfied conditions to the lifecycle manager.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"market-alerts/internal/activity"
	"market-alerts/internal/analysis/indicators"
	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/evaluator"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/store"
)

// Priority policies for choosing instruments when over MaxInstruments.
const (
	PriorityActivityThenRecency = "activity_then_recency"
	PriorityRecency             = "recency"
)

// Config holds scheduler configuration.
type Config struct {
	ActiveInterval    time.Duration
	IdleInterval      time.Duration
	MaxInstruments    int
	Priority          string
	DiscoveryInterval time.Duration
	ActivityBuffer    int
	FetchTimeout      time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		ActiveInterval:    20 * time.Second,
		IdleInterval:      2 * time.Minute,
		MaxInstruments:    500,
		Priority:          PriorityActivityThenRecency,
		DiscoveryInterval: time.Minute,
		ActivityBuffer:    1024,
		FetchTimeout:      10 * time.Second,
	}
}

// DataSource supplies market data per instrument. *marketdata.Cache
// implements it.
type DataSource interface {
	Get(ctx context.Context, symbol string) (models.MarketData, error)
}

// Evaluator decides whether an alert's condition holds.
type Evaluator interface {
	Evaluate(alert *models.Alert, md models.MarketData, snap *indicators.Snapshot) (evaluator.Decision, error)
}

// Lifecycle applies triggers and expiry. *lifecycle.Manager implements it.
type Lifecycle interface {
	CanTrigger(alert *models.Alert, now time.Time) bool
	OnTrigger(ctx context.Context, alert *models.Alert, obs models.Observation) (*models.TriggerRecord, error)
	Expire(ctx context.Context, alert *models.Alert) (bool, error)
	Forget(alertID string)
}

type activityEvent struct {
	userID string
	symbol string
}

// InstrumentStatus describes one running monitor.
type InstrumentStatus struct {
	Symbol     string
	Interval   time.Duration
	Generation uint64
	Since      time.Time
}

// Scheduler owns the set of monitored instruments.
type Scheduler struct {
	cfg       Config
	store     store.AlertStore
	data      DataSource
	engine    *indicators.Engine
	evaluator Evaluator
	lifecycle Lifecycle
	tracker   *activity.Tracker

	mu       sync.Mutex
	monitors map[string]*monitor
	rootCtx  context.Context
	cancel   context.CancelFunc
	running  bool

	activity chan activityEvent
	wg       conc.WaitGroup

	now     func() time.Time
	newTick func() string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Store     store.AlertStore
	Data      DataSource
	Engine    *indicators.Engine
	Evaluator Evaluator
	Lifecycle Lifecycle
	Tracker   *activity.Tracker
	Metrics   *metrics.Metrics
}

// New creates a scheduler. Nothing runs until Start.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.ActiveInterval <= 0 {
		cfg.ActiveInterval = def.ActiveInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.ActivityBuffer <= 0 {
		cfg.ActivityBuffer = def.ActivityBuffer
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.Priority == "" {
		cfg.Priority = def.Priority
	}
	if deps.Engine == nil {
		deps.Engine = indicators.NewEngine(indicators.DefaultDefaults())
	}
	if deps.Evaluator == nil {
		deps.Evaluator = evaluator.New(deps.Engine)
	}
	if deps.Tracker == nil {
		deps.Tracker = activity.NewTracker(5*time.Minute, 0)
	}

	return &Scheduler{
		cfg:       cfg,
		store:     deps.Store,
		data:      deps.Data,
		engine:    deps.Engine,
		evaluator: deps.Evaluator,
		lifecycle: deps.Lifecycle,
		tracker:   deps.Tracker,
		monitors:  make(map[string]*monitor),
		activity:  make(chan activityEvent, cfg.ActivityBuffer),
		now:       time.Now,
		newTick:   newTickID,
		metrics:   deps.Metrics,
		log:       logger.With().Str("component", "scheduler").Logger(),
	}
}

// SetClock replaces the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start loads active alerts, creates a monitor per instrument and starts the
// activity and discovery loops. It returns the initial sync error, if any;
// the loops keep running regardless.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.rootCtx, s.cancel = context.WithCancel(ctx)
	s.running = true
	root := s.rootCtx
	s.mu.Unlock()

	s.wg.Go(func() { s.activityLoop(root) })
	if s.cfg.DiscoveryInterval > 0 {
		s.wg.Go(func() { s.discoveryLoop(root) })
	}

	err := s.Sync(root)
	if err != nil {
		s.log.Error().Err(err).Msg("Initial alert sync failed")
	}
	return err
}

// Stop cancels every monitor and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for sym, m := range s.monitors {
		m.cancel()
		delete(s.monitors, sym)
	}
	s.mu.Unlock()

	if r := s.wg.WaitAndRecover(); r != nil {
		s.log.Error().Str("panic", r.String()).Msg("Scheduler goroutine panicked")
	}
	s.reportMonitored()
	s.log.Info().Msg("Scheduler stopped")
}

// NotifyActivity queues an activity event. It never blocks; when the queue
// is full the event is dropped and ErrBackpressure returned.
func (s *Scheduler) NotifyActivity(userID, symbol string) error {
	ev := activityEvent{userID: userID, symbol: models.NormalizeSymbol(symbol)}
	if ev.symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "symbol is required")
	}
	select {
	case s.activity <- ev:
		return nil
	default:
		s.metrics.ActivityDrop()
		return apperrors.Wrapf(apperrors.ErrBackpressure, "activity for %s dropped", ev.symbol)
	}
}

func (s *Scheduler) activityLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.activity:
			s.applyActivity(ev)
		}
	}
}

func (s *Scheduler) applyActivity(ev activityEvent) {
	symbol := s.tracker.Record(ev.userID, ev.symbol)
	s.mu.Lock()
	m, ok := s.monitors[symbol]
	s.mu.Unlock()
	if ok {
		s.recheck(m)
	}
}

func (s *Scheduler) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tracker.Sweep(); n > 0 {
				s.log.Debug().Int("removed", n).Msg("Swept stale activity records")
			}
			if err := s.Sync(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Alert discovery failed")
			}
		}
	}
}

// intervalFor picks the polling period of symbol from activity.
func (s *Scheduler) intervalFor(symbol string) time.Duration {
	if s.tracker.HasActiveUser(symbol) {
		return s.cfg.ActiveInterval
	}
	return s.cfg.IdleInterval
}

// recheck re-derives m's interval and signals its loop only when the period
// changed.
func (s *Scheduler) recheck(m *monitor) {
	want := s.intervalFor(m.symbol)
	if !m.setInterval(want) {
		return
	}
	logger := s.log.With().Str("symbol", m.symbol).Logger()
	logger.Debug().Dur("interval", want).Uint64("generation", m.generation()).Msg("Polling interval changed")
	s.reportMonitored()
}

// Status lists the running monitors.
func (s *Scheduler) Status() []InstrumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InstrumentStatus, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, m.status())
	}
	return out
}

// Monitored reports whether symbol currently has a monitor.
func (s *Scheduler) Monitored(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[models.NormalizeSymbol(symbol)]
	return ok
}

func (s *Scheduler) reportMonitored() {
	s.mu.Lock()
	active, idle := 0, 0
	for _, m := range s.monitors {
		if m.currentInterval() == s.cfg.ActiveInterval {
			active++
		} else {
			idle++
		}
	}
	s.mu.Unlock()
	s.metrics.SetMonitored(active, idle)
}
