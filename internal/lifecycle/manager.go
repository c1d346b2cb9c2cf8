// Package lifecycle applies trigger bookkeeping to alerts: history append,
// cooldown and max-trigger enforcement, status transitions and delivery
// outcome recording.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/logging"
	"market-alerts/internal/metrics"
	"market-alerts/internal/models"
	"market-alerts/internal/notify"
	"market-alerts/internal/store"
	"market-alerts/pkg/utils"
)

// Config holds lifecycle configuration.
type Config struct {
	DispatchTimeout time.Duration
	Retry           utils.RetryConfig
	// Session gates TradingHoursOnly alerts. The zero value is always open.
	Session utils.TradingSession
}

// alertState serializes read-modify-write of one alert.
type alertState struct {
	mu       sync.Mutex
	lastTick string
}

// Manager is the only writer of alert lifecycle state.
type Manager struct {
	store      store.AlertStore
	dispatcher notify.Dispatcher
	cfg        Config

	mu     sync.Mutex
	states map[string]*alertState

	now     func() time.Time
	newID   func() string
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(s store.AlertStore, d notify.Dispatcher, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Manager {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = utils.DefaultRetryConfig()
	}
	return &Manager{
		store:      s,
		dispatcher: d,
		cfg:        cfg,
		states:     make(map[string]*alertState),
		now:        time.Now,
		newID:      uuid.NewString,
		metrics:    m,
		log:        logger.With().Str("component", "lifecycle").Logger(),
	}
}

// SetClock replaces the manager's time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) state(alertID string) *alertState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[alertID]
	if !ok {
		st = &alertState{}
		m.states[alertID] = st
	}
	return st
}

// Forget drops per-alert bookkeeping of an alert that is no longer monitored.
// State held by an in-flight OnTrigger or Expire is kept; a later Forget
// drops it.
func (m *Manager) Forget(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[alertID]
	if !ok || !st.mu.TryLock() {
		return
	}
	delete(m.states, alertID)
	st.mu.Unlock()
}

// Eligibility returns nil when alert may fire at now, otherwise an error
// wrapping ErrNotEligible that names the reason.
func (m *Manager) Eligibility(a *models.Alert, now time.Time) error {
	switch {
	case a.Status != models.StatusActive:
		return apperrors.Wrapf(apperrors.ErrNotEligible, "status %s", a.Status)
	case !a.Enabled:
		return apperrors.Wrap(apperrors.ErrNotEligible, "disabled")
	case a.ExpiresAt != nil && !now.Before(*a.ExpiresAt):
		return apperrors.Wrap(apperrors.ErrNotEligible, "expired")
	case a.TriggerCount() >= a.Policy.MaxTriggers:
		return apperrors.Wrapf(apperrors.ErrNotEligible, "max triggers %d reached", a.Policy.MaxTriggers)
	case a.Policy.TradingHoursOnly && !m.cfg.Session.IsOpen(now):
		return apperrors.Wrap(apperrors.ErrNotEligible, "outside trading hours")
	}
	if last := a.LastTrigger(); last != nil && now.Sub(last.TriggeredAt) < a.Policy.MinInterval {
		return apperrors.Wrapf(apperrors.ErrNotEligible, "cooldown until %s",
			last.TriggeredAt.Add(a.Policy.MinInterval).Format(time.RFC3339))
	}
	return nil
}

// CanTrigger reports whether alert may fire at now.
func (m *Manager) CanTrigger(a *models.Alert, now time.Time) bool {
	return m.Eligibility(a, now) == nil
}

// OnTrigger records a satisfied condition and dispatches notifications.
// The alert is re-read from the store under a per-alert lock so the
// eligibility check sees every earlier write. Errors wrap ErrAlreadyApplied,
// ErrNotEligible or a PersistError; in all three cases nothing is sent.
// Delivery failures are recorded as outcomes and never undo the trigger.
func (m *Manager) OnTrigger(ctx context.Context, alert *models.Alert, obs models.Observation) (*models.TriggerRecord, error) {
	logger := logging.WithAlertID(m.log, alert.ID)

	record, current, err := m.apply(ctx, alert, obs)
	if err != nil {
		return nil, err
	}

	count := current.TriggerCount()
	logging.LogTrigger(logger, current.ID, current.Symbol, string(current.Variant), obs.Price, count, current.Policy.MaxTriggers)
	m.metrics.Trigger(string(current.Variant))

	record.Outcomes = m.dispatch(ctx, current, *record)
	if len(record.Outcomes) > 0 {
		err := m.persist(ctx, current.ID, "outcomes", func(pctx context.Context) error {
			return m.store.PersistOutcomes(pctx, current.ID, record.ID, record.Outcomes)
		})
		if err != nil {
			logger.Error().Err(err).Str("record_id", record.ID).Msg("Failed to record notification outcomes")
		}
	}
	return record, nil
}

func (m *Manager) apply(ctx context.Context, alert *models.Alert, obs models.Observation) (*models.TriggerRecord, *models.Alert, error) {
	st := m.state(alert.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if obs.TickID != "" && st.lastTick == obs.TickID {
		return nil, nil, apperrors.Wrapf(apperrors.ErrAlreadyApplied, "alert %s tick %s", alert.ID, obs.TickID)
	}

	current, err := m.store.Get(ctx, alert.ID)
	if err != nil {
		return nil, nil, err
	}
	if obs.TickID != "" {
		for _, r := range current.History {
			if r.TickID == obs.TickID {
				return nil, nil, apperrors.Wrapf(apperrors.ErrAlreadyApplied, "alert %s tick %s", alert.ID, obs.TickID)
			}
		}
	}

	now := m.now()
	if err := m.Eligibility(current, now); err != nil {
		return nil, nil, apperrors.Wrapf(err, "alert %s", alert.ID)
	}

	record := models.TriggerRecord{
		ID:          m.newID(),
		TriggeredAt: now,
		TickID:      obs.TickID,
		Price:       obs.Price,
		Values:      obs.Values,
	}

	status, enabled := current.Status, current.Enabled
	if current.TriggerCount()+1 >= current.Policy.MaxTriggers {
		status, enabled = models.StatusTriggered, false
	}

	err = m.persist(ctx, current.ID, "trigger", func(pctx context.Context) error {
		return m.store.PersistTrigger(pctx, current.ID, record, status, enabled)
	})
	if err != nil {
		return nil, nil, err
	}

	st.lastTick = obs.TickID
	current.History = append(current.History, record)
	current.Status, current.Enabled = status, enabled
	return &current.History[len(current.History)-1], current, nil
}

// persist retries fn with backoff. The write is detached from ctx
// cancellation so a decided trigger is not lost on shutdown; attempts bound
// it instead.
func (m *Manager) persist(ctx context.Context, alertID, operation string, fn func(context.Context) error) error {
	pctx := context.WithoutCancel(ctx)
	attempts := 0
	err := utils.Retry(pctx, m.cfg.Retry, func() error {
		attempts++
		return fn(pctx)
	})
	if err == nil {
		return nil
	}
	if apperrors.Is(err, apperrors.ErrAlertNotFound) {
		return err
	}

	m.metrics.PersistFailure(operation)
	perr := apperrors.NewPersistError(alertID, operation, attempts, err)
	logger := logging.WithOperation(logging.WithAlertID(m.log, alertID), operation)
	logger.Error().Err(perr).Int("attempts", attempts).Msg("Persistence failed")
	return perr
}

// dispatch sends the trigger to every channel of the alert concurrently.
// The context is detached from the caller so shutdown does not abort a
// delivery whose trigger is already written; DispatchTimeout bounds it.
func (m *Manager) dispatch(ctx context.Context, a *models.Alert, record models.TriggerRecord) []models.NotificationOutcome {
	targets := a.Notify.Channels
	if len(targets) == 0 || m.dispatcher == nil {
		return nil
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.DispatchTimeout)
	defer cancel()

	ac := notify.AlertContext{
		AlertID:      a.ID,
		UserID:       a.UserID,
		Symbol:       a.Symbol,
		Variant:      a.Variant,
		RecordID:     record.ID,
		TriggeredAt:  record.TriggeredAt,
		TriggerCount: a.TriggerCount(),
		MaxTriggers:  a.Policy.MaxTriggers,
		Observation: models.Observation{
			TickID: record.TickID,
			Price:  record.Price,
			Values: record.Values,
		},
	}

	return iter.Map(targets, func(t *models.ChannelTarget) models.NotificationOutcome {
		res := m.dispatcher.Send(dctx, *t, ac)
		out := models.NotificationOutcome{
			Channel:     t.Channel,
			Destination: t.Destination,
			Success:     res.Success,
			Timestamp:   res.Timestamp,
		}
		if out.Timestamp.IsZero() {
			out.Timestamp = m.now()
		}
		if res.Err != nil {
			out.Success = false
			out.Error = res.Err.Error()
		}
		return out
	})
}

// Expire moves an alert past its ExpiresAt to expired. It reports whether a
// transition was written.
func (m *Manager) Expire(ctx context.Context, alert *models.Alert) (bool, error) {
	st := m.state(alert.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	current, err := m.store.Get(ctx, alert.ID)
	if err != nil {
		return false, err
	}
	if current.ExpiresAt == nil || m.now().Before(*current.ExpiresAt) || current.Status == models.StatusExpired {
		return false, nil
	}

	err = m.persist(ctx, current.ID, "status", func(pctx context.Context) error {
		return m.store.PersistStatus(pctx, current.ID, models.StatusExpired, false)
	})
	if err != nil {
		return false, err
	}
	logger := logging.WithAlertID(m.log, alert.ID)
	logger.Info().Msg("Alert expired")
	return true, nil
}
