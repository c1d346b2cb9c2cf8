package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// MemoryStore is an in-process AdminStore. Alerts are cloned on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*models.Alert)}
}

// SaveAlert inserts or replaces an alert, including its history.
func (s *MemoryStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return apperrors.NewValidationError("alert", alert.ID, err.Error())
	}
	s.mu.Lock()
	s.alerts[alert.ID] = alert.Clone()
	s.mu.Unlock()
	return nil
}

// LoadActive returns active, enabled alerts ordered by creation time.
func (s *MemoryStore) LoadActive(ctx context.Context, symbol string) ([]*models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = models.NormalizeSymbol(symbol)

	s.mu.RLock()
	out := make([]*models.Alert, 0)
	for _, a := range s.alerts {
		if a.Status != models.StatusActive || !a.Enabled {
			continue
		}
		if symbol != "" && a.Symbol != symbol {
			continue
		}
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListAlerts returns alerts matching filter, newest first.
func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	s.mu.RLock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if filter.match(a) {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Get returns a copy of one alert.
func (s *MemoryStore) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", alertID)
	}
	return a.Clone(), nil
}

// PersistTrigger appends record unless its tick id was already recorded.
func (s *MemoryStore) PersistTrigger(ctx context.Context, alertID string, record models.TriggerRecord, status models.AlertStatus, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", alertID)
	}
	for _, r := range a.History {
		if record.TickID != "" && r.TickID == record.TickID {
			return nil
		}
	}

	a.History = append(a.History, record.Clone())
	a.Status = status
	a.Enabled = enabled
	a.UpdatedAt = record.TriggeredAt
	return nil
}

// PersistStatus writes a status/enabled transition.
func (s *MemoryStore) PersistStatus(ctx context.Context, alertID string, status models.AlertStatus, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", alertID)
	}
	a.Status = status
	a.Enabled = enabled
	a.UpdatedAt = time.Now()
	return nil
}

// PersistOutcomes replaces the outcomes of one trigger record.
func (s *MemoryStore) PersistOutcomes(ctx context.Context, alertID, recordID string, outcomes []models.NotificationOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[alertID]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", alertID)
	}
	for i := range a.History {
		if a.History[i].ID == recordID {
			a.History[i].Outcomes = append([]models.NotificationOutcome(nil), outcomes...)
			return nil
		}
	}
	return apperrors.Wrapf(apperrors.ErrAlertNotFound, "trigger record %s of alert %s", recordID, alertID)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
