// Package store provides alert persistence implementations.
package store

import (
	"context"

	"market-alerts/internal/models"
)

// AlertStore is the narrow read/write surface the monitoring core uses.
// Implementations must offer read-your-writes: a LoadActive or Get issued
// after a successful Persist* call observes that write.
type AlertStore interface {
	// LoadActive returns alerts with status active and enabled set.
	// An empty symbol returns them for every instrument.
	LoadActive(ctx context.Context, symbol string) ([]*models.Alert, error)

	// Get returns one alert regardless of its status.
	Get(ctx context.Context, alertID string) (*models.Alert, error)

	// PersistTrigger appends record to the alert's history and writes the
	// resulting status/enabled pair in one transaction. Persisting the
	// same (alert, tick id) twice is a no-op.
	PersistTrigger(ctx context.Context, alertID string, record models.TriggerRecord, status models.AlertStatus, enabled bool) error

	// PersistStatus writes a status/enabled transition.
	PersistStatus(ctx context.Context, alertID string, status models.AlertStatus, enabled bool) error

	// PersistOutcomes attaches delivery outcomes to a trigger record.
	PersistOutcomes(ctx context.Context, alertID, recordID string, outcomes []models.NotificationOutcome) error
}

// AdminStore adds the operations used by the alerts CLI.
type AdminStore interface {
	AlertStore

	SaveAlert(ctx context.Context, alert *models.Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	Close() error
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	UserID string
	Symbol string
	Status models.AlertStatus
	Limit  int
}

func (f AlertFilter) match(a *models.Alert) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Symbol != "" && a.Symbol != models.NormalizeSymbol(f.Symbol) {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}
