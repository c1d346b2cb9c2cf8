package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/models"
)

// SQLiteStore implements AdminStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the alert database at dbPath.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:  db,
		log: logger.With().Str("component", "store").Logger(),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		variant TEXT NOT NULL,
		target TEXT,
		indicator TEXT,
		policy TEXT NOT NULL,
		notify TEXT NOT NULL,
		status TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		expires_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Append-only; seq preserves insertion order
	CREATE TABLE IF NOT EXISTS trigger_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		alert_id TEXT NOT NULL,
		tick_id TEXT NOT NULL,
		triggered_at DATETIME NOT NULL,
		price REAL NOT NULL,
		observed TEXT,
		outcomes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts(status, enabled, symbol);
	CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
	CREATE INDEX IF NOT EXISTS idx_history_alert ON trigger_history(alert_id, seq);
	-- Duplicate-tick guard; triggers without a tick id are never deduplicated
	CREATE UNIQUE INDEX IF NOT EXISTS idx_history_tick ON trigger_history(alert_id, tick_id) WHERE tick_id <> '';
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const alertColumns = "id, user_id, symbol, variant, target, indicator, policy, notify, status, enabled, expires_at, created_at, updated_at"

// SaveAlert inserts or replaces an alert definition. History is untouched.
func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if err := alert.Validate(); err != nil {
		return apperrors.NewValidationError("alert", alert.ID, err.Error())
	}

	target, err := marshalOptional(alert.Target)
	if err != nil {
		return fmt.Errorf("failed to encode target: %w", err)
	}
	indicator, err := marshalOptional(alert.Indicator)
	if err != nil {
		return fmt.Errorf("failed to encode indicator config: %w", err)
	}
	policy, _ := json.Marshal(alert.Policy)
	notify, _ := json.Marshal(alert.Notify)

	var expires sql.NullTime
	if alert.ExpiresAt != nil {
		expires = sql.NullTime{Time: *alert.ExpiresAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.UserID, models.NormalizeSymbol(alert.Symbol), string(alert.Variant), target, indicator,
		string(policy), string(notify), string(alert.Status), boolToInt(alert.Enabled), expires,
		alert.CreatedAt, alert.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// LoadActive retrieves active, enabled alerts with their trigger history.
func (s *SQLiteStore) LoadActive(ctx context.Context, symbol string) ([]*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE status = ? AND enabled = 1"
	args := []interface{}{string(models.StatusActive)}
	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, models.NormalizeSymbol(symbol))
	}
	query += " ORDER BY created_at ASC"

	return s.queryAlerts(ctx, query, args...)
}

// ListAlerts retrieves alerts matching filter, newest first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE 1=1"
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, models.NormalizeSymbol(filter.Symbol))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryAlerts(ctx, query, args...)
}

// Get retrieves one alert by id.
func (s *SQLiteStore) Get(ctx context.Context, alertID string) (*models.Alert, error) {
	alerts, err := s.queryAlerts(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", alertID)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", alertID)
	}
	return alerts[0], nil
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			// A corrupt row must not hide the remaining alerts.
			s.log.Warn().Err(err).Msg("Skipping unreadable alert row")
			continue
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	if err := s.attachHistory(ctx, alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                 models.Alert
		variant, status   string
		target, indicator sql.NullString
		policy, notify    string
		enabled           int
		expires           sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Symbol, &variant, &target, &indicator, &policy, &notify,
		&status, &enabled, &expires, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	v, err := models.ParseVariant(variant)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrUnknownVariant, "alert %s: %v", a.ID, err)
	}
	a.Variant = v
	a.Status = models.AlertStatus(status)
	a.Enabled = enabled == 1
	if expires.Valid {
		t := expires.Time
		a.ExpiresAt = &t
	}

	if target.Valid && target.String != "" {
		a.Target = &models.TargetParams{}
		if err := json.Unmarshal([]byte(target.String), a.Target); err != nil {
			return nil, fmt.Errorf("alert %s: failed to decode target: %w", a.ID, err)
		}
	}
	if indicator.Valid && indicator.String != "" {
		a.Indicator = &models.IndicatorConfig{}
		if err := json.Unmarshal([]byte(indicator.String), a.Indicator); err != nil {
			return nil, fmt.Errorf("alert %s: failed to decode indicator config: %w", a.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(policy), &a.Policy); err != nil {
		return nil, fmt.Errorf("alert %s: failed to decode policy: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(notify), &a.Notify); err != nil {
		return nil, fmt.Errorf("alert %s: failed to decode notification target: %w", a.ID, err)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// historyChunk stays below SQLite's host parameter limit.
const historyChunk = 500

func (s *SQLiteStore) attachHistory(ctx context.Context, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	byID := make(map[string]*models.Alert, len(alerts))
	for _, a := range alerts {
		byID[a.ID] = a
	}

	for start := 0; start < len(alerts); start += historyChunk {
		end := start + historyChunk
		if end > len(alerts) {
			end = len(alerts)
		}
		chunk := alerts[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, a := range chunk {
			args[i] = a.ID
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT alert_id, id, tick_id, triggered_at, price, observed, outcomes
			FROM trigger_history WHERE alert_id IN (`+placeholders+`)
			ORDER BY seq ASC
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to query trigger history: %w", err)
		}

		for rows.Next() {
			var alertID string
			var r models.TriggerRecord
			var observed, outcomes sql.NullString
			if err := rows.Scan(&alertID, &r.ID, &r.TickID, &r.TriggeredAt, &r.Price, &observed, &outcomes); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan trigger record: %w", err)
			}
			if observed.Valid && observed.String != "" {
				json.Unmarshal([]byte(observed.String), &r.Values)
			}
			if outcomes.Valid && outcomes.String != "" {
				json.Unmarshal([]byte(outcomes.String), &r.Outcomes)
			}
			if a := byID[alertID]; a != nil {
				a.History = append(a.History, r)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("error iterating trigger history: %w", err)
		}
	}
	return nil
}

// PersistTrigger appends a trigger record and writes status/enabled atomically.
func (s *SQLiteStore) PersistTrigger(ctx context.Context, alertID string, record models.TriggerRecord, status models.AlertStatus, enabled bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	observed, _ := json.Marshal(record.Values)
	outcomes, _ := json.Marshal(record.Outcomes)

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO trigger_history (id, alert_id, tick_id, triggered_at, price, observed, outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.ID, alertID, record.TickID, record.TriggeredAt, record.Price, string(observed), string(outcomes))
	if err != nil {
		return fmt.Errorf("failed to insert trigger record: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Already written by an earlier attempt of the same tick.
		return nil
	}

	if err := updateStatus(ctx, tx, alertID, status, enabled, record.TriggeredAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PersistStatus writes a status/enabled transition.
func (s *SQLiteStore) PersistStatus(ctx context.Context, alertID string, status models.AlertStatus, enabled bool) error {
	return updateStatus(ctx, s.db, alertID, status, enabled, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateStatus(ctx context.Context, db execer, alertID string, status models.AlertStatus, enabled bool, at time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, enabled = ?, updated_at = ? WHERE id = ?
	`, string(status), boolToInt(enabled), at, alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.Wrapf(apperrors.ErrAlertNotFound, "alert %s", alertID)
	}
	return nil
}

// PersistOutcomes replaces the delivery outcomes of one trigger record.
func (s *SQLiteStore) PersistOutcomes(ctx context.Context, alertID, recordID string, outcomes []models.NotificationOutcome) error {
	data, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE trigger_history SET outcomes = ? WHERE id = ? AND alert_id = ?
	`, string(data), recordID, alertID)
	if err != nil {
		return fmt.Errorf("failed to save outcomes: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.Wrapf(apperrors.ErrAlertNotFound, "trigger record %s of alert %s", recordID, alertID)
	}
	return nil
}

func marshalOptional(v interface{}) (sql.NullString, error) {
	switch p := v.(type) {
	case *models.TargetParams:
		if p == nil {
			return sql.NullString{}, nil
		}
	case *models.IndicatorConfig:
		if p == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
