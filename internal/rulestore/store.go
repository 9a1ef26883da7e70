// Package rulestore provides persistence for notification rules and the
// cross-process throttle gate backing their fire side effects.
package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// Store wraps a database connection and provides rule operations.
type Store struct {
	conn *sql.DB
}

// NewStore creates a new rule store using the provided DSN.
func NewStore(dsn string) (*Store, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &Store{conn: conn}, nil
}

// NewStoreWithConn wraps an existing connection. Intended for tests.
func NewStoreWithConn(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Conn exposes the underlying connection for stores sharing the pool.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		slog.Info("Closing rule store connection")
		return s.conn.Close()
	}
	return nil
}

const ruleColumns = `rule_id, name, event_type, priority, conditions, action, filters, active,
		quiet_hours_start, quiet_hours_end, days, last_triggered_at, trigger_count, created_at, updated_at`

// ListActive retrieves all active rules ordered by descending priority then
// ascending creation order, the order the evaluator walks them in.
func (s *Store) ListActive(ctx context.Context) ([]*rules.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM notification_rules
		WHERE active = TRUE
		ORDER BY priority DESC, created_at ASC
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	var list []*rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rule)
	}
	return list, rows.Err()
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, ruleID string) (*rules.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM notification_rules
		WHERE rule_id = $1
	`
	rule, err := scanRule(s.conn.QueryRowContext(ctx, query, ruleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule not found: %s", ruleID)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateRule inserts a new rule.
func (s *Store) CreateRule(ctx context.Context, rule *rules.Rule) error {
	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionJSON, err := json.Marshal(rule.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	var filtersJSON interface{}
	if rule.Filters != nil {
		data, err := json.Marshal(rule.Filters)
		if err != nil {
			return fmt.Errorf("failed to marshal filters: %w", err)
		}
		filtersJSON = string(data)
	}

	query := `
		INSERT INTO notification_rules
			(rule_id, name, event_type, priority, conditions, action, filters, active,
			 quiet_hours_start, quiet_hours_end, days, trigger_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, NOW(), NOW())
	`
	_, err = s.conn.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.EventType,
		rule.Priority,
		string(conditionsJSON),
		string(actionJSON),
		filtersJSON,
		rule.Active,
		nullIfEmpty(rule.QuietHoursStart),
		nullIfEmpty(rule.QuietHoursEnd),
		pq.Array(rule.Days),
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// SetActive toggles a rule on or off.
func (s *Store) SetActive(ctx context.Context, ruleID string, active bool) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE notification_rules SET active = $2, updated_at = NOW() WHERE rule_id = $1
	`, ruleID, active)
	if err != nil {
		return fmt.Errorf("failed to toggle rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check toggle result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := s.conn.ExecContext(ctx, `
		DELETE FROM notification_rules WHERE rule_id = $1
	`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}
	return nil
}

// RecordTrigger writes the fire side effect back to Postgres. The Redis gate
// is the authoritative throttle state; this write-back keeps the admin UI's
// view of last_triggered_at/trigger_count fresh and is best effort.
func (s *Store) RecordTrigger(ctx context.Context, ruleID string, firedAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE notification_rules
		SET last_triggered_at = $2, trigger_count = trigger_count + 1, updated_at = NOW()
		WHERE rule_id = $1
	`, ruleID, firedAt)
	if err != nil {
		return fmt.Errorf("failed to record rule trigger: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRule.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*rules.Rule, error) {
	var rule rules.Rule
	var conditionsJSON, actionJSON string
	var filtersJSON, quietStart, quietEnd sql.NullString
	var lastTriggered sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.EventType,
		&rule.Priority,
		&conditionsJSON,
		&actionJSON,
		&filtersJSON,
		&rule.Active,
		&quietStart,
		&quietEnd,
		pq.Array(&rule.Days),
		&lastTriggered,
		&rule.TriggerCount,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions for rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &rule.Action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action for rule %s: %w", rule.ID, err)
	}
	if filtersJSON.Valid && filtersJSON.String != "" {
		rule.Filters = &rules.Filters{}
		if err := json.Unmarshal([]byte(filtersJSON.String), rule.Filters); err != nil {
			// A broken filter blob fails closed at evaluation time; keep the
			// rule loadable and let the empty filter allow-lists pass.
			slog.Warn("Failed to unmarshal rule filters", "rule_id", rule.ID, "error", err)
			rule.Filters = nil
		}
	}
	rule.QuietHoursStart = quietStart.String
	rule.QuietHoursEnd = quietEnd.String
	if lastTriggered.Valid {
		t := lastTriggered.Time
		rule.LastTriggeredAt = &t
	}
	return &rule, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
