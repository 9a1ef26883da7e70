// Package ruleapi exposes the administrative HTTP API for notification
// rules and process metrics.
package ruleapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JamshedLatipov/crm-sub001/internal/metrics"
	"github.com/JamshedLatipov/crm-sub001/internal/rules"
)

// RuleStore is the persistence slice the admin API needs.
type RuleStore interface {
	ListActive(ctx context.Context) ([]*rules.Rule, error)
	GetRule(ctx context.Context, ruleID string) (*rules.Rule, error)
	CreateRule(ctx context.Context, rule *rules.Rule) error
	SetActive(ctx context.Context, ruleID string, active bool) error
	DeleteRule(ctx context.Context, ruleID string) error
}

// MetricsSource reads live process metrics.
type MetricsSource interface {
	GetAllProcessMetrics(ctx context.Context) (map[string]*metrics.ProcessMetrics, error)
}

// API serves the rule admin endpoints.
type API struct {
	store   RuleStore
	metrics MetricsSource
}

// NewAPI creates the admin API over the given store. The metrics source
// may be nil; the metrics endpoint then reports service unavailable.
func NewAPI(store RuleStore, metricsSource MetricsSource) *API {
	return &API{store: store, metrics: metricsSource}
}

// Routes registers the admin endpoints.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rules", a.handleListRules)
	mux.HandleFunc("POST /api/rules", a.handleCreateRule)
	mux.HandleFunc("GET /api/rules/{id}", a.handleGetRule)
	mux.HandleFunc("POST /api/rules/{id}/toggle", a.handleToggleRule)
	mux.HandleFunc("DELETE /api/rules/{id}", a.handleDeleteRule)
	mux.HandleFunc("GET /api/processes/metrics", a.handleProcessMetrics)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListActive(r.Context())
	if err != nil {
		slog.Error("Failed to list rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": list})
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.store.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Error("Failed to get rule", "rule_id", r.PathValue("id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body")
		return
	}
	if msg := validateRule(&rule); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	if err := a.store.CreateRule(r.Context(), &rule); err != nil {
		slog.Error("Failed to create rule", "rule_id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	slog.Info("Rule created",
		"rule_id", rule.ID,
		"event_type", rule.EventType,
		"active", rule.Active,
	)
	writeJSON(w, http.StatusCreated, &rule)
}

func (a *API) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid toggle body")
		return
	}

	ruleID := r.PathValue("id")
	if err := a.store.SetActive(r.Context(), ruleID, body.Active); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Error("Failed to toggle rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to toggle rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule_id": ruleID, "active": body.Active})
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := r.PathValue("id")
	if err := a.store.DeleteRule(r.Context(), ruleID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Error("Failed to delete rule", "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rule_id": ruleID, "status": "deleted"})
}

func (a *API) handleProcessMetrics(w http.ResponseWriter, r *http.Request) {
	if a.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not configured")
		return
	}
	all, err := a.metrics.GetAllProcessMetrics(r.Context())
	if err != nil {
		slog.Error("Failed to read process metrics", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read process metrics")
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// validateRule checks a rule at write time. Unknown operators are rejected
// here instead of silently never matching at evaluation time.
func validateRule(rule *rules.Rule) string {
	if rule.Name == "" {
		return "rule name is required"
	}
	if rule.EventType == "" {
		return "event type is required"
	}
	if len(rule.Action.Channels) == 0 {
		return "at least one channel is required"
	}
	for _, cond := range rule.Conditions {
		if cond.Field == "" {
			return "condition field is required"
		}
		if !rules.KnownOperator(cond.Operator) {
			return "unknown condition operator: " + cond.Operator
		}
		if cond.BoolJoin != "" && !strings.EqualFold(cond.BoolJoin, "AND") && !strings.EqualFold(cond.BoolJoin, "OR") {
			return "boolean join must be AND or OR"
		}
	}
	if rule.Action.ThrottleSeconds < 0 || rule.Action.DelaySeconds < 0 {
		return "throttle and delay must not be negative"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
