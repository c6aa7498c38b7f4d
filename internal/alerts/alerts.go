// Package alerts manages the fraud alert lifecycle: creation from Fraud
// decisions, operator-driven status transitions, and read/statistics queries.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var (
	// ErrTerminalStatus is returned when a transition targets an alert
	// already in a terminal state. Terminal alerts never silently re-open.
	ErrTerminalStatus = errors.New("alert is in a terminal state")

	// ErrInvalidStatus is returned for a status outside the lifecycle.
	ErrInvalidStatus = errors.New("invalid alert status")
)

// DefaultListLimit bounds list queries when the caller supplies none.
const DefaultListLimit = 100

// MaxListLimit is the hard ceiling on list result counts.
const MaxListLimit = 1000

// Manager wraps the alert store with the lifecycle policy. It constructs the
// initial alert state from a decision; the store owns the record afterwards.
type Manager struct {
	store domain.AlertStore
	bus   domain.EventBus
}

// NewManager creates an alert manager. bus may be nil; when set, created
// alerts are published to the alert topic.
func NewManager(store domain.AlertStore, bus domain.EventBus) *Manager {
	return &Manager{store: store, bus: bus}
}

// Create materializes a decision into a persisted alert. Returns (0, nil)
// for non-Fraud decisions: alerts exist only for fraud, as an invariant
// rather than a policy knob.
func (m *Manager) Create(ctx context.Context, decision *domain.Decision, metadata map[string]interface{}) (int64, error) {
	if decision == nil || decision.Label != domain.LabelFraud {
		return 0, nil
	}

	now := time.Now().UTC()
	alert := &domain.Alert{
		TransactionID:  decision.TransactionID,
		CustomerID:     decision.CustomerID,
		Type:           decision.AlertType,
		Severity:       decision.Severity,
		Status:         domain.AlertStatusNew,
		RiskScore:      decision.RiskScore,
		TriggeredRules: decision.Reasons,
		Message:        buildMessage(decision),
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	id, err := m.store.InsertAlert(ctx, alert)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}

	metrics.AlertCreated(string(decision.Severity), string(decision.AlertType))
	slog.Warn("fraud alert created",
		"alert_id", id,
		"transaction_id", decision.TransactionID,
		"customer_id", decision.CustomerID,
		"severity", decision.Severity,
		"risk_score", decision.RiskScore,
	)

	if m.bus != nil {
		m.publish(ctx, id, decision)
	}

	return id, nil
}

// UpdateStatus applies an operator-driven lifecycle transition. Terminal
// entry requires the store to stamp resolution fields; attempts to move an
// alert out of a terminal state fail with ErrTerminalStatus.
func (m *Manager) UpdateStatus(ctx context.Context, id int64, status domain.AlertStatus, notes, resolvedBy string) error {
	if !status.Valid() || status == domain.AlertStatusNew {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	current, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("%w: alert %d is %s", ErrTerminalStatus, id, current.Status)
	}

	if err := m.store.UpdateAlertStatus(ctx, id, status, notes, resolvedBy); err != nil {
		return fmt.Errorf("failed to update alert %d: %w", id, err)
	}

	slog.Info("alert status updated",
		"alert_id", id,
		"status", status,
		"resolved_by", resolvedBy,
	)
	return nil
}

// List returns alerts matching the filter, newest first, with the result
// count bounded.
func (m *Manager) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	return m.store.ListAlerts(ctx, filter)
}

// Get returns one alert by ID.
func (m *Manager) Get(ctx context.Context, id int64) (*domain.Alert, error) {
	return m.store.GetAlert(ctx, id)
}

// Stats returns aggregate alert statistics over an optional time window.
func (m *Manager) Stats(ctx context.Context, window domain.StatsWindow) (*domain.AlertStats, error) {
	return m.store.AlertStats(ctx, window)
}

// buildMessage assembles the free-text alert message from the decision's
// signal sources.
func buildMessage(d *domain.Decision) string {
	parts := []string{
		fmt.Sprintf("Model risk score: %.2f%%", d.EstimatorScore*100),
	}
	if len(d.Reasons) > 0 {
		parts = append(parts, fmt.Sprintf("Rules triggered (%d): %s",
			len(d.Reasons), strings.Join(d.Reasons, ", ")))
	}
	return strings.Join(parts, "; ")
}

// alertEvent is the payload published to the alert topic.
type alertEvent struct {
	AlertID       int64           `json:"alertId"`
	TransactionID string          `json:"transactionId"`
	CustomerID    string          `json:"customerId"`
	Severity      domain.Severity `json:"severity"`
	RiskScore     float64         `json:"riskScore"`
}

// publish sends the alert to the alert topic, best effort.
func (m *Manager) publish(ctx context.Context, id int64, decision *domain.Decision) {
	payload, err := json.Marshal(alertEvent{
		AlertID:       id,
		TransactionID: decision.TransactionID,
		CustomerID:    decision.CustomerID,
		Severity:      decision.Severity,
		RiskScore:     decision.RiskScore,
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		slog.Error("failed to publish alert",
			"alert_id", id,
			"error", err,
		)
	}
}
