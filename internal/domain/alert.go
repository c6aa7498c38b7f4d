package domain

import "time"

// AlertStatus is the lifecycle state of a fraud alert.
//
// The state machine is NEW → INVESTIGATING → {RESOLVED, FALSE_POSITIVE,
// CONFIRMED}. INVESTIGATING is optional; a NEW alert may jump straight to a
// terminal state. Terminal states stamp resolution fields on entry and admit
// no further transitions.
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "NEW"
	AlertStatusInvestigating AlertStatus = "INVESTIGATING"
	AlertStatusResolved      AlertStatus = "RESOLVED"
	AlertStatusFalsePositive AlertStatus = "FALSE_POSITIVE"
	AlertStatusConfirmed     AlertStatus = "CONFIRMED"
)

// Terminal reports whether the status admits no further transitions.
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertStatusResolved, AlertStatusFalsePositive, AlertStatusConfirmed:
		return true
	}
	return false
}

// Valid reports whether the status is a known lifecycle state.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusNew, AlertStatusInvestigating, AlertStatusResolved,
		AlertStatusFalsePositive, AlertStatusConfirmed:
		return true
	}
	return false
}

// Alert is a persisted fraud alert. Alerts exist only for Fraud decisions;
// the fusion core constructs the initial state and the store owns the record
// from then on.
type Alert struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transactionId"`
	CustomerID    string    `json:"customerId"`
	Type          AlertType `json:"type"`
	Severity      Severity  `json:"severity"`

	Status    AlertStatus `json:"status"`
	RiskScore float64     `json:"riskScore"`

	// TriggeredRules holds the serialized reasons of the rules that fired.
	TriggeredRules []string `json:"triggeredRules,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
}

// AlertFilter selects alerts for listing. Zero values mean "no filter".
// Limit is always bounded by the store.
type AlertFilter struct {
	CustomerID string
	Severity   Severity
	Status     AlertStatus
	Limit      int
}

// AlertStats is the aggregate statistics view over alerts, optionally
// restricted to a time window.
type AlertStats struct {
	Total        int64                 `json:"total"`
	BySeverity   map[Severity]int64    `json:"bySeverity"`
	ByStatus     map[AlertStatus]int64 `json:"byStatus"`
	ByType       map[AlertType]int64   `json:"byType"`
	AvgRiskScore float64               `json:"avgRiskScore"`
}

// StatsWindow restricts an AlertStats query. Nil bounds are open.
type StatsWindow struct {
	Start *time.Time
	End   *time.Time
}
