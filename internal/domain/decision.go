package domain

import "time"

// Label is the final classification of a transaction.
type Label string

const (
	LabelFraud      Label = "Fraud"
	LabelLegitimate Label = "Legitimate"
)

// AlertType records which signal sources contributed to a decision.
type AlertType string

const (
	AlertTypeML     AlertType = "ML"
	AlertTypeRule   AlertType = "RULE"
	AlertTypeHybrid AlertType = "HYBRID"
)

// Severity is the four-level triage summary derived from the final risk score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// TriggeredRule is one rule that fired during evaluation, with its signed
// risk contribution. Positive contributions raise risk, negative ones are
// trust discounts.
type TriggeredRule struct {
	Name         string  `json:"name"`
	Reason       string  `json:"reason"`
	Priority     int     `json:"priority"`
	Contribution float64 `json:"contribution"`
}

// RuleEvaluation is the per-transaction output of the rule evaluator.
// Triggered is ordered by descending priority, registration order on ties.
type RuleEvaluation struct {
	Triggered []TriggeredRule `json:"triggered"`

	// RiskIncrease is the maximum positive contribution, or 0 if none.
	RiskIncrease float64 `json:"riskIncrease"`

	// RiskDecrease is the sum of all negative contributions (always <= 0).
	RiskDecrease float64 `json:"riskDecrease"`

	// RiskScore is max(0, RiskIncrease + RiskDecrease).
	RiskScore float64 `json:"riskScore"`

	// Failures counts rules that errored and were treated as not triggered.
	Failures int `json:"failures,omitempty"`
}

// Reasons returns the human-readable reason strings of the triggered rules,
// in reporting order.
func (e *RuleEvaluation) Reasons() []string {
	if len(e.Triggered) == 0 {
		return nil
	}
	reasons := make([]string, 0, len(e.Triggered))
	for _, r := range e.Triggered {
		reasons = append(reasons, r.Reason)
	}
	return reasons
}

// Decision is the fused result of the estimator probability and the rule
// evaluation for one transaction.
type Decision struct {
	TransactionID string `json:"transactionId"`
	CustomerID    string `json:"customerId"`

	Label     Label     `json:"label"`
	RiskScore float64   `json:"riskScore"`
	Severity  Severity  `json:"severity"`
	AlertType AlertType `json:"alertType"`

	// EstimatorScore is the raw, unadjusted model probability.
	EstimatorScore float64 `json:"estimatorScore"`

	// Threshold is the estimator decision threshold in force for this call.
	Threshold float64 `json:"threshold"`

	// RuleRiskScore is the aggregate rule score, floored at zero.
	RuleRiskScore float64 `json:"ruleRiskScore"`

	TriggeredRules []TriggeredRule `json:"triggeredRules,omitempty"`
	Reasons        []string        `json:"reasons,omitempty"`

	Timestamp time.Time        `json:"timestamp"`
	Metadata  DecisionMetadata `json:"metadata"`
}

// DecisionMetadata carries processing details for observability.
type DecisionMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	EstimatorMs   int64  `json:"estimatorMs"`
	RulesMs       int64  `json:"rulesMs"`
	TotalMs       int64  `json:"totalMs"`
	RulesChecked  int    `json:"rulesChecked"`
	RuleFailures  int    `json:"ruleFailures,omitempty"`
	EngineVersion string `json:"engineVersion"`
}

// SeverityFor maps a final risk score onto the severity bands.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 0.90:
		return SeverityCritical
	case score >= 0.70:
		return SeverityHigh
	case score >= 0.50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// PredictionRecord is the persisted log entry for every decision, fraud or
// not, used for later threshold and drift analysis.
type PredictionRecord struct {
	ID             int64     `json:"id"`
	TransactionID  string    `json:"transactionId"`
	CustomerID     string    `json:"customerId"`
	Label          Label     `json:"label"`
	RiskScore      float64   `json:"riskScore"`
	EstimatorScore float64   `json:"estimatorScore"`
	RuleRiskScore  float64   `json:"ruleRiskScore"`
	CreatedAt      time.Time `json:"createdAt"`
}
