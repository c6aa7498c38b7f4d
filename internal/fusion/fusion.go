// Package fusion combines the statistical estimator's probability with the
// rule evaluator's aggregate signal into a single decision.
//
// The final label deliberately mixes the estimator's raw threshold decision
// with fused rule strength: a single strong rule can force a Fraud label even
// when the numeric fusion nets out low, and the model's own calibrated
// threshold decision is never overridden by trust-discount arithmetic. Label
// and score can therefore diverge; that is policy, not a bug.
package fusion

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion identifies the decision policy in effect, recorded on every
// decision and prediction log entry.
const EngineVersion = "kestrel-1.0"

// Fuser applies the numeric fusion policy. It is a pure function of its
// inputs: no hidden state, no randomness, no wall-clock reads.
type Fuser struct {
	cfg domain.FusionConfig

	// Amount thresholds for the risk floors, shared with the rule catalog.
	criticalAmount float64
	highRiskAmount float64
}

// New creates a Fuser. The amount thresholds come from the rule configuration
// so the floors track the same tiers the amount rules use.
func New(cfg domain.FusionConfig, thresholds domain.RuleThresholds) *Fuser {
	return &Fuser{
		cfg:            cfg,
		criticalAmount: thresholds.CriticalAmount,
		highRiskAmount: thresholds.HighRiskAmount,
	}
}

// Fuse produces the final decision from the transaction, the estimator's raw
// probability with its decision threshold, and the rule evaluation.
//
// Steps:
//  1. adjusted = clamp(probability + ruleRiskDecrease, 0, 1) — trust
//     discounts reduce the model's own score.
//  2. final = max(adjusted, ruleRiskIncrease) — the worse of the
//     discount-adjusted model score and the strongest rule signal wins.
//  3. Amount floor raises the score only: >$50k → 0.05, >$20k → 0.03.
//  4. Label: Fraud if any triggered rule contributes more than the cutoff OR
//     the raw probability meets the threshold (inclusive). The floor never
//     leaks into the label.
//  5. Alert type: HYBRID when both sources contributed, RULE when only rules
//     triggered, ML otherwise.
//  6. Severity from the final score.
func (f *Fuser) Fuse(tx *domain.Transaction, probability, threshold float64, eval *domain.RuleEvaluation) *domain.Decision {
	adjusted := clamp01(probability + eval.RiskDecrease)

	final := adjusted
	if eval.RiskIncrease > final {
		final = eval.RiskIncrease
	}

	if floor := f.floorFor(tx.Amount); final < floor {
		final = floor
	}

	label := domain.LabelLegitimate
	if f.ruleForcesFraud(eval) || probability >= threshold {
		label = domain.LabelFraud
	}

	return &domain.Decision{
		TransactionID:  tx.ID,
		CustomerID:     tx.CustomerID,
		Label:          label,
		RiskScore:      final,
		Severity:       domain.SeverityFor(final),
		AlertType:      alertType(len(eval.Triggered) > 0),
		EstimatorScore: probability,
		Threshold:      threshold,
		RuleRiskScore:  eval.RiskScore,
		TriggeredRules: eval.Triggered,
		Reasons:        eval.Reasons(),
		Timestamp:      tx.Timestamp,
		Metadata: domain.DecisionMetadata{
			RuleFailures:  eval.Failures,
			EngineVersion: EngineVersion,
		},
	}
}

// floorFor returns the minimum risk score for an amount. Very large
// transactions never present as zero-risk even when every other signal is
// favorable.
func (f *Fuser) floorFor(amount float64) float64 {
	switch {
	case amount > f.criticalAmount:
		return f.cfg.CriticalAmountFloor
	case amount > f.highRiskAmount:
		return f.cfg.HighAmountFloor
	default:
		return 0
	}
}

// ruleForcesFraud reports whether any triggered rule contributes more than
// the fraud cutoff.
func (f *Fuser) ruleForcesFraud(eval *domain.RuleEvaluation) bool {
	for _, r := range eval.Triggered {
		if r.Contribution > f.cfg.FraudRuleCutoff {
			return true
		}
	}
	return false
}

// alertType classifies the signal sources. The estimator always contributes
// (an estimator failure aborts the decide call before fusion), so the only
// question is whether rules fired too.
func alertType(rulesTriggered bool) domain.AlertType {
	if rulesTriggered {
		return domain.AlertTypeHybrid
	}
	return domain.AlertTypeML
}

// FuseRulesOnly produces a decision without an estimator signal, used when
// no model is attached. The score is the aggregate rule score with no amount
// floor, and the label is Fraud when any rule triggered.
func (f *Fuser) FuseRulesOnly(tx *domain.Transaction, eval *domain.RuleEvaluation) *domain.Decision {
	final := eval.RiskScore

	label := domain.LabelLegitimate
	if len(eval.Triggered) > 0 {
		label = domain.LabelFraud
	}

	return &domain.Decision{
		TransactionID:  tx.ID,
		CustomerID:     tx.CustomerID,
		Label:          label,
		RiskScore:      final,
		Severity:       domain.SeverityFor(final),
		AlertType:      domain.AlertTypeRule,
		RuleRiskScore:  eval.RiskScore,
		TriggeredRules: eval.Triggered,
		Reasons:        eval.Reasons(),
		Timestamp:      tx.Timestamp,
		Metadata: domain.DecisionMetadata{
			RuleFailures:  eval.Failures,
			EngineVersion: EngineVersion,
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
