// Package scoring orchestrates the decision pipeline: estimator probability,
// rule evaluation, fusion, and the surrounding persistence and eventing.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Service runs the decision pipeline for one transaction at a time.
//
// Failure policy: a validation or estimator failure aborts the call; rule
// failures degrade (handled inside the evaluator); persistence and publish
// failures are logged and do not affect the returned decision.
type Service struct {
	estimator domain.RiskEstimator
	evaluator *rules.Evaluator
	fuser     *fusion.Fuser
	repo      domain.Repository
	bus       domain.EventBus
	history   HistoryInvalidator
}

// HistoryInvalidator drops cached customer history after a new transaction
// for the customer is persisted.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, customerID string)
}

// New creates a scoring service. estimator may be nil, in which case
// decisions are rule-only. repo and bus may be nil in tests.
func New(estimator domain.RiskEstimator, evaluator *rules.Evaluator, fuser *fusion.Fuser, repo domain.Repository, bus domain.EventBus) *Service {
	return &Service{
		estimator: estimator,
		evaluator: evaluator,
		fuser:     fuser,
		repo:      repo,
		bus:       bus,
	}
}

// WithHistoryInvalidator wires customer-history cache invalidation into the
// persistence step.
func (s *Service) WithHistoryInvalidator(h HistoryInvalidator) *Service {
	s.history = h
	return s
}

// Decide runs the full pipeline and returns the fused decision.
func (s *Service) Decide(ctx context.Context, tx *domain.Transaction) (*domain.Decision, error) {
	start := time.Now()

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	var (
		probability float64
		threshold   float64
		estimatorMs int64
	)

	if s.estimator != nil {
		estStart := time.Now()
		p, err := s.estimator.Estimate(ctx, tx)
		if err != nil {
			metrics.EstimatorFailure()
			return nil, fmt.Errorf("estimate failed for transaction %s: %w", tx.ID, err)
		}
		probability = p
		threshold = s.estimator.Threshold()
		estimatorMs = time.Since(estStart).Milliseconds()
	}

	rulesStart := time.Now()
	eval := s.evaluator.Evaluate(ctx, tx)
	rulesMs := time.Since(rulesStart).Milliseconds()

	var decision *domain.Decision
	if s.estimator != nil {
		decision = s.fuser.Fuse(tx, probability, threshold, eval)
	} else {
		decision = s.fuser.FuseRulesOnly(tx, eval)
	}

	decision.Metadata.EstimatorMs = estimatorMs
	decision.Metadata.RulesMs = rulesMs
	decision.Metadata.TotalMs = time.Since(start).Milliseconds()
	decision.Metadata.RulesChecked = s.evaluator.RulesCount()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		decision.Metadata.TraceID = sc.TraceID().String()
	}

	s.persist(ctx, tx, decision)
	s.publish(ctx, decision)

	metrics.ObserveDecision(string(decision.Label), string(decision.Severity), time.Since(start))

	slog.Info("decision",
		"transaction_id", decision.TransactionID,
		"customer_id", decision.CustomerID,
		"label", decision.Label,
		"risk_score", decision.RiskScore,
		"severity", decision.Severity,
		"alert_type", decision.AlertType,
		"rules_triggered", len(decision.TriggeredRules),
		"total_ms", decision.Metadata.TotalMs,
	)

	return decision, nil
}

// persist stores the transaction and the prediction log entry, best effort.
func (s *Service) persist(ctx context.Context, tx *domain.Transaction, d *domain.Decision) {
	if s.repo == nil {
		return
	}

	if err := s.repo.SaveTransaction(ctx, tx, d.Label == domain.LabelFraud); err != nil {
		slog.Error("failed to save transaction",
			"transaction_id", tx.ID,
			"error", err,
		)
	} else if s.history != nil {
		s.history.Invalidate(ctx, tx.CustomerID)
	}

	rec := &domain.PredictionRecord{
		TransactionID:  d.TransactionID,
		CustomerID:     d.CustomerID,
		Label:          d.Label,
		RiskScore:      d.RiskScore,
		EstimatorScore: d.EstimatorScore,
		RuleRiskScore:  d.RuleRiskScore,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.SavePrediction(ctx, rec); err != nil {
		slog.Error("failed to save prediction",
			"transaction_id", d.TransactionID,
			"error", err,
		)
	}
}

// publish sends the decision to the decision topic, best effort.
func (s *Service) publish(ctx context.Context, d *domain.Decision) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"transaction_id", d.TransactionID,
			"error", err,
		)
	}
}
