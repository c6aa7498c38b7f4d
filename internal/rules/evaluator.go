package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Evaluator runs the catalog against one transaction and aggregates the
// contributions. Evaluation of a rule is isolated: a rule that errors or
// times out is logged and treated as not triggered, and the remaining rules
// still run.
type Evaluator struct {
	catalog       *Catalog
	deps          Deps
	lookupTimeout time.Duration
	maxWorkers    int
}

// NewEvaluator creates an evaluator over the catalog. history may be nil for
// catalogs without history-dependent rules. lookupTimeout bounds each rule's
// evaluation; on expiry the rule fails closed.
func NewEvaluator(catalog *Catalog, history domain.CustomerHistory, lookupTimeout time.Duration) *Evaluator {
	if lookupTimeout <= 0 {
		lookupTimeout = 2 * time.Second
	}
	return &Evaluator{
		catalog:       catalog,
		deps:          Deps{History: history},
		lookupTimeout: lookupTimeout,
		maxWorkers:    8,
	}
}

type ruleOutcome struct {
	triggered    bool
	contribution float64
	failed       bool
}

// Evaluate runs every rule independently and aggregates:
//
//	RiskIncrease = max(all positive contributions, default 0)
//	RiskDecrease = sum(all negative contributions)   (always <= 0)
//	RiskScore    = max(0, RiskIncrease + RiskDecrease)
//
// The single worst positive signal dominates so redundant positive rules do
// not inflate the score, while trust discounts accumulate and may offset it.
// Triggered rules are reported by descending priority, registration order on
// ties.
func (e *Evaluator) Evaluate(ctx context.Context, tx *domain.Transaction) *domain.RuleEvaluation {
	rules := e.catalog.Rules()
	outcomes := make([]ruleOutcome, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i := range rules {
		wg.Add(1)
		go func(idx int, r Rule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[idx] = e.evaluateRule(ctx, r, tx)
		}(i, rules[i])
	}
	wg.Wait()

	eval := &domain.RuleEvaluation{}
	for i, out := range outcomes {
		if out.failed {
			eval.Failures++
			continue
		}
		if !out.triggered {
			continue
		}
		eval.Triggered = append(eval.Triggered, domain.TriggeredRule{
			Name:         rules[i].Name,
			Reason:       rules[i].Reason,
			Priority:     rules[i].Priority,
			Contribution: out.contribution,
		})
		if out.contribution > 0 && out.contribution > eval.RiskIncrease {
			eval.RiskIncrease = out.contribution
		}
		if out.contribution < 0 {
			eval.RiskDecrease += out.contribution
		}
	}

	eval.RiskScore = eval.RiskIncrease + eval.RiskDecrease
	if eval.RiskScore < 0 {
		eval.RiskScore = 0
	}

	// Triggered slice is built in registration order; stable sort keeps that
	// order within equal priorities.
	sort.SliceStable(eval.Triggered, func(a, b int) bool {
		return eval.Triggered[a].Priority > eval.Triggered[b].Priority
	})

	return eval
}

// evaluateRule runs one rule under the lookup timeout. Failures never abort
// the surrounding evaluation.
func (e *Evaluator) evaluateRule(ctx context.Context, r Rule, tx *domain.Transaction) ruleOutcome {
	ruleCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	triggered, contribution, err := r.Eval(ruleCtx, tx, e.deps)
	if err != nil {
		slog.Error("rule evaluation failed",
			"rule", r.Name,
			"transaction_id", tx.ID,
			"error", err,
		)
		metrics.RuleFailure(r.Name)
		return ruleOutcome{failed: true}
	}
	return ruleOutcome{triggered: triggered, contribution: contribution}
}

// RulesCount returns the number of rules in the catalog.
func (e *Evaluator) RulesCount() int {
	return e.catalog.Len()
}
