package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CELRuleConfig defines an operator-supplied rule as a CEL expression over
// transaction fields. Custom rules are registered into the catalog before
// first use, alongside the built-ins.
//
// The expression may return:
//   - bool: the rule triggers when true, contributing Contribution
//   - double: the rule triggers when nonzero, the value (clamped to [-1,1])
//     is the contribution and Contribution is ignored
type CELRuleConfig struct {
	Name         string  `yaml:"name" json:"name"`
	Priority     int     `yaml:"priority" json:"priority"`
	Reason       string  `yaml:"reason" json:"reason"`
	Expression   string  `yaml:"expression" json:"expression"`
	Contribution float64 `yaml:"contribution" json:"contribution"`
}

// celEnv builds the evaluation environment exposing transaction fields.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("kyc_verified", cel.BoolType),
		cel.Variable("account_age_days", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("customer_id", cel.StringType),
	)
}

// NewCELRule compiles a CEL expression into a catalog rule.
func NewCELRule(cfg CELRuleConfig) (Rule, error) {
	if cfg.Name == "" {
		return Rule{}, fmt.Errorf("cel rule: name is required")
	}
	if cfg.Contribution < -1 || cfg.Contribution > 1 {
		return Rule{}, fmt.Errorf("cel rule %s: contribution must be in [-1,1]", cfg.Name)
	}

	env, err := celEnv()
	if err != nil {
		return Rule{}, fmt.Errorf("cel rule %s: failed to create environment: %w", cfg.Name, err)
	}

	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("cel rule %s: failed to compile: %w", cfg.Name, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType {
		return Rule{}, fmt.Errorf("cel rule %s: expression must return bool or double, got %s", cfg.Name, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("cel rule %s: failed to create program: %w", cfg.Name, err)
	}

	reason := cfg.Reason
	if reason == "" {
		reason = cfg.Name
	}

	return Rule{
		Name:     cfg.Name,
		Priority: cfg.Priority,
		Reason:   reason,
		Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
			out, _, err := program.Eval(map[string]any{
				"amount":           tx.Amount,
				"channel":          string(tx.Channel),
				"kyc_verified":     tx.KYCVerified,
				"account_age_days": tx.AccountAgeDays,
				"hour":             int64(tx.Hour()),
				"weekday":          int64(tx.Weekday()),
				"customer_id":      tx.CustomerID,
			})
			if err != nil {
				return false, 0, fmt.Errorf("cel evaluation: %w", err)
			}
			return celOutcome(out, cfg.Contribution)
		},
	}, nil
}

// CustomRules compiles the configured CEL rules into catalog rules.
func CustomRules(cfgs []domain.CustomRuleConfig) ([]Rule, error) {
	compiled := make([]Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		r, err := NewCELRule(CELRuleConfig{
			Name:         cfg.Name,
			Priority:     cfg.Priority,
			Reason:       cfg.Reason,
			Expression:   cfg.Expression,
			Contribution: cfg.Contribution,
		})
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, r)
	}
	return compiled, nil
}

// celOutcome converts a CEL result into (triggered, contribution).
func celOutcome(val ref.Val, fixed float64) (bool, float64, error) {
	switch v := val.(type) {
	case types.Bool:
		if bool(v) {
			return true, fixed, nil
		}
		return false, 0, nil
	case types.Double:
		c := float64(v)
		if c == 0 {
			return false, 0, nil
		}
		if c > 1 {
			c = 1
		}
		if c < -1 {
			c = -1
		}
		return true, c, nil
	default:
		return false, 0, fmt.Errorf("unexpected cel result type %T", val)
	}
}
