package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestNewCELRuleBoolExpression(t *testing.T) {
	rule, err := NewCELRule(CELRuleConfig{
		Name:         "large-web-transfer",
		Priority:     3,
		Reason:       "Large web transfer",
		Expression:   `amount > 1000.0 && channel == "Web"`,
		Contribution: 0.4,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	ctx := context.Background()

	triggered, contribution, err := rule.Eval(ctx, testTx(2000, true, 100), Deps{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if !triggered || !approxEqual(contribution, 0.4) {
		t.Errorf("expected (true, 0.4), got (%v, %.4f)", triggered, contribution)
	}

	triggered, contribution, err = rule.Eval(ctx, testTx(500, true, 100), Deps{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if triggered || contribution != 0 {
		t.Errorf("expected (false, 0), got (%v, %.4f)", triggered, contribution)
	}
}

func TestNewCELRuleDoubleExpression(t *testing.T) {
	rule, err := NewCELRule(CELRuleConfig{
		Name:       "scaled-amount",
		Expression: `amount > 1000.0 ? 0.8 : 0.0`,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	ctx := context.Background()

	triggered, contribution, err := rule.Eval(ctx, testTx(2000, true, 100), Deps{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if !triggered || !approxEqual(contribution, 0.8) {
		t.Errorf("expected (true, 0.8), got (%v, %.4f)", triggered, contribution)
	}

	// A zero result means not triggered.
	triggered, _, err = rule.Eval(ctx, testTx(500, true, 100), Deps{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if triggered {
		t.Error("expected zero double result to mean not triggered")
	}
}

func TestNewCELRuleClampsDoubleResult(t *testing.T) {
	rule, err := NewCELRule(CELRuleConfig{
		Name:       "runaway",
		Expression: `amount / 1000.0`,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	triggered, contribution, err := rule.Eval(context.Background(), testTx(5000, true, 100), Deps{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if !triggered || !approxEqual(contribution, 1.0) {
		t.Errorf("expected contribution clamped to 1.0, got (%v, %.4f)", triggered, contribution)
	}
}

func TestNewCELRuleTimeFields(t *testing.T) {
	rule, err := NewCELRule(CELRuleConfig{
		Name:         "night-owl",
		Expression:   `hour >= 2 && hour <= 4`,
		Contribution: 0.3,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	tx := testTx(100, true, 100)
	tx.Timestamp = time.Date(2025, 6, 15, 3, 0, 0, 0, time.UTC)

	triggered, _, err := rule.Eval(context.Background(), tx, Deps{})
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if !triggered {
		t.Error("expected 3 AM transaction to trigger")
	}
}

func TestNewCELRuleValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  CELRuleConfig
	}{
		{"MissingName", CELRuleConfig{Expression: "amount > 0.0"}},
		{"InvalidExpression", CELRuleConfig{Name: "broken", Expression: "this is not CEL !!!"}},
		{"WrongResultType", CELRuleConfig{Name: "stringy", Expression: "customer_id"}},
		{"ContributionOutOfRange", CELRuleConfig{Name: "hot", Expression: "amount > 0.0", Contribution: 1.5}},
		{"UnknownVariable", CELRuleConfig{Name: "unknown", Expression: "balance > 100.0"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCELRule(tc.cfg); err == nil {
				t.Error("expected compile error")
			}
		})
	}
}

func TestCustomRules(t *testing.T) {
	cfgs := []domain.CustomRuleConfig{
		{Name: "rule-a", Priority: 2, Expression: "amount > 100.0", Contribution: 0.2},
		{Name: "rule-b", Priority: 1, Expression: `channel == "ATM"`, Contribution: 0.1},
	}

	compiled, err := CustomRules(cfgs)
	if err != nil {
		t.Fatalf("CustomRules failed: %v", err)
	}
	if len(compiled) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(compiled))
	}
	if compiled[0].Name != "rule-a" || compiled[1].Name != "rule-b" {
		t.Errorf("unexpected rule names: %s, %s", compiled[0].Name, compiled[1].Name)
	}

	cfgs = append(cfgs, domain.CustomRuleConfig{Name: "bad", Expression: "!!!"})
	if _, err := CustomRules(cfgs); err == nil {
		t.Error("expected error for an invalid expression in the list")
	}
}

func TestCustomRuleInEvaluator(t *testing.T) {
	custom, err := NewCELRule(CELRuleConfig{
		Name:         "atm-cash-out",
		Priority:     4,
		Reason:       "Large ATM withdrawal",
		Expression:   `channel == "ATM" && amount > 500.0`,
		Contribution: 0.65,
	})
	if err != nil {
		t.Fatalf("failed to compile rule: %v", err)
	}

	ev := newTestEvaluator(t, custom)

	tx := testTx(900, true, 100)
	tx.Channel = domain.ChannelATM

	eval := ev.Evaluate(context.Background(), tx)
	if len(eval.Triggered) != 1 || eval.Triggered[0].Name != "atm-cash-out" {
		t.Fatalf("expected the custom rule to trigger, got %+v", eval.Triggered)
	}
	if !approxEqual(eval.RiskScore, 0.65) {
		t.Errorf("expected RiskScore 0.65, got %.4f", eval.RiskScore)
	}
}
