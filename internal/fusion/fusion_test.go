package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestFuser() *Fuser {
	return New(domain.DefaultFusionConfig(), domain.DefaultRuleThresholds())
}

func fusionTx(amount float64) *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-001",
		CustomerID: "cust-001",
		Amount:     amount,
		Channel:    domain.ChannelWeb,
		Timestamp:  time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC),
	}
}

func evalWith(rules ...domain.TriggeredRule) *domain.RuleEvaluation {
	eval := &domain.RuleEvaluation{Triggered: rules}
	for _, r := range rules {
		if r.Contribution > 0 && r.Contribution > eval.RiskIncrease {
			eval.RiskIncrease = r.Contribution
		}
		if r.Contribution < 0 {
			eval.RiskDecrease += r.Contribution
		}
	}
	eval.RiskScore = eval.RiskIncrease + eval.RiskDecrease
	if eval.RiskScore < 0 {
		eval.RiskScore = 0
	}
	return eval
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestFuseModelOnly(t *testing.T) {
	f := newTestFuser()

	d := f.Fuse(fusionTx(500), 0.1, 0.5, evalWith())

	if d.Label != domain.LabelLegitimate {
		t.Errorf("expected Legitimate, got %s", d.Label)
	}
	if !near(d.RiskScore, 0.1) {
		t.Errorf("expected score 0.1, got %.4f", d.RiskScore)
	}
	if d.AlertType != domain.AlertTypeML {
		t.Errorf("expected ML alert type, got %s", d.AlertType)
	}
	if d.Severity != domain.SeverityLow {
		t.Errorf("expected LOW severity, got %s", d.Severity)
	}
	if d.Metadata.EngineVersion != EngineVersion {
		t.Errorf("expected engine version %s, got %s", EngineVersion, d.Metadata.EngineVersion)
	}
}

func TestFuseThresholdInclusive(t *testing.T) {
	f := newTestFuser()

	d := f.Fuse(fusionTx(500), 0.5, 0.5, evalWith())
	if d.Label != domain.LabelFraud {
		t.Errorf("probability equal to the threshold must label Fraud, got %s", d.Label)
	}

	d = f.Fuse(fusionTx(500), 0.4999, 0.5, evalWith())
	if d.Label != domain.LabelLegitimate {
		t.Errorf("probability below the threshold must stay Legitimate, got %s", d.Label)
	}
}

func TestFuseRuleForcesFraud(t *testing.T) {
	f := newTestFuser()

	eval := evalWith(domain.TriggeredRule{
		Name: "strong", Reason: "strong signal", Priority: 5, Contribution: 0.6,
	})

	d := f.Fuse(fusionTx(500), 0.1, 0.5, eval)

	if d.Label != domain.LabelFraud {
		t.Errorf("a rule above the cutoff must force Fraud, got %s", d.Label)
	}
	if !near(d.RiskScore, 0.6) {
		t.Errorf("expected score 0.6 (rule dominates), got %.4f", d.RiskScore)
	}
	if d.AlertType != domain.AlertTypeHybrid {
		t.Errorf("expected HYBRID alert type, got %s", d.AlertType)
	}
	if d.Severity != domain.SeverityMedium {
		t.Errorf("expected MEDIUM severity, got %s", d.Severity)
	}
}

func TestFuseRuleAtCutoffDoesNotForce(t *testing.T) {
	f := newTestFuser()

	eval := evalWith(domain.TriggeredRule{
		Name: "borderline", Reason: "borderline", Priority: 5, Contribution: 0.5,
	})

	d := f.Fuse(fusionTx(500), 0.1, 0.5, eval)

	// Cutoff is strict: contribution == cutoff does not force.
	if d.Label != domain.LabelLegitimate {
		t.Errorf("contribution equal to the cutoff must not force Fraud, got %s", d.Label)
	}
	if !near(d.RiskScore, 0.5) {
		t.Errorf("expected score 0.5, got %.4f", d.RiskScore)
	}
}

func TestFuseDiscountsReduceModelScore(t *testing.T) {
	f := newTestFuser()

	eval := evalWith(
		domain.TriggeredRule{Name: "trust-a", Reason: "trust a", Priority: 1, Contribution: -0.2},
		domain.TriggeredRule{Name: "trust-b", Reason: "trust b", Priority: 1, Contribution: -0.1},
	)

	d := f.Fuse(fusionTx(500), 0.6, 0.7, eval)

	if !near(d.RiskScore, 0.3) {
		t.Errorf("expected discounted score 0.3, got %.4f", d.RiskScore)
	}
	if d.Label != domain.LabelLegitimate {
		t.Errorf("expected Legitimate, got %s", d.Label)
	}
	if d.AlertType != domain.AlertTypeHybrid {
		t.Errorf("triggered discounts still make the type HYBRID, got %s", d.AlertType)
	}
}

func TestFuseDiscountsNeverOverrideModelLabel(t *testing.T) {
	f := newTestFuser()

	eval := evalWith(
		domain.TriggeredRule{Name: "trust", Reason: "trust", Priority: 1, Contribution: -0.3},
	)

	// Raw probability meets the threshold; the discount lowers the score but
	// the label stays Fraud.
	d := f.Fuse(fusionTx(500), 0.75, 0.7, eval)

	if d.Label != domain.LabelFraud {
		t.Errorf("the raw threshold decision must survive discounts, got %s", d.Label)
	}
	if !near(d.RiskScore, 0.45) {
		t.Errorf("expected score 0.45, got %.4f", d.RiskScore)
	}
}

func TestFuseDiscountClampsAtZero(t *testing.T) {
	f := newTestFuser()

	eval := evalWith(
		domain.TriggeredRule{Name: "trust", Reason: "trust", Priority: 1, Contribution: -0.5},
	)

	d := f.Fuse(fusionTx(500), 0.1, 0.5, eval)

	if d.RiskScore != 0 {
		t.Errorf("expected score clamped to 0, got %.4f", d.RiskScore)
	}
}

func TestFuseAmountFloors(t *testing.T) {
	f := newTestFuser()

	cases := []struct {
		name   string
		amount float64
		floor  float64
	}{
		{"CriticalAmount", 60000, 0.05},
		{"HighAmount", 30000, 0.03},
		{"AtCriticalBoundary", 50000, 0.03},
		{"AtHighBoundary", 20000, 0},
		{"SmallAmount", 500, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := f.Fuse(fusionTx(tc.amount), 0, 0.5, evalWith())

			if !near(d.RiskScore, tc.floor) {
				t.Errorf("expected floored score %.2f, got %.4f", tc.floor, d.RiskScore)
			}
			if d.Label != domain.LabelLegitimate {
				t.Errorf("the floor must never flip the label, got %s", d.Label)
			}
		})
	}
}

func TestFuseFloorDoesNotLowerScore(t *testing.T) {
	f := newTestFuser()

	d := f.Fuse(fusionTx(60000), 0.4, 0.5, evalWith())

	if !near(d.RiskScore, 0.4) {
		t.Errorf("floor must be a minimum only, got %.4f", d.RiskScore)
	}
}

func TestFuseScoreAlwaysInRange(t *testing.T) {
	f := newTestFuser()

	probs := []float64{0, 0.25, 0.5, 0.99, 1}
	evals := []*domain.RuleEvaluation{
		evalWith(),
		evalWith(domain.TriggeredRule{Name: "r", Reason: "r", Contribution: 0.95}),
		evalWith(domain.TriggeredRule{Name: "d", Reason: "d", Contribution: -0.45}),
	}

	for _, p := range probs {
		for _, eval := range evals {
			d := f.Fuse(fusionTx(60000), p, 0.5, eval)
			if d.RiskScore < 0 || d.RiskScore > 1 {
				t.Errorf("score out of range: %.4f (prob %.2f)", d.RiskScore, p)
			}
		}
	}
}

func TestFuseDeterminism(t *testing.T) {
	f := newTestFuser()
	eval := evalWith(domain.TriggeredRule{Name: "r", Reason: "r", Priority: 2, Contribution: 0.55})

	first := f.Fuse(fusionTx(30000), 0.3, 0.5, eval)
	second := f.Fuse(fusionTx(30000), 0.3, 0.5, eval)

	if first.Label != second.Label || first.RiskScore != second.RiskScore ||
		first.Severity != second.Severity || first.AlertType != second.AlertType {
		t.Errorf("fusion is not deterministic: %+v vs %+v", first, second)
	}
}

func TestFuseRulesOnly(t *testing.T) {
	f := newTestFuser()

	t.Run("AnyTriggerLabelsFraud", func(t *testing.T) {
		eval := evalWith(domain.TriggeredRule{Name: "weak", Reason: "weak", Contribution: 0.3})

		d := f.FuseRulesOnly(fusionTx(500), eval)

		if d.Label != domain.LabelFraud {
			t.Errorf("expected Fraud for any triggered rule, got %s", d.Label)
		}
		if d.AlertType != domain.AlertTypeRule {
			t.Errorf("expected RULE alert type, got %s", d.AlertType)
		}
		if !near(d.RiskScore, 0.3) {
			t.Errorf("expected score 0.3, got %.4f", d.RiskScore)
		}
	})

	t.Run("NoFloorWithoutEstimator", func(t *testing.T) {
		d := f.FuseRulesOnly(fusionTx(60000), evalWith())

		if d.RiskScore != 0 {
			t.Errorf("rule-only fusion has no amount floor, got %.4f", d.RiskScore)
		}
		if d.Label != domain.LabelLegitimate {
			t.Errorf("expected Legitimate without triggers, got %s", d.Label)
		}
	})
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		score float64
		want  domain.Severity
	}{
		{0.95, domain.SeverityCritical},
		{0.90, domain.SeverityCritical},
		{0.89, domain.SeverityHigh},
		{0.70, domain.SeverityHigh},
		{0.69, domain.SeverityMedium},
		{0.50, domain.SeverityMedium},
		{0.49, domain.SeverityLow},
		{0, domain.SeverityLow},
	}

	for _, tc := range cases {
		if got := domain.SeverityFor(tc.score); got != tc.want {
			t.Errorf("SeverityFor(%.2f): expected %s, got %s", tc.score, tc.want, got)
		}
	}
}
