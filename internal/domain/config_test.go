package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tier != TierCommunity {
		t.Errorf("expected community tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("expected channel bus, got %s", cfg.EventBus.Type)
	}
	if cfg.Rules.CriticalAmount != 50000 || cfg.Rules.HighRiskAmount != 20000 {
		t.Errorf("unexpected amount thresholds: %+v", cfg.Rules)
	}
	if cfg.Fusion.FraudRuleCutoff != 0.5 {
		t.Errorf("expected fraud rule cutoff 0.5, got %.2f", cfg.Fusion.FraudRuleCutoff)
	}
}

func TestProConfig(t *testing.T) {
	cfg := ProConfig()

	if cfg.Tier != TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.Type != "redis" || !cfg.Cache.EnableTwoPhase {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.EventBus.Type != "nats" {
		t.Errorf("expected nats bus, got %s", cfg.EventBus.Type)
	}
	if !cfg.Tracing.Enabled {
		t.Error("pro tier enables tracing")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("EmptyPathReturnsDefaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Tier != TierCommunity {
			t.Errorf("expected community defaults, got %s", cfg.Tier)
		}
	})

	t.Run("TierFromEnvironment", func(t *testing.T) {
		t.Setenv("KESTREL_TIER", "pro")
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Tier != TierPro {
			t.Errorf("expected pro tier from env, got %s", cfg.Tier)
		}
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kestrel.yaml")
		raw := `
server:
  port: 9999
rules:
  criticalAmount: 100000
fusion:
  fraudRuleCutoff: 0.6
customRules:
  - name: atm_night
    priority: 4
    reason: "ATM withdrawal at night"
    expression: "channel == 'ATM' && hour < 6"
    contribution: 0.4
`
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Server.Port != 9999 {
			t.Errorf("expected port override, got %d", cfg.Server.Port)
		}
		if cfg.Rules.CriticalAmount != 100000 {
			t.Errorf("expected amount override, got %.0f", cfg.Rules.CriticalAmount)
		}
		// Untouched keys keep their defaults.
		if cfg.Rules.HighRiskAmount != 20000 {
			t.Errorf("expected default high-risk amount, got %.0f", cfg.Rules.HighRiskAmount)
		}
		if cfg.Fusion.FraudRuleCutoff != 0.6 {
			t.Errorf("expected cutoff override, got %.2f", cfg.Fusion.FraudRuleCutoff)
		}
		if len(cfg.CustomRules) != 1 || cfg.CustomRules[0].Name != "atm_night" {
			t.Errorf("expected one custom rule, got %+v", cfg.CustomRules)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadConfig("/nonexistent/kestrel.yaml"); err == nil {
			t.Error("expected an error for a missing config file")
		}
	})

	t.Run("MalformedFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected an error for malformed YAML")
		}
	})
}

func TestTransactionValidate(t *testing.T) {
	valid := func() *Transaction {
		return &Transaction{
			ID:         "tx-1",
			CustomerID: "cust-1",
			Amount:     100,
			Channel:    ChannelWeb,
			Timestamp:  time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Transaction)
		field  string
	}{
		{"MissingID", func(tx *Transaction) { tx.ID = "" }, "id"},
		{"MissingCustomer", func(tx *Transaction) { tx.CustomerID = "" }, "customerId"},
		{"NegativeAmount", func(tx *Transaction) { tx.Amount = -1 }, "amount"},
		{"NegativeAccountAge", func(tx *Transaction) { tx.AccountAgeDays = -1 }, "accountAgeDays"},
		{"MissingTimestamp", func(tx *Transaction) { tx.Timestamp = time.Time{} }, "timestamp"},
		{"UnknownChannel", func(tx *Transaction) { tx.Channel = "carrier-pigeon" }, "channel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := valid()
			tc.mutate(tx)
			err := tx.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if vErr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, vErr.Field)
			}
		})
	}

	t.Run("ZeroAmountIsValid", func(t *testing.T) {
		tx := valid()
		tx.Amount = 0
		if err := tx.Validate(); err != nil {
			t.Errorf("zero amount rejected: %v", err)
		}
	})
}

func TestNormalizeChannel(t *testing.T) {
	cases := []struct {
		in   string
		want Channel
	}{
		{"WEB", ChannelWeb},
		{"online", ChannelWeb},
		{" Mobile ", ChannelMobile},
		{"app", ChannelMobile},
		{"terminal", ChannelPOS},
		{"cash", ChannelATM},
		{"overseas", ChannelInternational},
		{"", ChannelOther},
		{"carrier-pigeon", ChannelOther},
	}
	for _, tc := range cases {
		if got := NormalizeChannel(tc.in); got != tc.want {
			t.Errorf("NormalizeChannel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
