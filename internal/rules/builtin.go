package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Contribution constants for the built-in catalog. Thresholds live in
// domain.RuleThresholds; contributions are part of the rule definitions.
const (
	contribHighAmountUnverified     = 0.70
	contribElevatedAmountUnverified = 0.55
	contribNewAccountBase           = 0.75
	contribNewAccountCap            = 0.95
	contribVsAverageBase            = 0.70
	contribVsAverageCap             = 0.95
	contribInternationalUnverified  = 0.85
	contribOddHour                  = 0.60
	contribLowAmountDiscount        = -0.30
	contribEstablishedDiscount      = -0.10
	contribCleanHistoryDiscount     = -0.15
)

// Builtin returns the canonical rule catalog. Thresholds come from t so
// deployments can tune them without touching rule code.
func Builtin(t domain.RuleThresholds) []Rule {
	return []Rule{
		{
			Name:     "high_amount_unverified_kyc",
			Priority: 6,
			Reason:   "High transaction amount without KYC verification",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if !tx.KYCVerified && tx.Amount > t.CriticalAmount {
					return true, contribHighAmountUnverified, nil
				}
				return false, 0, nil
			},
		},
		{
			Name:     "elevated_amount_unverified_kyc",
			Priority: 6,
			Reason:   "Elevated transaction amount without KYC verification",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if !tx.KYCVerified && tx.Amount > t.HighRiskAmount && tx.Amount <= t.CriticalAmount {
					return true, contribElevatedAmountUnverified, nil
				}
				return false, 0, nil
			},
		},
		{
			Name:     "new_account_high_amount",
			Priority: 5,
			Reason:   "New account with high transaction amount",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if tx.AccountAgeDays >= t.NewAccountDays || tx.Amount <= t.HighRiskAmount {
					return false, 0, nil
				}
				// Contribution grows linearly with the amount above the
				// threshold, capped at 0.95.
				factor := (tx.Amount - t.HighRiskAmount) / 100000
				if factor > contribNewAccountCap-contribNewAccountBase {
					factor = contribNewAccountCap - contribNewAccountBase
				}
				return true, contribNewAccountBase + factor, nil
			},
		},
		{
			Name:     "high_amount_vs_average",
			Priority: 4,
			Reason:   "High amount compared to customer average",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if deps.History == nil {
					return false, 0, nil
				}
				avg, err := deps.History.AverageLegitimateAmount(ctx, tx.CustomerID)
				if errors.Is(err, domain.ErrNoHistory) {
					return false, 0, nil
				}
				if err != nil {
					return false, 0, fmt.Errorf("average amount lookup: %w", err)
				}
				if avg <= 0 || tx.Amount <= t.AverageMultiplier*avg {
					return false, 0, nil
				}
				// Scales with the ratio above the multiplier, capped at 0.95.
				ratio := tx.Amount / avg
				contribution := contribVsAverageBase + (ratio-t.AverageMultiplier)*0.05
				if contribution > contribVsAverageCap {
					contribution = contribVsAverageCap
				}
				return true, contribution, nil
			},
		},
		{
			Name:     "international_unverified",
			Priority: 3,
			Reason:   "International transaction without KYC verification",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if tx.Channel == domain.ChannelInternational && !tx.KYCVerified {
					return true, contribInternationalUnverified, nil
				}
				return false, 0, nil
			},
		},
		{
			Name:     "odd_hour_transaction",
			Priority: 2,
			Reason:   "Transaction during suspicious hours (2-4 AM)",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				// Uses the transaction's own timestamp, not evaluation time.
				hour := tx.Hour()
				if hour >= t.SuspiciousHourStart && hour <= t.SuspiciousHourEnd {
					return true, contribOddHour, nil
				}
				return false, 0, nil
			},
		},
		{
			Name:     "low_amount_trust",
			Priority: 1,
			Reason:   "Low transaction amount (reasonable spending)",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if tx.Amount > 0 && tx.Amount < t.LowAmount {
					return true, contribLowAmountDiscount, nil
				}
				return false, 0, nil
			},
		},
		{
			Name:     "established_customer_discount",
			Priority: 1,
			Reason:   "Established verified customer (trust discount)",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if tx.KYCVerified && tx.AccountAgeDays >= t.EstablishedAgeDays {
					return true, contribEstablishedDiscount, nil
				}
				return false, 0, nil
			},
		},
		{
			Name:     "good_customer_history",
			Priority: 1,
			Reason:   "Customer has clean transaction history",
			Eval: func(ctx context.Context, tx *domain.Transaction, deps Deps) (bool, float64, error) {
				if deps.History == nil {
					return false, 0, nil
				}
				total, fraud, err := deps.History.TransactionAndFraudCounts(ctx, tx.CustomerID)
				if errors.Is(err, domain.ErrNoHistory) {
					return false, 0, nil
				}
				if err != nil {
					return false, 0, fmt.Errorf("history counts lookup: %w", err)
				}
				if total >= t.CleanHistoryMinTxns && fraud == 0 {
					return true, contribCleanHistoryDiscount, nil
				}
				return false, 0, nil
			},
		},
	}
}
