// Package history provides cached customer-history lookups for the rule
// engine. Lookups read through a short-TTL cache so hot customers do not
// hammer the database on every decision.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultTTL = 30 * time.Second

type averageEntry struct {
	Average float64 `json:"average"`
	Empty   bool    `json:"empty"`
}

type countsEntry struct {
	Total int64 `json:"total"`
	Fraud int64 `json:"fraud"`
	Empty bool  `json:"empty"`
}

// Service implements domain.CustomerHistory with a read-through cache in
// front of the repository. A nil cache degrades to direct repository reads.
type Service struct {
	repo  domain.CustomerHistory
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a new history service.
func NewService(repo domain.CustomerHistory, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// AverageLegitimateAmount returns the customer's mean legitimate transaction
// amount. The no-history result is cached too, so brand-new customers do not
// bypass the cache.
func (s *Service) AverageLegitimateAmount(ctx context.Context, customerID string) (float64, error) {
	key := "history:avg:" + customerID

	var entry averageEntry
	if s.cacheGet(ctx, key, &entry) {
		if entry.Empty {
			return 0, domain.ErrNoHistory
		}
		return entry.Average, nil
	}

	avg, err := s.repo.AverageLegitimateAmount(ctx, customerID)
	switch {
	case err == nil:
		s.cacheSet(ctx, key, averageEntry{Average: avg})
		return avg, nil
	case errors.Is(err, domain.ErrNoHistory):
		s.cacheSet(ctx, key, averageEntry{Empty: true})
		return 0, domain.ErrNoHistory
	default:
		return 0, err
	}
}

// TransactionAndFraudCounts returns the customer's total and fraudulent
// historical transaction counts.
func (s *Service) TransactionAndFraudCounts(ctx context.Context, customerID string) (int64, int64, error) {
	key := "history:counts:" + customerID

	var entry countsEntry
	if s.cacheGet(ctx, key, &entry) {
		if entry.Empty {
			return 0, 0, domain.ErrNoHistory
		}
		return entry.Total, entry.Fraud, nil
	}

	total, fraud, err := s.repo.TransactionAndFraudCounts(ctx, customerID)
	switch {
	case err == nil:
		s.cacheSet(ctx, key, countsEntry{Total: total, Fraud: fraud})
		return total, fraud, nil
	case errors.Is(err, domain.ErrNoHistory):
		s.cacheSet(ctx, key, countsEntry{Empty: true})
		return 0, 0, domain.ErrNoHistory
	default:
		return 0, 0, err
	}
}

// Invalidate drops the cached entries for a customer. Called after a new
// transaction for the customer is persisted.
func (s *Service) Invalidate(ctx context.Context, customerID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, "history:avg:"+customerID)
	_ = s.cache.Delete(ctx, "history:counts:"+customerID)
}

// cacheGet reports whether the key was present and decoded into v.
// Cache failures are logged and treated as misses.
func (s *Service) cacheGet(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("history cache read failed", "key", key, "error", err)
		return false
	}
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("history cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		slog.Warn("history cache write failed", "key", key, "error", err)
	}
}
