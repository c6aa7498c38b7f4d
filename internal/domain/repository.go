package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNoHistory is returned by CustomerHistory lookups when the customer has
// no usable history. History-dependent rules treat it as "not triggered"
// rather than a failure.
var ErrNoHistory = errors.New("no customer history")

// ErrNotFound is returned by lookups when the record does not exist.
var ErrNotFound = errors.New("record not found")

// AlertStore persists and queries fraud alerts. Alert IDs are assigned by the
// store and are monotonically increasing; ID assignment must not race across
// concurrent inserts.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *Alert) (int64, error)
	GetAlert(ctx context.Context, id int64) (*Alert, error)

	// UpdateAlertStatus applies a lifecycle transition. Terminal entry stamps
	// resolved_at/resolved_by/resolution_notes. The store rejects writes to
	// alerts already in a terminal state.
	UpdateAlertStatus(ctx context.Context, id int64, status AlertStatus, notes, resolvedBy string) error

	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	AlertStats(ctx context.Context, window StatsWindow) (*AlertStats, error)
}

// CustomerHistory provides the two historical reads specific rules depend on.
// Reads need no guarantee stronger than "recent"; a slightly stale value is
// acceptable. Implementations return ErrNoHistory when the customer has no
// usable history rather than defaulting to zero.
type CustomerHistory interface {
	// AverageLegitimateAmount is the customer's mean amount over
	// non-fraudulent historical transactions.
	AverageLegitimateAmount(ctx context.Context, customerID string) (float64, error)

	// TransactionAndFraudCounts returns the customer's total historical
	// transaction count and how many were fraudulent.
	TransactionAndFraudCounts(ctx context.Context, customerID string) (total, fraud int64, err error)
}

// Repository is the full persistence surface: transactions, the per-decision
// prediction log, alert storage, and the historical reads behind
// CustomerHistory.
type Repository interface {
	AlertStore
	CustomerHistory

	SaveTransaction(ctx context.Context, tx *Transaction, isFraud bool) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	SavePrediction(ctx context.Context, rec *PredictionRecord) error
	ListPredictions(ctx context.Context, limit int) ([]*PredictionRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
