// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidInput is returned for writes with missing required fields.
var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range schemasFor(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction together with its eventual fraud
// disposition, feeding the customer-history lookups.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction, isFraud bool) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, customer_id, amount, channel, kyc_verified,
			account_age_days, timestamp, is_fraud, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CustomerID, tx.Amount, string(tx.Channel), boolToInt(tx.KYCVerified),
		tx.AccountAgeDays, tx.Timestamp, boolToInt(isFraud), string(metadata), time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, customer_id, amount, channel, kyc_verified,
		       account_age_days, timestamp, metadata
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var channel, metadata string
	var kyc int

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.CustomerID, &tx.Amount, &channel, &kyc,
		&tx.AccountAgeDays, &tx.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Channel = domain.Channel(channel)
	tx.KYCVerified = kyc == 1
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// AverageLegitimateAmount returns the customer's mean amount over historical
// non-fraud transactions. Returns domain.ErrNoHistory when the customer has
// no legitimate history.
func (r *SQLRepository) AverageLegitimateAmount(ctx context.Context, customerID string) (float64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	query := `
		SELECT AVG(amount)
		FROM transactions
		WHERE customer_id = ? AND is_fraud = 0
	`

	var avg sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(&avg); err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, domain.ErrNoHistory
	}
	return avg.Float64, nil
}

// TransactionAndFraudCounts returns the customer's total and fraudulent
// historical transaction counts. Returns domain.ErrNoHistory when the
// customer has no transactions at all.
func (r *SQLRepository) TransactionAndFraudCounts(ctx context.Context, customerID string) (int64, int64, error) {
	if customerID == "" {
		return 0, 0, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(is_fraud), 0)
		FROM transactions
		WHERE customer_id = ?
	`

	var total, fraud int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(&total, &fraud); err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, domain.ErrNoHistory
	}
	return total, fraud, nil
}

// InsertAlert stores a new alert and returns its database-assigned ID.
// ID assignment rides the table's sequence so it never races.
func (r *SQLRepository) InsertAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	if alert == nil || alert.CustomerID == "" {
		return 0, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	rules, _ := json.Marshal(alert.TriggeredRules)
	metadata, _ := json.Marshal(alert.Metadata)

	query := `
		INSERT INTO fraud_alerts (
			transaction_id, customer_id, alert_type, severity, status,
			risk_score, triggered_rules, alert_message, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []any{
		alert.TransactionID, alert.CustomerID, string(alert.Type), string(alert.Severity),
		string(alert.Status), alert.RiskScore, string(rules), alert.Message,
		string(metadata), alert.CreatedAt, alert.UpdatedAt,
	}

	if r.driver == "postgres" {
		var id int64
		err := r.db.QueryRowContext(ctx, r.rebind(query+" RETURNING alert_id"), args...).Scan(&id)
		if err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, id int64) (*domain.Alert, error) {
	query := `
		SELECT alert_id, transaction_id, customer_id, alert_type, severity,
		       status, risk_score, triggered_rules, alert_message, metadata,
		       created_at, updated_at, resolved_at, resolved_by, resolution_notes
		FROM fraud_alerts
		WHERE alert_id = ?
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return alert, err
}

// UpdateAlertStatus applies a lifecycle transition. The WHERE clause guards
// against rows already in a terminal state so concurrent resolutions cannot
// re-open an alert; a zero-row update reports ErrNotFound.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, id int64, status domain.AlertStatus, notes, resolvedBy string) error {
	now := time.Now().UTC()

	var query string
	var args []any

	if status.Terminal() {
		query = `
			UPDATE fraud_alerts
			SET status = ?, updated_at = ?, resolved_at = ?,
			    resolution_notes = ?, resolved_by = ?
			WHERE alert_id = ?
			  AND status NOT IN ('RESOLVED', 'FALSE_POSITIVE', 'CONFIRMED')
		`
		args = []any{string(status), now, now, notes, resolvedBy, id}
	} else {
		query = `
			UPDATE fraud_alerts
			SET status = ?, updated_at = ?
			WHERE alert_id = ?
			  AND status NOT IN ('RESOLVED', 'FALSE_POSITIVE', 'CONFIRMED')
		`
		args = []any{string(status), now, id}
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := `
		SELECT alert_id, transaction_id, customer_id, alert_type, severity,
		       status, risk_score, triggered_rules, alert_message, metadata,
		       created_at, updated_at, resolved_at, resolved_by, resolution_notes
		FROM fraud_alerts
		WHERE 1=1
	`
	var args []any

	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC, alert_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// AlertStats computes aggregate counts grouped by severity, status, and type
// plus the average risk score, over an optional time window.
func (r *SQLRepository) AlertStats(ctx context.Context, window domain.StatsWindow) (*domain.AlertStats, error) {
	where := " WHERE 1=1"
	var args []any

	if window.Start != nil {
		where += " AND created_at >= ?"
		args = append(args, *window.Start)
	}
	if window.End != nil {
		where += " AND created_at <= ?"
		args = append(args, *window.End)
	}

	stats := &domain.AlertStats{
		BySeverity: make(map[domain.Severity]int64),
		ByStatus:   make(map[domain.AlertStatus]int64),
		ByType:     make(map[domain.AlertType]int64),
	}

	var avg sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		r.rebind("SELECT COUNT(*), AVG(risk_score) FROM fraud_alerts"+where), args...,
	).Scan(&stats.Total, &avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgRiskScore = avg.Float64
	}

	collect := func(column string, assign func(key string, count int64)) error {
		rows, err := r.db.QueryContext(ctx,
			r.rebind("SELECT "+column+", COUNT(*) FROM fraud_alerts"+where+" GROUP BY "+column), args...,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				return err
			}
			assign(key, count)
		}
		return rows.Err()
	}

	if err := collect("severity", func(k string, c int64) { stats.BySeverity[domain.Severity(k)] = c }); err != nil {
		return nil, err
	}
	if err := collect("status", func(k string, c int64) { stats.ByStatus[domain.AlertStatus(k)] = c }); err != nil {
		return nil, err
	}
	if err := collect("alert_type", func(k string, c int64) { stats.ByType[domain.AlertType(k)] = c }); err != nil {
		return nil, err
	}

	return stats, nil
}

// SavePrediction appends a decision to the prediction log.
func (r *SQLRepository) SavePrediction(ctx context.Context, rec *domain.PredictionRecord) error {
	if rec == nil || rec.TransactionID == "" {
		return fmt.Errorf("%w: transactionID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO predictions (
			transaction_id, customer_id, label, risk_score,
			estimator_score, rule_risk_score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.TransactionID, rec.CustomerID, string(rec.Label),
		rec.RiskScore, rec.EstimatorScore, rec.RuleRiskScore, createdAt,
	)
	return err
}

// ListPredictions returns the most recent prediction log entries.
func (r *SQLRepository) ListPredictions(ctx context.Context, limit int) ([]*domain.PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, transaction_id, customer_id, label, risk_score,
		       estimator_score, rule_risk_score, created_at
		FROM predictions
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.PredictionRecord
	for rows.Next() {
		var rec domain.PredictionRecord
		var label string
		if err := rows.Scan(
			&rec.ID, &rec.TransactionID, &rec.CustomerID, &label,
			&rec.RiskScore, &rec.EstimatorScore, &rec.RuleRiskScore, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Label = domain.Label(label)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanAlert.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var alertType, severity, status string
	var rules, message, metadata, resolvedBy, notes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.TransactionID, &alert.CustomerID, &alertType, &severity,
		&status, &alert.RiskScore, &rules, &message, &metadata,
		&alert.CreatedAt, &alert.UpdatedAt, &resolvedAt, &resolvedBy, &notes,
	)
	if err != nil {
		return nil, err
	}

	alert.Type = domain.AlertType(alertType)
	alert.Severity = domain.Severity(severity)
	alert.Status = domain.AlertStatus(status)
	alert.Message = message.String
	alert.ResolvedBy = resolvedBy.String
	alert.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	if rules.Valid && rules.String != "" {
		json.Unmarshal([]byte(rules.String), &alert.TriggeredRules)
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &alert.Metadata)
	}

	return &alert, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
