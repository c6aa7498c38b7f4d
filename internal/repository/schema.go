package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL except where noted.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    amount REAL NOT NULL,
    channel TEXT NOT NULL,
    kyc_verified INTEGER NOT NULL DEFAULT 0,
    account_age_days REAL NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

// Alert IDs must be monotonically increasing and race-free, so assignment is
// delegated to the database sequence. The ID column syntax differs per
// driver.
const schemaAlertsSQLite = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    alert_id INTEGER PRIMARY KEY AUTOINCREMENT,
` + schemaAlertsBody

const schemaAlertsPostgres = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    alert_id BIGSERIAL PRIMARY KEY,
` + schemaAlertsBody

const schemaAlertsBody = `
    transaction_id TEXT,
    customer_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'NEW',
    risk_score REAL,
    triggered_rules TEXT,
    alert_message TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    resolved_by TEXT,
    resolution_notes TEXT,

    CHECK (alert_type IN ('ML', 'RULE', 'HYBRID')),
    CHECK (severity IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
    CHECK (status IN ('NEW', 'INVESTIGATING', 'RESOLVED', 'FALSE_POSITIVE', 'CONFIRMED'))
);

CREATE INDEX IF NOT EXISTS idx_alerts_customer ON fraud_alerts(customer_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON fraud_alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON fraud_alerts(severity);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON fraud_alerts(created_at DESC);
`

const schemaPredictionsSQLite = `
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
` + schemaPredictionsBody

const schemaPredictionsPostgres = `
CREATE TABLE IF NOT EXISTS predictions (
    id BIGSERIAL PRIMARY KEY,
` + schemaPredictionsBody

const schemaPredictionsBody = `
    transaction_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    label TEXT NOT NULL,
    risk_score REAL NOT NULL,
    estimator_score REAL NOT NULL,
    rule_risk_score REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_customer ON predictions(customer_id);
CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at DESC);
`

// schemasFor returns all schema statements for a driver, in order.
func schemasFor(driver string) []string {
	if driver == "postgres" {
		return []string{schemaTransactions, schemaAlertsPostgres, schemaPredictionsPostgres}
	}
	return []string{schemaTransactions, schemaAlertsSQLite, schemaPredictionsSQLite}
}
