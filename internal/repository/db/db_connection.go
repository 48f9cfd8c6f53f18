package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// a single writer; per-account serialization happens above the store
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    account_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    active BOOLEAN NOT NULL,
    device_name TEXT NOT NULL,
    admin_contact TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    account_id TEXT NOT NULL
);
`

const schemaRealtimeStatus = `
CREATE TABLE IF NOT EXISTS realtime_status (
    account_id TEXT PRIMARY KEY REFERENCES accounts(account_id),
    pump_state TEXT NOT NULL,
    flow_in REAL NOT NULL,
    flow_out REAL NOT NULL,
    battery_v REAL NOT NULL,
    current_a REAL NOT NULL,
    battery_pct REAL NOT NULL,
    leakage BOOLEAN NOT NULL,
    sampled_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaCommands = `
CREATE TABLE IF NOT EXISTS commands (
    account_id TEXT PRIMARY KEY REFERENCES accounts(account_id),
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    actor TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    delivered_at TIMESTAMP,
    executed_at TIMESTAMP
);
`

const schemaSensorLogs = `
CREATE TABLE IF NOT EXISTS sensor_logs (
    log_id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(account_id),
    recorded_at TIMESTAMP NOT NULL,
    pump_state TEXT NOT NULL,
    flow_in REAL NOT NULL,
    flow_out REAL NOT NULL,
    leakage BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_logs_account_time ON sensor_logs (account_id, recorded_at);
`

const schemaPowerLogs = `
CREATE TABLE IF NOT EXISTS power_logs (
    log_id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(account_id),
    recorded_at TIMESTAMP NOT NULL,
    voltage REAL NOT NULL,
    current_a REAL NOT NULL,
    percent REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_power_logs_account_time ON power_logs (account_id, recorded_at);
`

const schemaControlLogs = `
CREATE TABLE IF NOT EXISTS control_logs (
    log_id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(account_id),
    recorded_at TIMESTAMP NOT NULL,
    action TEXT NOT NULL,
    method TEXT NOT NULL,
    actor TEXT NOT NULL,
    details TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_control_logs_account_time ON control_logs (account_id, recorded_at);
`

const schemaConsumption = `
CREATE TABLE IF NOT EXISTS consumption (
    account_id TEXT NOT NULL REFERENCES accounts(account_id),
    period TEXT NOT NULL,
    period_key TEXT NOT NULL,
    period_start TIMESTAMP NOT NULL,
    volume_in REAL NOT NULL,
    volume_out REAL NOT NULL,
    pump_cycles INTEGER NOT NULL,
    sealed BOOLEAN NOT NULL,
    last_sample_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (account_id, period, period_key)
);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL REFERENCES accounts(account_id),
    category TEXT NOT NULL,
    details TEXT NOT NULL,
    contact TEXT NOT NULL,
    raised_at TIMESTAMP NOT NULL,
    delivery TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    last_attempt_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alerts_account_category ON alerts (account_id, category, raised_at);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaAccounts,
		schemaUsers,
		schemaRealtimeStatus,
		schemaCommands,
		schemaSensorLogs,
		schemaPowerLogs,
		schemaControlLogs,
		schemaConsumption,
		schemaAlerts,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
