package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aquasync/internal/models"

	"github.com/google/uuid"
)

// LogSQLite stores the append-only sensor, power and control logs.
type LogSQLite struct {
	db DBTX
}

func NewLogSQLite(db DBTX) *LogSQLite { return &LogSQLite{db: db} }

var _ LogRepo = (*LogSQLite)(nil)

const (
	insertSensorLogSQL = `
		INSERT INTO sensor_logs (log_id, account_id, recorded_at, pump_state, flow_in, flow_out, leakage)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	insertPowerLogSQL = `
		INSERT INTO power_logs (log_id, account_id, recorded_at, voltage, current_a, percent)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	insertControlLogSQL = `
		INSERT INTO control_logs (log_id, account_id, recorded_at, action, method, actor, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	selectSensorLogsSQL  = `SELECT log_id, account_id, recorded_at, pump_state, flow_in, flow_out, leakage FROM sensor_logs WHERE account_id = ?`
	selectPowerLogsSQL   = `SELECT log_id, account_id, recorded_at, voltage, current_a, percent FROM power_logs WHERE account_id = ?`
	selectControlLogsSQL = `SELECT log_id, account_id, recorded_at, action, method, actor, details FROM control_logs WHERE account_id = ?`

	orderAsc    = " ORDER BY recorded_at ASC"
	latestOnly  = " ORDER BY recorded_at DESC LIMIT 1"
	purgeLogSQL = `DELETE FROM %[1]s WHERE log_id IN (SELECT log_id FROM %[1]s WHERE account_id = ? AND recorded_at < ? ORDER BY recorded_at LIMIT ?)`
)

func newLogID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// AppendSensor inserts a sensor snapshot. Empty ID and zero time are filled in.
func (r *LogSQLite) AppendSensor(ctx context.Context, l models.SensorLog) error {
	if l.ID == "" {
		l.ID = newLogID("LOG")
	}
	_, err := r.db.ExecContext(ctx, insertSensorLogSQL,
		l.ID, l.AccountID, utcOrNow(l.RecordedAt), string(l.PumpState), l.FlowInLPM, l.FlowOutLPM, l.Leakage,
	)
	if err != nil {
		return fmt.Errorf("insert sensor log for %q: %w", l.AccountID, err)
	}
	return nil
}

// AppendPower inserts a power snapshot.
func (r *LogSQLite) AppendPower(ctx context.Context, l models.PowerLog) error {
	if l.ID == "" {
		l.ID = newLogID("PWR")
	}
	_, err := r.db.ExecContext(ctx, insertPowerLogSQL,
		l.ID, l.AccountID, utcOrNow(l.RecordedAt), l.Voltage, l.Current, l.Percent,
	)
	if err != nil {
		return fmt.Errorf("insert power log for %q: %w", l.AccountID, err)
	}
	return nil
}

// AppendControl inserts a command event.
func (r *LogSQLite) AppendControl(ctx context.Context, l models.ControlLog) error {
	if l.ID == "" {
		l.ID = newLogID("CTRL")
	}
	_, err := r.db.ExecContext(ctx, insertControlLogSQL,
		l.ID, l.AccountID, utcOrNow(l.RecordedAt), l.Action, l.Method, l.Actor, l.Details,
	)
	if err != nil {
		return fmt.Errorf("insert control log for %q: %w", l.AccountID, err)
	}
	return nil
}

func scanSensor(sc interface{ Scan(...any) error }) (models.SensorLog, error) {
	var (
		l    models.SensorLog
		pump string
	)
	if err := sc.Scan(&l.ID, &l.AccountID, &l.RecordedAt, &pump, &l.FlowInLPM, &l.FlowOutLPM, &l.Leakage); err != nil {
		return l, err
	}
	l.PumpState = models.PumpState(pump)
	l.RecordedAt = l.RecordedAt.UTC()
	return l, nil
}

func scanPower(sc interface{ Scan(...any) error }) (models.PowerLog, error) {
	var l models.PowerLog
	if err := sc.Scan(&l.ID, &l.AccountID, &l.RecordedAt, &l.Voltage, &l.Current, &l.Percent); err != nil {
		return l, err
	}
	l.RecordedAt = l.RecordedAt.UTC()
	return l, nil
}

func scanControl(sc interface{ Scan(...any) error }) (models.ControlLog, error) {
	var l models.ControlLog
	if err := sc.Scan(&l.ID, &l.AccountID, &l.RecordedAt, &l.Action, &l.Method, &l.Actor, &l.Details); err != nil {
		return l, err
	}
	l.RecordedAt = l.RecordedAt.UTC()
	return l, nil
}

// LatestSensor returns the newest sensor log, or (nil, nil) if there is none.
func (r *LogSQLite) LatestSensor(ctx context.Context, accountID string) (*models.SensorLog, error) {
	l, err := scanSensor(r.db.QueryRowContext(ctx, selectSensorLogsSQL+latestOnly, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest sensor log for %q: %w", accountID, err)
	}
	if err := checkPartition(accountID, l.AccountID); err != nil {
		return nil, err
	}
	return &l, nil
}

// LatestPower returns the newest power log, or (nil, nil) if there is none.
func (r *LogSQLite) LatestPower(ctx context.Context, accountID string) (*models.PowerLog, error) {
	l, err := scanPower(r.db.QueryRowContext(ctx, selectPowerLogsSQL+latestOnly, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest power log for %q: %w", accountID, err)
	}
	if err := checkPartition(accountID, l.AccountID); err != nil {
		return nil, err
	}
	return &l, nil
}

// listLogs runs a [from, to] ranged query and hands each row to scan.
func (r *LogSQLite) listLogs(ctx context.Context, base, accountID string, from, to time.Time, scan func(*sql.Rows) (string, error)) error {
	clause, args := rangeClause("recorded_at", from, to, []any{accountID})
	rows, err := r.db.QueryContext(ctx, base+clause+orderAsc, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		owner, err := scan(rows)
		if err != nil {
			return err
		}
		if err := checkPartition(accountID, owner); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListSensor returns sensor logs within [from, to]; zero bounds are open.
func (r *LogSQLite) ListSensor(ctx context.Context, accountID string, from, to time.Time) ([]models.SensorLog, error) {
	out := make([]models.SensorLog, 0, 64)
	err := r.listLogs(ctx, selectSensorLogsSQL, accountID, from, to, func(rows *sql.Rows) (string, error) {
		l, err := scanSensor(rows)
		out = append(out, l)
		return l.AccountID, err
	})
	if err != nil {
		return nil, fmt.Errorf("list sensor logs for %q: %w", accountID, err)
	}
	return out, nil
}

// ListPower returns power logs within [from, to].
func (r *LogSQLite) ListPower(ctx context.Context, accountID string, from, to time.Time) ([]models.PowerLog, error) {
	out := make([]models.PowerLog, 0, 64)
	err := r.listLogs(ctx, selectPowerLogsSQL, accountID, from, to, func(rows *sql.Rows) (string, error) {
		l, err := scanPower(rows)
		out = append(out, l)
		return l.AccountID, err
	})
	if err != nil {
		return nil, fmt.Errorf("list power logs for %q: %w", accountID, err)
	}
	return out, nil
}

// ListControl returns control logs within [from, to].
func (r *LogSQLite) ListControl(ctx context.Context, accountID string, from, to time.Time) ([]models.ControlLog, error) {
	out := make([]models.ControlLog, 0, 16)
	err := r.listLogs(ctx, selectControlLogsSQL, accountID, from, to, func(rows *sql.Rows) (string, error) {
		l, err := scanControl(rows)
		out = append(out, l)
		return l.AccountID, err
	})
	if err != nil {
		return nil, fmt.Errorf("list control logs for %q: %w", accountID, err)
	}
	return out, nil
}

// Purge deletes one batch of the account's entries recorded before `before`.
func (r *LogSQLite) Purge(ctx context.Context, accountID string, cat models.LogCategory, before time.Time, batch int) (int64, error) {
	switch cat {
	case models.CategorySensor, models.CategoryPower, models.CategoryControl:
	default:
		return 0, fmt.Errorf("purge: unknown log category %q", cat)
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(purgeLogSQL, cat), accountID, before.UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("purge %s for %q: %w", cat, accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge %s rows affected: %w", cat, err)
	}
	return n, nil
}
