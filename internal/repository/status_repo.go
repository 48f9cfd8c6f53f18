package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aquasync/internal/models"
)

type StatusSQLite struct {
	db DBTX
}

func NewStatusSQLite(db DBTX) *StatusSQLite {
	return &StatusSQLite{db: db}
}

var _ StatusRepo = (*StatusSQLite)(nil)

const (
	upsertStatusSQL = `
		INSERT INTO realtime_status (account_id, pump_state, flow_in, flow_out, battery_v, current_a, battery_pct, leakage, sampled_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			pump_state=excluded.pump_state,
			flow_in=excluded.flow_in,
			flow_out=excluded.flow_out,
			battery_v=excluded.battery_v,
			current_a=excluded.current_a,
			battery_pct=excluded.battery_pct,
			leakage=excluded.leakage,
			sampled_at=excluded.sampled_at,
			updated_at=excluded.updated_at
	`

	selectStatusSQL = `
		SELECT account_id, pump_state, flow_in, flow_out, battery_v, current_a, battery_pct, leakage, sampled_at, updated_at
		FROM realtime_status WHERE account_id = ?
	`
)

// Save overwrites the account's live status row.
func (r *StatusSQLite) Save(ctx context.Context, s models.LiveStatus) error {
	if s.AccountID == "" {
		return errors.New("save status: empty account id")
	}
	updated := utcOrNow(s.UpdatedAt)
	sampled := s.SampledAt
	if sampled.IsZero() {
		sampled = updated
	}
	_, err := r.db.ExecContext(ctx, upsertStatusSQL,
		s.AccountID,
		string(s.PumpState),
		s.FlowInLPM,
		s.FlowOutLPM,
		s.BatteryVoltage,
		s.BatteryCurrent,
		s.BatteryPercent,
		s.LeakageDetected,
		sampled.UTC(),
		updated,
	)
	if err != nil {
		return fmt.Errorf("upsert status %q: %w", s.AccountID, err)
	}
	return nil
}

// Load fetches the account's live status. Returns (nil, nil) before the first report.
func (r *StatusSQLite) Load(ctx context.Context, accountID string) (*models.LiveStatus, error) {
	var (
		s    models.LiveStatus
		pump string
	)
	err := r.db.QueryRowContext(ctx, selectStatusSQL, accountID).Scan(
		&s.AccountID,
		&pump,
		&s.FlowInLPM,
		&s.FlowOutLPM,
		&s.BatteryVoltage,
		&s.BatteryCurrent,
		&s.BatteryPercent,
		&s.LeakageDetected,
		&s.SampledAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select status %q: %w", accountID, err)
	}
	if err := checkPartition(accountID, s.AccountID); err != nil {
		return nil, err
	}
	s.PumpState = models.PumpState(pump)
	s.SampledAt = s.SampledAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}
