package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aquasync/internal/models"
)

type ConsumptionSQLite struct {
	db DBTX
}

func NewConsumptionSQLite(db DBTX) *ConsumptionSQLite {
	return &ConsumptionSQLite{db: db}
}

var _ ConsumptionRepo = (*ConsumptionSQLite)(nil)

const (
	// a sealed row is never overwritten
	upsertConsumptionSQL = `
		INSERT INTO consumption (account_id, period, period_key, period_start, volume_in, volume_out, pump_cycles, sealed, last_sample_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, period, period_key) DO UPDATE SET
			volume_in=excluded.volume_in,
			volume_out=excluded.volume_out,
			pump_cycles=excluded.pump_cycles,
			sealed=excluded.sealed,
			last_sample_at=excluded.last_sample_at,
			updated_at=excluded.updated_at
		WHERE consumption.sealed = 0
	`

	selectConsumptionSQL = `
		SELECT account_id, period, period_key, period_start, volume_in, volume_out, pump_cycles, sealed, last_sample_at, updated_at
		FROM consumption WHERE account_id = ?
	`
)

// Upsert writes the record unless the stored one is already sealed.
func (r *ConsumptionSQLite) Upsert(ctx context.Context, c models.ConsumptionRecord) error {
	if c.AccountID == "" {
		return errors.New("upsert consumption: empty account id")
	}
	_, err := r.db.ExecContext(ctx, upsertConsumptionSQL,
		c.AccountID,
		string(c.Period),
		c.Key,
		c.PeriodStart.UTC(),
		c.InletLiters,
		c.OutletLiters,
		c.PumpCycles,
		c.Sealed,
		c.LastSampleAt.UTC(),
		utcOrNow(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert consumption %s/%s for %q: %w", c.Period, c.Key, c.AccountID, err)
	}
	return nil
}

func scanConsumption(sc interface{ Scan(...any) error }) (models.ConsumptionRecord, error) {
	var (
		c      models.ConsumptionRecord
		period string
	)
	err := sc.Scan(&c.AccountID, &period, &c.Key, &c.PeriodStart, &c.InletLiters, &c.OutletLiters,
		&c.PumpCycles, &c.Sealed, &c.LastSampleAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Period = models.Period(period)
	c.PeriodStart = c.PeriodStart.UTC()
	c.LastSampleAt = c.LastSampleAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// Get fetches one period record. Returns (nil, nil) if it was never written.
func (r *ConsumptionSQLite) Get(ctx context.Context, accountID string, p models.Period, key string) (*models.ConsumptionRecord, error) {
	row := r.db.QueryRowContext(ctx, selectConsumptionSQL+" AND period = ? AND period_key = ?", accountID, string(p), key)
	c, err := scanConsumption(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select consumption %s/%s for %q: %w", p, key, accountID, err)
	}
	if err := checkPartition(accountID, c.AccountID); err != nil {
		return nil, err
	}
	return &c, nil
}

// Open returns the account's unsealed records.
func (r *ConsumptionSQLite) Open(ctx context.Context, accountID string) ([]models.ConsumptionRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectConsumptionSQL+" AND sealed = 0 ORDER BY period_start ASC", accountID)
	if err != nil {
		return nil, fmt.Errorf("select open consumption for %q: %w", accountID, err)
	}
	defer rows.Close()

	var out []models.ConsumptionRecord
	for rows.Next() {
		c, err := scanConsumption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consumption for %q: %w", accountID, err)
		}
		if err := checkPartition(accountID, c.AccountID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
