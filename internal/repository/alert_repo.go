package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aquasync/internal/models"

	"github.com/google/uuid"
)

type AlertSQLite struct {
	db DBTX
}

func NewAlertSQLite(db DBTX) *AlertSQLite {
	return &AlertSQLite{db: db}
}

var _ AlertRepo = (*AlertSQLite)(nil)

const (
	insertAlertSQL = `
		INSERT INTO alerts (alert_id, account_id, category, details, contact, raised_at, delivery, attempts, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	updateAlertDeliverySQL = `UPDATE alerts SET delivery = ?, attempts = ?, last_attempt_at = ? WHERE alert_id = ? AND account_id = ?`

	selectAlertsSQL = `
		SELECT alert_id, account_id, category, details, contact, raised_at, delivery, attempts, last_attempt_at
		FROM alerts WHERE account_id = ?
	`
)

// Append inserts a new alert. An empty ID is generated.
func (r *AlertSQLite) Append(ctx context.Context, a models.Alert) error {
	if a.ID == "" {
		a.ID = "ALERT_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, insertAlertSQL,
		a.ID, a.AccountID, string(a.Category), a.Details, a.Contact,
		utcOrNow(a.RaisedAt), string(a.Delivery), a.Attempts, nullTime(a.LastAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert for %q: %w", a.AccountID, err)
	}
	return nil
}

// UpdateDelivery persists the delivery fields of an existing alert.
func (r *AlertSQLite) UpdateDelivery(ctx context.Context, a models.Alert) error {
	res, err := r.db.ExecContext(ctx, updateAlertDeliverySQL,
		string(a.Delivery), a.Attempts, nullTime(a.LastAttemptAt), a.ID, a.AccountID,
	)
	if err != nil {
		return fmt.Errorf("update alert %q: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %q rows affected: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update alert %q: %w", a.ID, ErrPartitionMismatch)
	}
	return nil
}

func scanAlert(sc interface{ Scan(...any) error }) (models.Alert, error) {
	var (
		a                  models.Alert
		category, delivery string
		last               sql.NullTime
	)
	if err := sc.Scan(&a.ID, &a.AccountID, &category, &a.Details, &a.Contact, &a.RaisedAt, &delivery, &a.Attempts, &last); err != nil {
		return a, err
	}
	a.Category = models.AlertCategory(category)
	a.Delivery = models.DeliveryState(delivery)
	a.RaisedAt = a.RaisedAt.UTC()
	a.LastAttemptAt = timePtr(last)
	return a, nil
}

// Latest returns the newest alert of a category, or (nil, nil).
func (r *AlertSQLite) Latest(ctx context.Context, accountID string, cat models.AlertCategory) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, selectAlertsSQL+" AND category = ? ORDER BY raised_at DESC LIMIT 1", accountID, string(cat))
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select latest %s alert for %q: %w", cat, accountID, err)
	}
	if err := checkPartition(accountID, a.AccountID); err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns the newest alerts first.
func (r *AlertSQLite) List(ctx context.Context, accountID string, limit int) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, selectAlertsSQL+" ORDER BY raised_at DESC LIMIT ?", accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %q: %w", accountID, err)
	}
	defer rows.Close()

	out := make([]models.Alert, 0, limit)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert for %q: %w", accountID, err)
		}
		if err := checkPartition(accountID, a.AccountID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
