package service

import (
	"context"
	"fmt"
	"time"

	"aquasync/internal/models"
)

// LogFilter selects log entries of one category. Zero bounds are open.
type LogFilter struct {
	Category models.LogCategory
	From     time.Time
	To       time.Time
}

// LogList holds the entries of the requested category only.
type LogList struct {
	Category models.LogCategory  `json:"category"`
	Count    int                 `json:"count"`
	Sensor   []models.SensorLog  `json:"sensor_logs,omitempty"`
	Power    []models.PowerLog   `json:"power_logs,omitempty"`
	Control  []models.ControlLog `json:"control_logs,omitempty"`
}

// normalizeToUTC returns t in UTC, preserving zero time values.
func normalizeToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func normalizeAndValidateFilter(f LogFilter) (LogFilter, error) {
	if _, ok := models.ParseLogCategory(string(f.Category)); !ok {
		return f, fmt.Errorf("%w: %q", ErrInvalidCategory, f.Category)
	}
	f.Category, _ = models.ParseLogCategory(string(f.Category))
	f.From, f.To = normalizeToUTC(f.From), normalizeToUTC(f.To)
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, ErrInvalidTimeRange
	}
	return f, nil
}

// ListLogs returns the entries of one category in recording order.
func (e *Engine) ListLogs(ctx context.Context, accountID string, f LogFilter) (LogList, error) {
	f, err := normalizeAndValidateFilter(f)
	if err != nil {
		return LogList{}, err
	}
	out := LogList{Category: f.Category}
	err = e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		switch f.Category {
		case models.CategorySensor:
			out.Sensor, err = u.tx.Logs.ListSensor(ctx, accountID, f.From, f.To)
			out.Count = len(out.Sensor)
		case models.CategoryPower:
			out.Power, err = u.tx.Logs.ListPower(ctx, accountID, f.From, f.To)
			out.Count = len(out.Power)
		case models.CategoryControl:
			out.Control, err = u.tx.Logs.ListControl(ctx, accountID, f.From, f.To)
			out.Count = len(out.Control)
		}
		return err
	})
	if err != nil {
		return LogList{}, e.declined("logs_list", accountID, err)
	}
	return out, nil
}

// PurgeLogs deletes entries older than before, one bounded batch per transaction.
func (e *Engine) PurgeLogs(ctx context.Context, accountID string, cat models.LogCategory, before time.Time) (int64, error) {
	cat, ok := models.ParseLogCategory(string(cat))
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, cat)
	}
	if before.IsZero() {
		return 0, fmt.Errorf("%w: purge needs a cutoff", ErrInvalidTimeRange)
	}
	batch := e.cfg.Store.PurgeBatch

	var total int64
	for {
		var n int64
		err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
			var err error
			n, err = u.tx.Logs.Purge(ctx, accountID, cat, before.UTC(), batch)
			return err
		})
		if err != nil {
			return total, e.declined("logs_purge", accountID, err)
		}
		total += n
		if n < int64(batch) {
			break
		}
	}
	e.log.Infow("logs_purged", "account_id", accountID, "category", cat, "before", before, "deleted", total)
	return total, nil
}
