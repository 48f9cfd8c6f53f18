package service

import (
	"context"
	"fmt"
	"time"

	"aquasync/internal/models"
)

// usageState integrates flow samples into the open record of every period.
// Arrays are indexed like models.Periods so a struct copy is a deep copy.
type usageState struct {
	seeded   bool
	lastAt   time.Time
	lastIn   float64
	lastOut  float64
	lastPump models.PumpState

	open        [3]models.ConsumptionRecord
	opened      [3]bool
	dirty       [3]bool
	lastPersist [3]time.Time
}

// ConsumptionSummary is the open day, week and month of an account.
type ConsumptionSummary struct {
	Day   models.ConsumptionRecord `json:"day"`
	Week  models.ConsumptionRecord `json:"week"`
	Month models.ConsumptionRecord `json:"month"`
}

func periodIndex(p models.Period) (int, bool) {
	for i, q := range models.Periods {
		if q == p {
			return i, true
		}
	}
	return 0, false
}

// restoreUsage rebuilds the aggregator from the open records and the last live status.
// Volume sampled after the last persisted write of a record is not recovered.
func restoreUsage(open []models.ConsumptionRecord, prev *models.LiveStatus) usageState {
	var us usageState
	for _, r := range open {
		i, ok := periodIndex(r.Period)
		if !ok || r.Sealed {
			continue
		}
		us.open[i] = r
		us.opened[i] = true
		us.lastPersist[i] = r.UpdatedAt
	}
	if prev != nil {
		us.seeded = true
		us.lastAt = prev.SampledAt
		us.lastIn = prev.FlowInLPM
		us.lastOut = prev.FlowOutLPM
		us.lastPump = prev.PumpState
	}
	return us
}

// periodOf returns the start (UTC) and key of the period containing t, calendar taken in loc.
func periodOf(p models.Period, t time.Time, loc *time.Location) (time.Time, string) {
	lt := t.In(loc)
	y, m, d := lt.Date()
	switch p {
	case models.PeriodWeek:
		offset := (int(lt.Weekday()) + 6) % 7 // days since Monday
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		iy, iw := lt.ISOWeek()
		return start.UTC(), fmt.Sprintf("%04d-W%02d", iy, iw)
	case models.PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc).UTC(), lt.Format("2006-01")
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC(), lt.Format("2006-01-02")
	}
}

// parsePeriodKey validates key for p and returns the period start.
func parsePeriodKey(p models.Period, key string, loc *time.Location) (time.Time, error) {
	switch p {
	case models.PeriodDay:
		t, err := time.ParseInLocation("2006-01-02", key, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: day key %q", ErrInvalidPeriod, key)
		}
		return t.UTC(), nil
	case models.PeriodMonth:
		t, err := time.ParseInLocation("2006-01", key, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: month key %q", ErrInvalidPeriod, key)
		}
		return t.UTC(), nil
	case models.PeriodWeek:
		var y, w int
		if n, err := fmt.Sscanf(key, "%4d-W%2d", &y, &w); err != nil || n != 2 || w < 1 || w > 53 {
			return time.Time{}, fmt.Errorf("%w: week key %q", ErrInvalidPeriod, key)
		}
		// ISO week 1 contains January 4th.
		jan4 := time.Date(y, time.January, 4, 0, 0, 0, 0, loc)
		start := jan4.AddDate(0, 0, -((int(jan4.Weekday())+6)%7)+(w-1)*7)
		if _, got := start.ISOWeek(); got != w {
			return time.Time{}, fmt.Errorf("%w: year %d has no week %d", ErrInvalidPeriod, y, w)
		}
		return start.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, p)
}

// accrue adds the volume of the rates held over [from, to) and reports whether anything was added.
func accrue(rec *models.ConsumptionRecord, from, to time.Time, in, out float64) bool {
	mins := to.Sub(from).Minutes()
	if mins <= 0 {
		return false
	}
	rec.InletLiters += in * mins
	rec.OutletLiters += out * mins
	return true
}

// periodEnd is the start of the period following the one starting at start.
func periodEnd(p models.Period, start time.Time, loc *time.Location) time.Time {
	s := start.In(loc)
	switch p {
	case models.PeriodWeek:
		return s.AddDate(0, 0, 7)
	case models.PeriodMonth:
		return s.AddDate(0, 1, 0)
	default:
		return s.AddDate(0, 0, 1)
	}
}

// foldConsumption adds the volume since the previous sample to every open period.
// On a boundary the old record gets the volume up to its end and is sealed; the new one
// accumulates from its start. Periods skipped entirely are not back-filled.
func (e *Engine) foldConsumption(ctx context.Context, u *unit, cur models.LiveStatus, at, now time.Time) error {
	us := &u.state.usage
	if us.seeded && !at.After(us.lastAt) {
		e.log.Debugw("consumption_sample_out_of_order", "account_id", cur.AccountID, "sampled_at", at, "last", us.lastAt)
		return nil
	}
	cycle := us.seeded && us.lastPump != models.PumpOn && cur.PumpState == models.PumpOn

	for i, p := range models.Periods {
		start, key := periodOf(p, at, e.loc)
		rec := &us.open[i]
		persist := false

		if us.opened[i] && rec.Key != key {
			// the stretch up to the boundary still belongs to the old period
			from := us.lastAt
			if from.Before(rec.PeriodStart) {
				from = rec.PeriodStart
			}
			if us.seeded && accrue(rec, from, periodEnd(p, rec.PeriodStart, e.loc), us.lastIn, us.lastOut) {
				us.dirty[i] = true
			}
			rec.Sealed = true
			rec.UpdatedAt = now
			if err := u.tx.Consumption.Upsert(ctx, *rec); err != nil {
				return err
			}
			e.log.Infow("consumption_sealed", "account_id", cur.AccountID, "period", p, "key", rec.Key,
				"in_l", rec.InletLiters, "out_l", rec.OutletLiters)
			us.opened[i] = false
		}
		if !us.opened[i] {
			*rec = models.ConsumptionRecord{AccountID: cur.AccountID, Period: p, Key: key, PeriodStart: start}
			us.opened[i] = true
			persist = true
		}

		if us.seeded {
			from := us.lastAt
			if from.Before(start) {
				from = start
			}
			if accrue(rec, from, at, us.lastIn, us.lastOut) {
				us.dirty[i] = true
			}
		}
		if cycle {
			rec.PumpCycles++
			us.dirty[i] = true
		}
		rec.LastSampleAt = at

		if persist || (us.dirty[i] && now.Sub(us.lastPersist[i]) >= e.cfg.Consumption.PersistInterval) {
			rec.UpdatedAt = now
			if err := u.tx.Consumption.Upsert(ctx, *rec); err != nil {
				return err
			}
			us.lastPersist[i] = now
			us.dirty[i] = false
		}
	}

	us.seeded = true
	us.lastAt = at
	us.lastIn = cur.FlowInLPM
	us.lastOut = cur.FlowOutLPM
	us.lastPump = cur.PumpState
	return nil
}

// GetConsumption returns one period record. An empty key means the current period.
// Records of the open period include volume not yet persisted.
func (e *Engine) GetConsumption(ctx context.Context, accountID string, p models.Period, key string) (models.ConsumptionRecord, error) {
	i, ok := periodIndex(p)
	if !ok {
		return models.ConsumptionRecord{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, p)
	}
	var start time.Time
	if key == "" {
		start, key = periodOf(p, e.now(), e.loc)
	} else {
		var err error
		if start, err = parsePeriodKey(p, key, e.loc); err != nil {
			return models.ConsumptionRecord{}, err
		}
	}

	var out models.ConsumptionRecord
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		out, err = e.consumptionTx(ctx, u, i, p, key, start)
		return err
	})
	if err != nil {
		return models.ConsumptionRecord{}, e.declined("consumption_query", accountID, err)
	}
	return out, nil
}

// GetConsumptionSummary returns the current day, week and month totals.
func (e *Engine) GetConsumptionSummary(ctx context.Context, accountID string) (ConsumptionSummary, error) {
	var out ConsumptionSummary
	now := e.now()
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		recs := make([]models.ConsumptionRecord, len(models.Periods))
		for i, p := range models.Periods {
			start, key := periodOf(p, now, e.loc)
			r, err := e.consumptionTx(ctx, u, i, p, key, start)
			if err != nil {
				return err
			}
			recs[i] = r
		}
		out = ConsumptionSummary{Day: recs[0], Week: recs[1], Month: recs[2]}
		return nil
	})
	if err != nil {
		return ConsumptionSummary{}, e.declined("consumption_summary", accountID, err)
	}
	return out, nil
}

func (e *Engine) consumptionTx(ctx context.Context, u *unit, i int, p models.Period, key string, start time.Time) (models.ConsumptionRecord, error) {
	us := u.state.usage
	if u.state.loaded && us.opened[i] && us.open[i].Key == key {
		return us.open[i], nil
	}
	rec, err := u.tx.Consumption.Get(ctx, u.account.ID, p, key)
	if err != nil {
		return models.ConsumptionRecord{}, err
	}
	if rec == nil {
		return models.ConsumptionRecord{AccountID: u.account.ID, Period: p, Key: key, PeriodStart: start}, nil
	}
	return *rec, nil
}
