package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/logger"
	"aquasync/internal/models"
	"aquasync/internal/repository"
)

// maxClockSkew bounds how far a device clock may drift before the server clock is used instead.
const maxClockSkew = 5 * time.Minute

// accountState is the in-memory part of one account, guarded by that account's lock.
// It is copied per unit of work and only replaced once the unit has committed.
type accountState struct {
	loaded bool
	sensor *Snapshot
	power  *Snapshot
	usage  usageState
}

// unit is one atomic, per-account unit of work.
type unit struct {
	tx      *repository.Repository
	account *models.Account
	state   *accountState
	// afterCommit runs while the account is still locked, only if the transaction committed.
	afterCommit []func(ctx context.Context)
}

type Engine struct {
	repo     *repository.Repository
	cfg      *config.Config
	ledger   *Ledger
	notifier Notifier
	log      *logger.Logger
	loc      *time.Location
	now      func() time.Time

	locks  accountLocks
	states sync.Map // account id -> *accountState
}

// NewEngine builds the synchronization engine. now defaults to the wall clock.
func NewEngine(repo *repository.Repository, cfg *config.Config, notifier Notifier, log *logger.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		repo:     repo,
		cfg:      cfg,
		ledger:   NewLedger(cfg.Throttle),
		notifier: notifier,
		log:      log,
		loc:      cfg.Location(),
		now:      now,
	}
}

func (e *Engine) stateOf(accountID string) *accountState {
	v, _ := e.states.LoadOrStore(accountID, &accountState{})
	return v.(*accountState)
}

// withAccount runs fn under the account lock inside one transaction bounded by the store timeout.
// In-memory state changes made by fn are kept only if the transaction commits.
func (e *Engine) withAccount(ctx context.Context, accountID string, fn func(ctx context.Context, u *unit) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Store.Timeout)
	defer cancel()

	unlock, err := e.locks.lock(ctx, accountID)
	if err != nil {
		return classifyStoreErr(err)
	}
	defer unlock()

	var (
		st   *accountState
		work accountState
	)
	u := &unit{state: &work}

	err = e.repo.Tx.Atomic(ctx, func(tx *repository.Repository) error {
		acct, err := tx.Accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if acct == nil || !acct.Active {
			return ErrUnknownAccount
		}
		// state is kept only for accounts that resolved
		st = e.stateOf(accountID)
		work = *st
		u.tx, u.account = tx, acct
		return fn(ctx, u)
	})
	if errors.Is(err, ErrUnknownAccount) {
		// a deactivated account rebuilds from the store if it comes back
		e.states.Delete(accountID)
	}
	if err != nil {
		return classifyStoreErr(err)
	}
	*st = work

	if len(u.afterCommit) > 0 {
		// the request deadline may be spent by now; give follow-ups their own bound
		postCtx, postCancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Store.Timeout)
		defer postCancel()
		for _, f := range u.afterCommit {
			f(postCtx)
		}
	}
	return nil
}

// declined logs a failed operation at a level matching its class and returns err.
func (e *Engine) declined(op, accountID string, err error) error {
	switch {
	case errors.Is(err, ErrUnknownAccount):
		e.log.Infow(op+"_declined", "account_id", accountID, "err", err)
	case IsRetryable(err):
		e.log.Errorw(op+"_failed", "account_id", accountID, "err", err)
	default:
		e.log.Warnw(op+"_declined", "account_id", accountID, "err", err)
	}
	return err
}

// ReportStatus ingests one device report and returns the action the device must apply.
// Live status, command delivery, logs, consumption and alerts commit together or not at all.
func (e *Engine) ReportStatus(ctx context.Context, accountID string, r models.Readings) (models.Action, error) {
	action := models.ActionNone
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		now := e.now()
		at := sampleTime(r.DeviceTime, now)

		prev, err := u.tx.Status.Load(ctx, accountID)
		if err != nil {
			return err
		}
		if !u.state.loaded {
			if err := e.rebuild(ctx, u, prev); err != nil {
				return err
			}
		}

		cur := e.buildStatus(accountID, r, prev, at, now)
		if err := u.tx.Status.Save(ctx, cur); err != nil {
			return err
		}
		if action, err = e.deliverTx(ctx, u.tx, accountID); err != nil {
			return err
		}
		if err := e.throttleLogs(ctx, u, cur); err != nil {
			return err
		}
		if err := e.foldConsumption(ctx, u, cur, at, now); err != nil {
			return err
		}
		return e.evaluateAlerts(ctx, u, prev, cur, now)
	})
	if err != nil {
		return models.ActionNone, e.declined("status_ingest", accountID, err)
	}
	e.log.Debugw("status_ingested", "account_id", accountID, "command", action)
	return action, nil
}

// GetStatus returns the live status, or an OFF/zero baseline before the first report.
func (e *Engine) GetStatus(ctx context.Context, accountID string) (models.LiveStatus, error) {
	var out models.LiveStatus
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		out, err = loadStatus(ctx, u.tx, accountID)
		return err
	})
	if err != nil {
		return models.LiveStatus{}, e.declined("status_query", accountID, err)
	}
	return out, nil
}

// GetLiveView reads the status and the command in one unit, so a report cannot land between them.
func (e *Engine) GetLiveView(ctx context.Context, accountID string) (models.LiveView, error) {
	var out models.LiveView
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		st, err := loadStatus(ctx, u.tx, accountID)
		if err != nil {
			return err
		}
		cmd, err := u.tx.Commands.Load(ctx, accountID)
		if err != nil {
			return err
		}
		out = models.LiveView{Status: st, Command: cmd}
		return nil
	})
	if err != nil {
		return models.LiveView{}, e.declined("live_view", accountID, err)
	}
	return out, nil
}

func loadStatus(ctx context.Context, tx *repository.Repository, accountID string) (models.LiveStatus, error) {
	st, err := tx.Status.Load(ctx, accountID)
	if err != nil {
		return models.LiveStatus{}, err
	}
	if st == nil {
		return models.LiveStatus{AccountID: accountID, PumpState: models.PumpOff}, nil
	}
	return *st, nil
}

// rebuild restores throttle snapshots and open consumption periods after a restart.
func (e *Engine) rebuild(ctx context.Context, u *unit, prev *models.LiveStatus) error {
	accountID := u.account.ID
	sl, err := u.tx.Logs.LatestSensor(ctx, accountID)
	if err != nil {
		return err
	}
	pl, err := u.tx.Logs.LatestPower(ctx, accountID)
	if err != nil {
		return err
	}
	open, err := u.tx.Consumption.Open(ctx, accountID)
	if err != nil {
		return err
	}
	u.state.sensor = snapshotFromSensorLog(sl)
	u.state.power = snapshotFromPowerLog(pl)
	u.state.usage = restoreUsage(open, prev)
	u.state.loaded = true
	return nil
}

func (e *Engine) throttleLogs(ctx context.Context, u *unit, cur models.LiveStatus) error {
	if snap, write := e.ledger.Evaluate(models.CategorySensor, cur.SampledAt, u.state.sensor, sensorSampleOf(cur)); write {
		err := u.tx.Logs.AppendSensor(ctx, models.SensorLog{
			AccountID:  cur.AccountID,
			RecordedAt: cur.SampledAt,
			PumpState:  cur.PumpState,
			FlowInLPM:  cur.FlowInLPM,
			FlowOutLPM: cur.FlowOutLPM,
			Leakage:    cur.LeakageDetected,
		})
		if err != nil {
			return err
		}
		u.state.sensor = snap
	}
	if snap, write := e.ledger.Evaluate(models.CategoryPower, cur.SampledAt, u.state.power, powerSampleOf(cur)); write {
		err := u.tx.Logs.AppendPower(ctx, models.PowerLog{
			AccountID:  cur.AccountID,
			RecordedAt: cur.SampledAt,
			Voltage:    cur.BatteryVoltage,
			Current:    cur.BatteryCurrent,
			Percent:    cur.BatteryPercent,
		})
		if err != nil {
			return err
		}
		u.state.power = snap
	}
	return nil
}

// buildStatus normalizes a report into the next live status.
func (e *Engine) buildStatus(accountID string, r models.Readings, prev *models.LiveStatus, at, now time.Time) models.LiveStatus {
	pump := r.PumpState
	if pump != models.PumpOn {
		pump = models.PumpOff
	}
	st := models.LiveStatus{
		AccountID:      accountID,
		PumpState:      pump,
		FlowInLPM:      math.Max(r.FlowInLPM, 0),
		FlowOutLPM:     math.Max(r.FlowOutLPM, 0),
		BatteryVoltage: r.BatteryVoltage,
		BatteryCurrent: r.BatteryCurrent,
		SampledAt:      at,
		UpdatedAt:      now,
	}
	switch {
	case r.BatteryVoltage > 0:
		st.BatteryPercent = batteryPercent(r.BatteryVoltage, e.cfg.Battery)
	case r.BatteryPercent != nil:
		st.BatteryPercent = clampPercent(*r.BatteryPercent)
	case prev != nil:
		st.BatteryVoltage = prev.BatteryVoltage
		st.BatteryCurrent = prev.BatteryCurrent
		st.BatteryPercent = prev.BatteryPercent
	}
	st.LeakageDetected = r.Leakage || e.derivedLeak(st)
	return st
}

// derivedLeak flags water lost between inlet and outlet while pumping.
func (e *Engine) derivedLeak(st models.LiveStatus) bool {
	d := e.cfg.Alerts.LeakDifferential
	return d > 0 && st.PumpState == models.PumpOn && st.FlowInLPM-st.FlowOutLPM > d
}

// batteryPercent maps voltage linearly onto 0..100 between the empty and full voltages.
func batteryPercent(v float64, b config.BatteryConfig) float64 {
	pct := (v - b.EmptyVoltage) / (b.FullVoltage - b.EmptyVoltage) * 100
	return clampPercent(pct)
}

func clampPercent(p float64) float64 {
	p = math.Min(math.Max(p, 0), 100)
	return math.Round(p*10) / 10
}

// sampleTime trusts the device clock only when it is close to the server's.
func sampleTime(device *time.Time, now time.Time) time.Time {
	if device == nil || device.IsZero() {
		return now
	}
	if d := device.Sub(now); d > maxClockSkew || d < -maxClockSkew {
		return now
	}
	return device.UTC()
}
