package service

import (
	"context"
	"fmt"
	"time"

	"aquasync/internal/fsm"
	"aquasync/internal/models"

	"github.com/google/uuid"
)

// Notifier delivers a text message to a contact. It is the SMS transport.
type Notifier interface {
	Send(ctx context.Context, contact, message string) error
}

type conditionState string

const (
	conditionClear  conditionState = "clear"
	conditionRaised conditionState = "raised"
)

type conditionEvent string

const (
	evObservedTrue  conditionEvent = "observed_true"
	evObservedFalse conditionEvent = "observed_false"
)

type condTransition = fsm.Transition[conditionState, conditionEvent]

// alertCondition makes alerts edge-triggered: only clear -> raised creates an alert.
var alertCondition = fsm.NewTable(
	condTransition{From: conditionClear, Event: evObservedTrue, To: conditionRaised},
	condTransition{From: conditionClear, Event: evObservedFalse, To: conditionClear},
	condTransition{From: conditionRaised, Event: evObservedTrue, To: conditionRaised},
	condTransition{From: conditionRaised, Event: evObservedFalse, To: conditionClear},
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

func conditionOf(holds bool) conditionState {
	if holds {
		return conditionRaised
	}
	return conditionClear
}

func observation(holds bool) conditionEvent {
	if holds {
		return evObservedTrue
	}
	return evObservedFalse
}

// alertConditions evaluates every category on st. A nil status holds no condition.
func (e *Engine) alertConditions(st *models.LiveStatus) map[models.AlertCategory]bool {
	if st == nil {
		return map[models.AlertCategory]bool{}
	}
	crit := e.cfg.Alerts.BatteryCritical
	hasBattery := st.BatteryVoltage > 0 || st.BatteryPercent > 0
	return map[models.AlertCategory]bool{
		models.AlertLeakage:    st.LeakageDetected,
		models.AlertLowBattery: crit > 0 && hasBattery && st.BatteryPercent <= crit,
	}
}

func alertDetails(cat models.AlertCategory, st models.LiveStatus) string {
	switch cat {
	case models.AlertLowBattery:
		return fmt.Sprintf("Battery at %.1f%% (%.2f V)", st.BatteryPercent, st.BatteryVoltage)
	default:
		return fmt.Sprintf("Leakage detected: inlet %.2f L/min, outlet %.2f L/min", st.FlowInLPM, st.FlowOutLPM)
	}
}

func (e *Engine) alertContact(a *models.Account) string {
	if a.AdminContact != "" {
		return a.AdminContact
	}
	return e.cfg.SMS.DefaultAdmin
}

// evaluateAlerts records an alert on every rising edge and schedules its dispatch after commit.
// A queued alert whose condition still holds is retried until it runs out of attempts.
func (e *Engine) evaluateAlerts(ctx context.Context, u *unit, prev *models.LiveStatus, cur models.LiveStatus, now time.Time) error {
	before := e.alertConditions(prev)
	after := e.alertConditions(&cur)

	for _, cat := range []models.AlertCategory{models.AlertLeakage, models.AlertLowBattery} {
		from := conditionOf(before[cat])
		to, err := alertCondition.Fire(from, observation(after[cat]))
		if err != nil {
			return err
		}
		if to != conditionRaised {
			continue
		}

		last, err := u.tx.Alerts.Latest(ctx, cur.AccountID, cat)
		if err != nil {
			return err
		}

		if from == conditionRaised {
			if last != nil && last.Delivery == models.DeliveryQueued && last.Attempts < e.cfg.SMS.MaxAttempts {
				retry := *last
				u.afterCommit = append(u.afterCommit, func(ctx context.Context) { e.dispatch(ctx, u.account, retry) })
			}
			continue
		}

		a := models.Alert{
			ID:        "ALERT_" + uuid.NewString(),
			AccountID: cur.AccountID,
			Category:  cat,
			Details:   alertDetails(cat, cur),
			Contact:   e.alertContact(u.account),
			RaisedAt:  now,
			Delivery:  models.DeliveryQueued,
		}
		if cd := e.cfg.Alerts.Cooldown; cd > 0 && last != nil && now.Sub(last.RaisedAt) < cd {
			a.Delivery = models.DeliverySuppressed
		}
		if err := u.tx.Alerts.Append(ctx, a); err != nil {
			return err
		}
		e.log.Infow("alert_raised", "account_id", a.AccountID, "alert_id", a.ID, "category", cat, "delivery", a.Delivery)
		if a.Delivery == models.DeliveryQueued {
			u.afterCommit = append(u.afterCommit, func(ctx context.Context) { e.dispatch(ctx, u.account, a) })
		}
	}
	return nil
}

// dispatch sends one alert and persists the delivery outcome. Failures never bubble up:
// the report that raised the alert has already committed.
func (e *Engine) dispatch(ctx context.Context, acct *models.Account, a models.Alert) {
	log := e.log.ForAccount(a.AccountID)
	at := e.now()

	switch {
	case a.Contact == "":
		log.Warnw("alert_no_contact", "alert_id", a.ID, "category", a.Category)
		a.Delivery = models.DeliveryFailed
	case e.notifier == nil:
		log.Warnw("alert_no_notifier", "alert_id", a.ID)
		a.Delivery = models.DeliveryFailed
	default:
		msg := fmt.Sprintf("[%s] %s alert: %s", deviceLabel(acct), a.Category, a.Details)
		a.Attempts++
		a.LastAttemptAt = &at
		if err := e.notifier.Send(ctx, a.Contact, msg); err != nil {
			if a.Attempts >= e.cfg.SMS.MaxAttempts {
				a.Delivery = models.DeliveryFailed
			}
			log.Warnw("alert_dispatch_failed", "alert_id", a.ID, "attempts", a.Attempts, "delivery", a.Delivery, "err", err)
		} else {
			a.Delivery = models.DeliverySent
			log.Infow("alert_sent", "alert_id", a.ID, "attempts", a.Attempts)
		}
	}

	if err := e.repo.Alerts.UpdateDelivery(ctx, a); err != nil {
		log.Errorw("alert_delivery_update_failed", "alert_id", a.ID, "err", err)
	}
}

func deviceLabel(a *models.Account) string {
	if a.DeviceName != "" {
		return a.DeviceName
	}
	return a.ID
}

// ListAlerts returns the newest alerts of the account first.
func (e *Engine) ListAlerts(ctx context.Context, accountID string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	var out []models.Alert
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		out, err = u.tx.Alerts.List(ctx, accountID, limit)
		return err
	})
	if err != nil {
		return nil, e.declined("alert_list", accountID, err)
	}
	return out, nil
}
