package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aquasync/internal/fsm"
	"aquasync/internal/models"
	"aquasync/internal/repository"
)

type commandEvent string

const (
	evEnqueue commandEvent = "enqueue"
	evDeliver commandEvent = "deliver"
	evAck     commandEvent = "acknowledge"
)

type cmdTransition = fsm.Transition[models.CommandState, commandEvent]

// commandLifecycle is the latest-wins command channel.
// deliver is idempotent once delivered or executed; acknowledge is only accepted from delivered.
var commandLifecycle = fsm.NewTable(
	cmdTransition{From: models.CommandNone, Event: evEnqueue, To: models.CommandPending},
	cmdTransition{From: models.CommandPending, Event: evEnqueue, To: models.CommandPending},
	cmdTransition{From: models.CommandDelivered, Event: evEnqueue, To: models.CommandPending},
	cmdTransition{From: models.CommandExecuted, Event: evEnqueue, To: models.CommandPending},

	cmdTransition{From: models.CommandPending, Event: evDeliver, To: models.CommandDelivered},
	cmdTransition{From: models.CommandDelivered, Event: evDeliver, To: models.CommandDelivered},
	cmdTransition{From: models.CommandExecuted, Event: evDeliver, To: models.CommandExecuted},

	cmdTransition{From: models.CommandDelivered, Event: evAck, To: models.CommandExecuted},
)

// enqueueCommand supersedes whatever the account had.
func enqueueCommand(cur models.Command, action models.Action, actor string, now time.Time) (models.Command, error) {
	state, err := commandLifecycle.Fire(cur.State, evEnqueue)
	if err != nil {
		return cur, err
	}
	return models.Command{
		AccountID: cur.AccountID,
		Action:    action,
		State:     state,
		Actor:     actor,
		CreatedAt: now,
	}, nil
}

// deliverCommand hands the command to the device. changed is false when nothing must be written.
func deliverCommand(cur models.Command, now time.Time) (next models.Command, changed bool) {
	state, err := commandLifecycle.Fire(cur.State, evDeliver)
	if err != nil || state == cur.State {
		return cur, false
	}
	next = cur
	next.State = state
	next.DeliveredAt = &now
	return next, true
}

// acknowledgeCommand accepts the device's confirmation for the delivered action only.
func acknowledgeCommand(cur models.Command, action models.Action, now time.Time) (models.Command, error) {
	if !commandLifecycle.Can(cur.State, evAck) || cur.Action != action {
		return cur, fmt.Errorf("%w: acked %s, current %s is %s", ErrStaleAck, action, cur.Action, cur.State)
	}
	state, err := commandLifecycle.Fire(cur.State, evAck)
	if err != nil {
		return cur, err
	}
	next := cur
	next.State = state
	next.ExecutedAt = &now
	return next, nil
}

// wireAction is what the device is told to do.
func wireAction(c models.Command) models.Action {
	if c.Active() {
		return c.Action
	}
	return models.ActionNone
}

const (
	dashboardActorPrefix = "dashboard:"
	smsActorPrefix       = "sms:"
)

// DashboardActor names a command issued by a signed-in user.
func DashboardActor(userID string) string { return dashboardActorPrefix + userID }

// SMSActor names a command received by SMS from a phone number.
func SMSActor(from string) string { return smsActorPrefix + from }

func isSMSActor(actor string) bool { return strings.HasPrefix(actor, smsActorPrefix) }

func controlAction(a models.Action) string {
	return "TURN_" + string(a)
}

// SetCommand enqueues ON or OFF for the account, replacing any active command.
func (e *Engine) SetCommand(ctx context.Context, accountID string, action models.Action, actor string) (models.Command, error) {
	if action != models.ActionOn && action != models.ActionOff {
		return models.Command{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	var out models.Command
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		out, err = e.enqueueTx(ctx, u.tx, accountID, action, actor)
		return err
	})
	if err != nil {
		return models.Command{}, e.declined("command_enqueue", accountID, err)
	}
	e.log.Infow("command_enqueued", "account_id", accountID, "action", out.Action, "actor", actor)
	return out, nil
}

// ToggleCommand enqueues the opposite of the last reported pump state.
func (e *Engine) ToggleCommand(ctx context.Context, accountID, actor string) (models.Command, error) {
	var out models.Command
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		st, err := u.tx.Status.Load(ctx, accountID)
		if err != nil {
			return err
		}
		action := models.ActionOn
		if st != nil && st.PumpState == models.PumpOn {
			action = models.ActionOff
		}
		out, err = e.enqueueTx(ctx, u.tx, accountID, action, actor)
		return err
	})
	if err != nil {
		return models.Command{}, e.declined("command_toggle", accountID, err)
	}
	e.log.Infow("command_enqueued", "account_id", accountID, "action", out.Action, "actor", actor, "toggle", true)
	return out, nil
}

func (e *Engine) enqueueTx(ctx context.Context, tx *repository.Repository, accountID string, action models.Action, actor string) (models.Command, error) {
	now := e.now()
	cur, err := tx.Commands.Load(ctx, accountID)
	if err != nil {
		return models.Command{}, err
	}
	next, err := enqueueCommand(cur, action, actor, now)
	if err != nil {
		return models.Command{}, err
	}
	if err := tx.Commands.Save(ctx, next); err != nil {
		return models.Command{}, err
	}
	method := models.MethodManual
	if isSMSActor(actor) {
		method = models.MethodSMS
	}
	err = tx.Logs.AppendControl(ctx, models.ControlLog{
		AccountID:  accountID,
		RecordedAt: now,
		Action:     controlAction(action),
		Method:     method,
		Actor:      actor,
		Details:    fmt.Sprintf("Pump %s requested via %s", controlAction(action), method),
	})
	return next, err
}

// SubmitSMSCommand enqueues an ON/OFF text received from the account administrator.
func (e *Engine) SubmitSMSCommand(ctx context.Context, accountID, from, body string) (models.Command, error) {
	action, err := models.ParseAction(body)
	if err != nil {
		return models.Command{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	var out models.Command
	err = e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		if !samePhone(from, u.account.AdminContact) {
			return fmt.Errorf("%w: %q", ErrUnknownContact, from)
		}
		var err error
		out, err = e.enqueueTx(ctx, u.tx, accountID, action, SMSActor(from))
		return err
	})
	if err != nil {
		return models.Command{}, e.declined("sms_command", accountID, err)
	}
	e.log.Infow("command_enqueued", "account_id", accountID, "action", out.Action, "actor", out.Actor)
	return out, nil
}

// samePhone compares numbers ignoring formatting characters.
func samePhone(a, b string) bool {
	digits := func(s string) string {
		return strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, s)
	}
	da, db := digits(a), digits(b)
	return da != "" && da == db
}

// GetCommand returns the current command without transitioning it.
func (e *Engine) GetCommand(ctx context.Context, accountID string) (models.Command, error) {
	var out models.Command
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		out, err = u.tx.Commands.Load(ctx, accountID)
		return err
	})
	if err != nil {
		return models.Command{}, e.declined("command_query", accountID, err)
	}
	return out, nil
}

// PollCommand returns the action owed to the device, marking a pending command delivered.
func (e *Engine) PollCommand(ctx context.Context, accountID string) (models.Action, error) {
	action := models.ActionNone
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		var err error
		action, err = e.deliverTx(ctx, u.tx, accountID)
		return err
	})
	if err != nil {
		return models.ActionNone, e.declined("command_poll", accountID, err)
	}
	return action, nil
}

func (e *Engine) deliverTx(ctx context.Context, tx *repository.Repository, accountID string) (models.Action, error) {
	cur, err := tx.Commands.Load(ctx, accountID)
	if err != nil {
		return models.ActionNone, err
	}
	next, changed := deliverCommand(cur, e.now())
	if changed {
		if err := tx.Commands.Save(ctx, next); err != nil {
			return models.ActionNone, err
		}
	}
	return wireAction(next), nil
}

// AcknowledgeCommand marks the delivered command executed if action matches it.
func (e *Engine) AcknowledgeCommand(ctx context.Context, accountID string, action models.Action) (models.Command, error) {
	var out models.Command
	err := e.withAccount(ctx, accountID, func(ctx context.Context, u *unit) error {
		now := e.now()
		cur, err := u.tx.Commands.Load(ctx, accountID)
		if err != nil {
			return err
		}
		next, err := acknowledgeCommand(cur, action, now)
		if err != nil {
			return err
		}
		if err := u.tx.Commands.Save(ctx, next); err != nil {
			return err
		}
		out = next
		return u.tx.Logs.AppendControl(ctx, models.ControlLog{
			AccountID:  accountID,
			RecordedAt: now,
			Action:     controlAction(action),
			Method:     models.MethodRemote,
			Actor:      next.Actor,
			Details:    fmt.Sprintf("Pump %s executed by device", controlAction(action)),
		})
	})
	if err != nil {
		if errors.Is(err, ErrStaleAck) {
			e.log.Warnw("command_ack_stale", "account_id", accountID, "action", action, "err", err)
			return models.Command{}, err
		}
		return models.Command{}, e.declined("command_ack", accountID, err)
	}
	e.log.Infow("command_executed", "account_id", accountID, "action", action)
	return out, nil
}
