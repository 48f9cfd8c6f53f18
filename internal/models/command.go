package models

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	ActionOn   Action = "ON"
	ActionOff  Action = "OFF"
	ActionNone Action = "NONE"
)

// ParseAction accepts ON/OFF in any case; NONE is not a valid request.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionOn, ActionOff:
		return a, nil
	default:
		return "", fmt.Errorf("invalid action %q: must be ON or OFF", s)
	}
}

// CommandState is the lifecycle tag of an account's current command.
type CommandState string

const (
	CommandNone      CommandState = "none"
	CommandPending   CommandState = "pending"
	CommandDelivered CommandState = "delivered"
	CommandExecuted  CommandState = "executed"
)

// Command is the single current command of an account.
type Command struct {
	AccountID   string       `json:"account_id"`
	Action      Action       `json:"action"`
	State       CommandState `json:"status"`
	Actor       string       `json:"actor,omitempty"` // e.g. dashboard:<user>, sms:<number>
	CreatedAt   time.Time    `json:"timestamp"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
	ExecutedAt  *time.Time   `json:"executed_at,omitempty"`
}

// Active reports whether the command is still owed to the device.
func (c Command) Active() bool {
	return c.State == CommandPending || c.State == CommandDelivered
}

// IdleCommand is what an account without any command reports.
func IdleCommand(accountID string) Command {
	return Command{AccountID: accountID, Action: ActionNone, State: CommandNone}
}
