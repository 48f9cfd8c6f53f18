package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aquasync/internal/models"
)

type CommandSQLite struct {
	db DBTX
}

func NewCommandSQLite(db DBTX) *CommandSQLite {
	return &CommandSQLite{db: db}
}

var _ CommandRepo = (*CommandSQLite)(nil)

const (
	upsertCommandSQL = `
		INSERT INTO commands (account_id, action, status, actor, created_at, delivered_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			action=excluded.action,
			status=excluded.status,
			actor=excluded.actor,
			created_at=excluded.created_at,
			delivered_at=excluded.delivered_at,
			executed_at=excluded.executed_at
	`

	selectCommandSQL = `
		SELECT account_id, action, status, actor, created_at, delivered_at, executed_at
		FROM commands WHERE account_id = ?
	`
)

// Save replaces the account's current command.
func (r *CommandSQLite) Save(ctx context.Context, c models.Command) error {
	if c.AccountID == "" {
		return errors.New("save command: empty account id")
	}
	_, err := r.db.ExecContext(ctx, upsertCommandSQL,
		c.AccountID,
		string(c.Action),
		string(c.State),
		c.Actor,
		utcOrNow(c.CreatedAt),
		nullTime(c.DeliveredAt),
		nullTime(c.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert command %q: %w", c.AccountID, err)
	}
	return nil
}

// Load fetches the current command, or the idle command if none was ever issued.
func (r *CommandSQLite) Load(ctx context.Context, accountID string) (models.Command, error) {
	var (
		c                   models.Command
		action, state       string
		delivered, executed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectCommandSQL, accountID).
		Scan(&c.AccountID, &action, &state, &c.Actor, &c.CreatedAt, &delivered, &executed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.IdleCommand(accountID), nil
		}
		return models.Command{}, fmt.Errorf("select command %q: %w", accountID, err)
	}
	if err := checkPartition(accountID, c.AccountID); err != nil {
		return models.Command{}, err
	}
	c.Action = models.Action(action)
	c.State = models.CommandState(state)
	c.CreatedAt = c.CreatedAt.UTC()
	c.DeliveredAt = timePtr(delivered)
	c.ExecutedAt = timePtr(executed)
	return c, nil
}
