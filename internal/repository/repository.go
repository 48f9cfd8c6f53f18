package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aquasync/internal/models"
)

// ErrPartitionMismatch is returned when a row read for one account carries another account's id.
var ErrPartitionMismatch = errors.New("partition mismatch")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type AccountRepo interface {
	Create(ctx context.Context, a models.Account) error
	// Get returns (nil, nil) when the account does not exist.
	Get(ctx context.Context, accountID string) (*models.Account, error)
}

type UserRepo interface {
	Create(ctx context.Context, u models.User) error
	// GetByEmail returns (nil, nil) when no user has that email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type StatusRepo interface {
	Save(ctx context.Context, s models.LiveStatus) error
	// Load returns (nil, nil) before the first report.
	Load(ctx context.Context, accountID string) (*models.LiveStatus, error)
}

type CommandRepo interface {
	Save(ctx context.Context, c models.Command) error
	// Load returns models.IdleCommand when the account never had a command.
	Load(ctx context.Context, accountID string) (models.Command, error)
}

type LogRepo interface {
	AppendSensor(ctx context.Context, l models.SensorLog) error
	AppendPower(ctx context.Context, l models.PowerLog) error
	AppendControl(ctx context.Context, l models.ControlLog) error
	LatestSensor(ctx context.Context, accountID string) (*models.SensorLog, error)
	LatestPower(ctx context.Context, accountID string) (*models.PowerLog, error)
	ListSensor(ctx context.Context, accountID string, from, to time.Time) ([]models.SensorLog, error)
	ListPower(ctx context.Context, accountID string, from, to time.Time) ([]models.PowerLog, error)
	ListControl(ctx context.Context, accountID string, from, to time.Time) ([]models.ControlLog, error)
	// Purge deletes at most batch entries older than before and returns how many went.
	Purge(ctx context.Context, accountID string, cat models.LogCategory, before time.Time, batch int) (int64, error)
}

type ConsumptionRepo interface {
	Upsert(ctx context.Context, r models.ConsumptionRecord) error
	Get(ctx context.Context, accountID string, p models.Period, key string) (*models.ConsumptionRecord, error)
	// Open returns the unsealed records of the account, one per period at most.
	Open(ctx context.Context, accountID string) ([]models.ConsumptionRecord, error)
}

type AlertRepo interface {
	Append(ctx context.Context, a models.Alert) error
	UpdateDelivery(ctx context.Context, a models.Alert) error
	Latest(ctx context.Context, accountID string, cat models.AlertCategory) (*models.Alert, error)
	List(ctx context.Context, accountID string, limit int) ([]models.Alert, error)
}

// Transactor runs fn with repositories bound to one atomic unit of work.
type Transactor interface {
	Atomic(ctx context.Context, fn func(tx *Repository) error) error
}

type Repository struct {
	Accounts    AccountRepo
	Users       UserRepo
	Status      StatusRepo
	Commands    CommandRepo
	Logs        LogRepo
	Consumption ConsumptionRepo
	Alerts      AlertRepo
	Tx          Transactor
}

// NewRepository builds SQL-backed repositories over db.
func NewRepository(db *sql.DB) *Repository {
	r := newRepository(db)
	r.Tx = &sqlTransactor{db: db}
	return r
}

func newRepository(q DBTX) *Repository {
	return &Repository{
		Accounts:    NewAccountSQLite(q),
		Users:       NewUserSQLite(q),
		Status:      NewStatusSQLite(q),
		Commands:    NewCommandSQLite(q),
		Logs:        NewLogSQLite(q),
		Consumption: NewConsumptionSQLite(q),
		Alerts:      NewAlertSQLite(q),
	}
}

type sqlTransactor struct {
	db *sql.DB
}

// Atomic commits everything fn wrote, or nothing if fn or the commit fails.
func (t *sqlTransactor) Atomic(ctx context.Context, fn func(tx *Repository) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback()
	}()

	repo := newRepository(tx)
	repo.Tx = inlineTx{repo: repo}
	if err := fn(repo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// inlineTx joins the surrounding transaction.
type inlineTx struct {
	repo *Repository
}

func (t inlineTx) Atomic(_ context.Context, fn func(tx *Repository) error) error {
	return fn(t.repo)
}

func checkPartition(want, got string) error {
	if want != got {
		return fmt.Errorf("%w: requested %q, row belongs to %q", ErrPartitionMismatch, want, got)
	}
	return nil
}

func utcOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// rangeClause appends optional inclusive time bounds on column.
func rangeClause(column string, from, to time.Time, args []any) (string, []any) {
	var clause string
	if !from.IsZero() {
		clause += " AND " + column + " >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		clause += " AND " + column + " <= ?"
		args = append(args, to.UTC())
	}
	return clause, args
}
