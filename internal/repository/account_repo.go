package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aquasync/internal/models"
)

type AccountSQLite struct {
	db DBTX
}

func NewAccountSQLite(db DBTX) *AccountSQLite {
	return &AccountSQLite{db: db}
}

var _ AccountRepo = (*AccountSQLite)(nil)

const (
	insertAccountSQL = `INSERT INTO accounts (account_id, user_id, active, device_name, admin_contact, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	selectAccountSQL = `SELECT account_id, user_id, active, device_name, admin_contact, created_at FROM accounts WHERE account_id = ?`
)

// Create inserts a new account.
func (r *AccountSQLite) Create(ctx context.Context, a models.Account) error {
	if _, err := r.db.ExecContext(ctx, insertAccountSQL,
		a.ID, a.UserID, a.Active, a.DeviceName, a.AdminContact, utcOrNow(a.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert account %q: %w", a.ID, err)
	}
	return nil
}

// Get fetches an account by id. Returns (nil, nil) if not found.
func (r *AccountSQLite) Get(ctx context.Context, accountID string) (*models.Account, error) {
	var a models.Account
	err := r.db.QueryRowContext(ctx, selectAccountSQL, accountID).
		Scan(&a.ID, &a.UserID, &a.Active, &a.DeviceName, &a.AdminContact, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select account %q: %w", accountID, err)
	}
	if err := checkPartition(accountID, a.ID); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

type UserSQLite struct {
	db DBTX
}

func NewUserSQLite(db DBTX) *UserSQLite {
	return &UserSQLite{db: db}
}

var _ UserRepo = (*UserSQLite)(nil)

const (
	insertUserSQL        = `INSERT INTO users (user_id, first_name, last_name, email, password_hash, account_id) VALUES (?, ?, ?, ?, ?, ?)`
	selectUserByEmailSQL = `SELECT user_id, first_name, last_name, email, password_hash, account_id FROM users WHERE email = ?`
)

// Create inserts a new user.
func (r *UserSQLite) Create(ctx context.Context, u models.User) error {
	if _, err := r.db.ExecContext(ctx, insertUserSQL,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, u.AccountID,
	); err != nil {
		return fmt.Errorf("insert user %q: %w", u.Email, err)
	}
	return nil
}

// GetByEmail fetches a user by email. Returns (nil, nil) if not found.
func (r *UserSQLite) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx, selectUserByEmailSQL, email).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user %q: %w", email, err)
	}
	return &u, nil
}
