package service

import (
	"context"
	"errors"
	"fmt"
)

// Business outcomes. These are declined operations, never process failures.
var (
	ErrUnknownAccount   = errors.New("unknown or inactive account")
	ErrStaleAck         = errors.New("acknowledgment does not match the delivered command")
	ErrInvalidAction    = errors.New("invalid action")
	ErrInvalidPeriod    = errors.New("invalid consumption period")
	ErrInvalidCategory  = errors.New("invalid log category")
	ErrInvalidTimeRange = errors.New("invalid time range: from must be <= to")
	ErrUnknownContact   = errors.New("sender is not the account administrator")
)

// Infrastructure outcomes. The caller should retry the whole request.
var (
	ErrStoreTimeout     = errors.New("store timeout")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Auth outcomes.
var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrEmailTaken       = errors.New("email already registered")
	ErrInvalidOwnerCode = errors.New("invalid owner code")
	ErrInvalidSignUp    = errors.New("invalid sign-up request")
)

func isBusinessErr(err error) bool {
	for _, target := range []error{
		ErrUnknownAccount, ErrStaleAck, ErrInvalidAction, ErrInvalidPeriod, ErrInvalidCategory,
		ErrInvalidTimeRange, ErrInvalidPassword, ErrUserNotFound, ErrEmailTaken, ErrInvalidOwnerCode,
		ErrInvalidSignUp, ErrUnknownContact,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classifyStoreErr maps a failure of an atomic unit of work onto the error taxonomy.
// Business errors raised inside the unit pass through untouched.
func classifyStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isBusinessErr(err):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// IsRetryable reports whether the caller should retry the whole request later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreTimeout) || errors.Is(err, ErrStoreUnavailable)
}
