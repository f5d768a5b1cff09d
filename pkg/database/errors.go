package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrTxTimeout means the transaction waited too long for a lock or ran past
	// its deadline. Nothing was committed; the request may be resubmitted.
	ErrTxTimeout = errors.New("transaction timed out")
	// ErrTxConflict means the transaction lost a serialization race or a
	// deadlock. Nothing was committed; the request may be resubmitted.
	ErrTxConflict = errors.New("transaction conflict")
)

// postgres SQLSTATE codes
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// Classify tags driver errors that are safe to retry with ErrTxTimeout or
// ErrTxConflict. Other errors are returned untouched.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrTxTimeout) || errors.Is(err, ErrTxConflict) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTxTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%w: %w", ErrTxTimeout, err)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		}
	}

	return err
}

// IsRetryable reports whether err is a timeout or conflict from Classify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTxTimeout) || errors.Is(err, ErrTxConflict)
}

// IsUniqueViolation reports a unique constraint violation, optionally on a
// specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
