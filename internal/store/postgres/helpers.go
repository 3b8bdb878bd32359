package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"waitline/internal/queue"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateAdminShutdown        = "57P01"
	sqlStateCannotConnectNow     = "57P03"
)

// isConflict reports whether err is a retryable serialization failure.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return true
		}
	}
	return false
}

// isUnavailable reports whether err means the server could not be reached.
func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception.
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		switch pgErr.Code {
		case sqlStateAdminShutdown, sqlStateCannotConnectNow:
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func classify(err error) error {
	if err == nil || queue.KindOf(err) != "" {
		return err
	}
	switch {
	case isConflict(err):
		return queue.Wrap(queue.KindConflict, "", err)
	case isUnavailable(err):
		return queue.Wrap(queue.KindStoreUnavailable, "", err)
	default:
		return err
	}
}
