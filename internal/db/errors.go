package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"horse.fit/corpusdedup/internal/store"
)

// SQLSTATE codes that clear up on their own when the statement is retried.
var transientSQLStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"53300": {}, // too_many_connections
	"57P03": {}, // cannot_connect_now
}

// classify tags retryable driver errors with store.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := transientSQLStates[pgErr.Code]; ok {
			return store.MarkTransient(err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return store.MarkTransient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return store.MarkTransient(err)
	}
	return err
}
