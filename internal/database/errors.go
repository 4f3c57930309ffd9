package database

import (
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

// IsRetryable reports whether err is a transient infrastructure error worth
// a full replay: dropped or refused connections, and the prepared-statement
// protocol errors a connection-pooling proxy (pgbouncer-style) produces when
// it recycles physical connections between logical sessions.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection exceptions
			return true
		case pqErr.Code == "57P01": // admin_shutdown (pooler restart)
			return true
		case pqErr.Code == "42P05": // duplicate_prepared_statement
			return true
		case pqErr.Code == "26000": // invalid_sql_statement_name
			return true
		}
	}
	return false
}
