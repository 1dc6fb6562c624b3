package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/snowflakedb/gosnowflake"
)

// Snowflake error numbers that mean the session behind the handle is gone.
const (
	sfSessionGone    = 390111
	sfSessionExpired = 390112
	sfTokenExpired   = 390114
)

// QueryError is returned when the warehouse rejects a statement or the
// connection is unusable. Connection is set for connection-class failures,
// which are the ones that make the manager discard its handle. Query is the
// statement that failed, empty when no connection could be opened.
type QueryError struct {
	Query      string
	Err        error
	Connection bool
}

func (e *QueryError) Error() string {
	if e.Connection {
		return fmt.Sprintf("warehouse connection failed: %v", e.Err)
	}
	return fmt.Sprintf("warehouse query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a connection-class QueryError.
func IsConnectionError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Connection
}

func newQueryError(sqlText string, err error) *QueryError {
	return &QueryError{Query: sqlText, Err: err, Connection: isConnErr(err)}
}

// isConnErr classifies a driver error. Anything that isn't recognisably a
// broken connection or session is treated as a statement error.
func isConnErr(err error) bool {
	// context errors also satisfy net.Error; a slow query isn't a dead connection.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Postgres SQLSTATE class 08 is "connection exception".
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01"
	}

	var sfErr *gosnowflake.SnowflakeError
	if errors.As(err, &sfErr) {
		switch sfErr.Number {
		case sfSessionGone, sfSessionExpired, sfTokenExpired:
			return true
		}
	}

	return false
}
