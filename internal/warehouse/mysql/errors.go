package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/filehop/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errAccessDenied      = 1045
	errUnknownDatabase   = 1049
	errBadFieldError     = 1054
	errDuplicateEntry    = 1062
	errTableAccessDenied = 1142
	errNoSuchTable       = 1146
	errLocalInfileOff    = 1148
	errLockWaitTimeout   = 1205
	errDeadlock          = 1213
	errTruncatedField    = 1265
	errConnRefused       = 2003
	errLoadLocalDisabled = 3948
)

// mapError converts a MySQL driver error into an errs kind.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		msg += ": " + mysqlErr.Message
		switch mysqlErr.Number {
		case errDuplicateEntry:
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case errAccessDenied, errTableAccessDenied:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case errConnRefused, errUnknownDatabase:
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		case errBadFieldError, errNoSuchTable, errTruncatedField:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case errLocalInfileOff, errLoadLocalDisabled:
			return errs.Wrap(errs.ErrKindUnsupported, msg, err)
		case errLockWaitTimeout, errDeadlock:
			return errs.Wrap(errs.ErrKindTransient, msg, err)
		}
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	}

	if errors.Is(err, gomysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) {
		return errs.Wrap(errs.ErrKindTransient, msg, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
}
