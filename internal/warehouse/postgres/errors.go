package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/filehop/internal/errs"
)

// SQLSTATE codes and classes the loader distinguishes.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection     = "08"
	pgClassDataException  = "22"
	pgClassIntegrity      = "23"
	pgClassInvalidAuth    = "28"
	pgClassResources      = "53"
	pgErrInsufficientPriv = "42501"
	pgErrSyntaxError      = "42601"
	pgErrUndefinedTable   = "42P01"
	pgErrUndefinedColumn  = "42703"
	pgErrUndefinedSchema  = "3F000"
	pgErrSerialization    = "40001"
	pgErrDeadlock         = "40P01"
	pgErrQueryCanceled    = "57014"
	pgErrAdminShutdown    = "57P01"
)

// mapError converts a pgx error into an errs kind.
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

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(kindForCode(pgErr.Code), msg+": "+pgErr.Message, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	if pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if pgconn.SafeToRetry(err) {
		return errs.Wrap(errs.ErrKindTransient, msg, err)
	}
	return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
}

func kindForCode(code string) errs.ErrKind {
	switch code {
	case pgErrInsufficientPriv:
		return errs.ErrKindPermissionDenied
	case pgErrSyntaxError, pgErrUndefinedTable, pgErrUndefinedColumn, pgErrUndefinedSchema:
		return errs.ErrKindInvalidInput
	case pgErrSerialization, pgErrDeadlock, pgErrAdminShutdown:
		return errs.ErrKindTransient
	case pgErrQueryCanceled:
		return errs.ErrKindTimeout
	}
	switch {
	case strings.HasPrefix(code, pgClassConnection):
		return errs.ErrKindConnectionFailed
	case strings.HasPrefix(code, pgClassInvalidAuth):
		return errs.ErrKindPermissionDenied
	case strings.HasPrefix(code, pgClassDataException):
		return errs.ErrKindInvalidInput
	case strings.HasPrefix(code, pgClassIntegrity):
		return errs.ErrKindConflict
	case strings.HasPrefix(code, pgClassResources):
		return errs.ErrKindTransient
	}
	return errs.ErrKindOperationFailed
}
