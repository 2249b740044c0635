package local

import (
	"context"
	"errors"
	"io/fs"

	"github.com/koustreak/filehop/internal/errs"
)

// mapError translates a filesystem error into a *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	case errors.Is(err, fs.ErrNotExist):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, fs.ErrPermission):
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	case errors.Is(err, fs.ErrExist):
		return errs.Wrap(errs.ErrKindConflict, msg, err)
	}
	return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
}
