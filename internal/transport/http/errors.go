package http

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"strconv"

	"github.com/koustreak/filehop/internal/errs"
)

// mapStatus translates an HTTP error status into a *errs.Error.
func mapStatus(code int, msg string) error {
	msg = msg + ": " + strconv.Itoa(code) + " " + nethttp.StatusText(code)
	switch {
	case code == nethttp.StatusUnauthorized, code == nethttp.StatusForbidden:
		return errs.New(errs.ErrKindPermissionDenied, msg)
	case code == nethttp.StatusNotFound, code == nethttp.StatusGone:
		return errs.New(errs.ErrKindNotFound, msg)
	case code == nethttp.StatusConflict, code == nethttp.StatusPreconditionFailed:
		return errs.New(errs.ErrKindConflict, msg)
	case code == nethttp.StatusMethodNotAllowed, code == nethttp.StatusNotImplemented:
		return errs.New(errs.ErrKindUnsupported, msg)
	case code == nethttp.StatusRequestTimeout, code == nethttp.StatusGatewayTimeout:
		return errs.New(errs.ErrKindTimeout, msg)
	case code == nethttp.StatusTooManyRequests, code >= 500:
		return errs.New(errs.ErrKindTransient, msg)
	case code >= 400:
		return errs.New(errs.ErrKindInvalidInput, msg)
	}
	return errs.New(errs.ErrKindOperationFailed, msg)
}

// mapError translates a transport-level failure (no response) into a
// *errs.Error.
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
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
