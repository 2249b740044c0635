package ftp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"

	"github.com/koustreak/filehop/internal/errs"
)

// FTP reply codes the transport distinguishes.
const (
	codeServiceUnavailable = 421
	codeCannotOpenData     = 425
	codeTransferAborted    = 426
	codeFileBusy           = 450
	codeLocalError         = 451
	codeInsufficientSpace  = 452
	codeNotLoggedIn        = 530
	codeNeedAccount        = 532
	codeFileUnavailable    = 550
	codeBadFileName        = 553
)

// mapError translates an FTP client error into a *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	}

	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch reply.Code {
		case codeNotLoggedIn, codeNeedAccount:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case codeFileUnavailable:
			lower := strings.ToLower(reply.Msg)
			if strings.Contains(lower, "denied") || strings.Contains(lower, "permission") {
				return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
			}
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case codeBadFileName:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case codeServiceUnavailable, codeCannotOpenData, codeTransferAborted,
			codeFileBusy, codeLocalError, codeInsufficientSpace:
			return errs.Wrap(errs.ErrKindTransient, msg, err)
		}
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
}
