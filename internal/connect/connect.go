// Package connect picks the transport variant for a descriptor.
//
// The variant is chosen once, from the descriptor's scheme, and never
// changes for the lifetime of the returned Transport.
//
// Usage:
//
//	t, err := connect.Dial(ctx, "s3://bucket/incoming/*.csv", nil, connect.WithLogger(log))
//	if err != nil { ... }
//	defer t.Close()
package connect

import (
	"context"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/transport"
	"github.com/koustreak/filehop/internal/transport/ftp"
	"github.com/koustreak/filehop/internal/transport/http"
	"github.com/koustreak/filehop/internal/transport/local"
	"github.com/koustreak/filehop/internal/transport/s3"
	"github.com/koustreak/filehop/internal/transport/sftp"
)

type options struct {
	log *logger.Logger
}

// Option configures New and Dial.
type Option func(*options)

// WithLogger sets the logger the transport writes to. New discards
// everything by default.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// New returns a closed Transport for d.
func New(d *descriptor.Descriptor, opts ...Option) (transport.Transport, error) {
	if d == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "nil descriptor")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.OrNop(o.log)

	switch d.Scheme {
	case descriptor.FileSystem:
		return local.New(d, log), nil
	case descriptor.FTP, descriptor.FTPS, descriptor.FTPES:
		t, err := ftp.New(d, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	case descriptor.SFTP:
		return sftp.New(d, log), nil
	case descriptor.HTTP:
		return http.New(d, log), nil
	case descriptor.ObjectStore:
		return s3.New(d, log), nil
	default:
		return nil, errs.Newf(errs.ErrKindUnsupported, "no transport for scheme %q", d.Scheme)
	}
}

// Dial parses conn, builds the transport and opens it. On failure to open
// the transport is closed and the error returned. Without WithLogger the
// transport logs to the logger carried by ctx (see logger.WithContext).
func Dial(ctx context.Context, conn string, extra map[string]string, opts ...Option) (transport.Transport, error) {
	d, err := descriptor.Parse(conn, extra)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithLogger(logger.FromContext(ctx))}, opts...)
	t, err := New(d, opts...)
	if err != nil {
		return nil, err
	}
	if err := t.Open(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}
