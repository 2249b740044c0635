package transport

import (
	"context"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/retry"
)

// State holds the outcome of the last operation.
type State struct {
	mu  sync.Mutex
	err error
}

// Record stores err as the last outcome (nil clears it) and returns it.
func (s *State) Record(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	return err
}

// Err returns the last recorded error.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastError returns the text of the last recorded error.
func (s *State) LastError() string {
	if err := s.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Base carries what every variant shares: the descriptor, a scoped logger
// and the last-operation state. Variants embed it.
type Base struct {
	D   *descriptor.Descriptor
	Log *logger.Logger

	// StopOnFirstError ends GetFiles at the first per-file failure instead
	// of moving on to the next file.
	StopOnFirstError bool

	State
}

// NewBase returns a Base whose logger is tagged with the descriptor's
// scheme and host.
func NewBase(d *descriptor.Descriptor, log *logger.Logger) Base {
	return Base{
		D: d,
		Log: logger.OrNop(log).With().
			Str("scheme", string(d.Scheme)).
			Str("host", d.Host).
			Logger(),
	}
}

// Descriptor returns the descriptor the transport was built from.
func (b *Base) Descriptor() *descriptor.Descriptor { return b.D }

// Folder maps an empty folder argument to the descriptor's BasePath.
func (b *Base) Folder(folder string) string {
	if folder == "" {
		return b.D.BasePath
	}
	return folder
}

// Target resolves a destination: a bare file name lands under BasePath,
// anything with a directory part is used as given.
func (b *Base) Target(dest string) string {
	if !strings.Contains(dest, "/") {
		return b.D.Join(dest)
	}
	return dest
}

// Retry returns the connection-tier policy, logging each failed attempt.
func (b *Base) Retry(op string) retry.Policy {
	return retry.FromDescriptor(b.D).WithNotify(b.notify(op))
}

// CallRetry returns the call-tier policy for single remote calls such as a
// listing page or an ACL read.
func (b *Base) CallRetry(op string) retry.Policy {
	return retry.Call().WithNotify(b.notify(op))
}

func (b *Base) notify(op string) func(int, error, time.Duration) {
	return func(attempt int, err error, next time.Duration) {
		b.Log.With().
			Str("op", op).
			Int("attempt", attempt).
			Str("retry_in", next.String()).
			Err(err).
			Logger().
			Warn("attempt failed, retrying")
	}
}

// Open runs dial under the open policy unless the connection is already up.
func (b *Base) Open(ctx context.Context, opened bool, dial func(ctx context.Context) error) error {
	if opened {
		return b.Record(nil)
	}
	p := retry.ForOpen(b.D).WithNotify(b.notify("open"))
	if err := p.Do(ctx, dial); err != nil {
		b.Log.WarnErr("open failed", err)
		return b.Record(err)
	}
	b.Log.Debug("connection opened")
	return b.Record(nil)
}

// Reconnecting runs op under the connection-tier policy. Before every retry
// the connection is closed and reopened, so no state from a failed attempt
// is reused.
func (b *Base) Reconnecting(ctx context.Context, op string, c Conn, fn func(ctx context.Context) error) error {
	return b.Record(b.reconnecting(ctx, b.Retry(op), c, fn))
}

func (b *Base) reconnecting(ctx context.Context, p retry.Policy, c Conn, fn func(ctx context.Context) error) error {
	attempt := 0
	return p.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			_ = c.Close()
		}
		if !c.IsOpened() {
			if err := c.Open(ctx); err != nil {
				return err
			}
		}
		return fn(ctx)
	})
}

// Send runs send under Reconnecting. A seekable input is rewound to its
// starting offset before every retry; any other input gets a single attempt.
func (b *Base) Send(ctx context.Context, c Conn, r io.Reader, closeInput bool, send func(ctx context.Context, r io.Reader) error) error {
	if closeInput {
		if rc, ok := r.(io.Closer); ok {
			defer rc.Close()
		}
	}

	p := b.Retry("send")
	rewind, ok := rewinder(r)
	if !ok {
		p.Attempts = 1
	}

	attempt := 0
	err := b.reconnecting(ctx, p, c, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if err := rewind(); err != nil {
				return errs.Wrap(errs.ErrKindOperationFailed, "failed to rewind input", err)
			}
		}
		return send(ctx, r)
	})
	return b.Record(err)
}

func rewinder(r io.Reader) (func() error, bool) {
	s, ok := r.(io.Seeker)
	if !ok {
		return nil, false
	}
	off, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, false
	}
	return func() error {
		_, err := s.Seek(off, io.SeekStart)
		return err
	}, true
}

// Listing applies the error policy of lazy sequences: the error is always
// recorded, and is yielded only when the descriptor asks for ThrowOnError.
// Otherwise the sequence just ends.
func (b *Base) Listing(seq iter.Seq2[FileEntry, error]) iter.Seq2[FileEntry, error] {
	return guard(b, seq)
}

func guard[T any](b *Base, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		b.Record(nil)
		for v, err := range seq {
			if err != nil {
				b.Record(err)
				b.Log.WarnErr("listing stopped", err)
				if b.D.ThrowOnError {
					var zero T
					yield(zero, err)
				}
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// CloseQuietly closes c and logs a failure instead of returning it.
func (b *Base) CloseQuietly(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		b.Log.WarnErr("failed to close "+what, err)
	}
}
