// Package multipart turns an unbounded write stream into fixed-size parts of
// a multipart upload.
//
// Part boundaries depend only on the cumulative number of bytes written, never
// on how the caller slices its writes. Every part except the last has exactly
// the configured size; the tail is sent as the final part on Close.
package multipart

import (
	"context"
	"errors"
	"sync"
)

const (
	MiB = 1 << 20

	// MinPartSize is the smallest part accepted for anything but the last
	// part, with a little headroom over the 5 MiB backend floor.
	MinPartSize = 5*MiB + MiB/10
	// MaxPartSize bounds the memory held by one Writer.
	MaxPartSize = 250 * MiB
	// DefaultPartSize is used when no part size is configured.
	DefaultPartSize = 10 * MiB
)

// ErrClosed is returned by writes after Close or Abort.
var ErrClosed = errors.New("multipart: writer is closed")

// PartUploader is the session a Writer feeds. UploadPart receives parts in
// order and must not retain the slice after it returns.
type PartUploader interface {
	UploadPart(ctx context.Context, part []byte) error
	Finish(ctx context.Context) error
	Abort(ctx context.Context) error
}

// ClampPartSize maps a requested part size into [MinPartSize, MaxPartSize].
// Non-positive sizes select DefaultPartSize.
func ClampPartSize(n int64) int64 {
	switch {
	case n <= 0:
		return DefaultPartSize
	case n < MinPartSize:
		return MinPartSize
	case n > MaxPartSize:
		return MaxPartSize
	default:
		return n
	}
}

// Writer buffers writes and uploads each full buffer as one part.
// It is an io.WriteCloser. Once an upload fails the error is sticky and every
// later call returns it.
type Writer struct {
	ctx  context.Context
	up   PartUploader
	size int

	mu      sync.Mutex
	buf     []byte
	parts   int
	written int64
	err     error
	closed  bool
}

// NewWriter returns a Writer that uploads parts of partSize bytes (clamped)
// through up. ctx bounds every upload the writer issues.
func NewWriter(ctx context.Context, up PartUploader, partSize int64) *Writer {
	return &Writer{
		ctx:  ctx,
		up:   up,
		size: int(ClampPartSize(partSize)),
	}
}

// NewWriterWithBuffer is NewWriter using buf as the part buffer. The bytes
// already in buf are the start of the stream. When buf cannot hold a full
// part it is copied into a fresh buffer instead.
func NewWriterWithBuffer(ctx context.Context, up PartUploader, partSize int64, buf []byte) *Writer {
	w := NewWriter(ctx, up, partSize)
	if cap(buf) < w.size || len(buf) > w.size {
		_, _ = w.Write(buf)
		return w
	}
	w.buf = buf
	w.written = int64(len(buf))
	return w
}

// PartSize is the effective part size after clamping.
func (w *Writer) PartSize() int64 { return int64(w.size) }

// Parts is the number of parts uploaded so far.
func (w *Writer) Parts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parts
}

// Written is the number of bytes accepted so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Write appends p to the buffer. When p would overflow the buffer, the part
// that fits is uploaded first and the remainder continues into the emptied
// buffer.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, ErrClosed
	}
	if w.buf == nil {
		w.buf = make([]byte, 0, w.size)
	}

	n := 0
	for len(p) > 0 {
		chunk := min(w.size-len(w.buf), len(p))
		w.buf = append(w.buf, p[:chunk]...)
		p = p[chunk:]
		n += chunk
		w.written += int64(chunk)

		if len(w.buf) == w.size {
			if err := w.uploadBuffered(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Flush does nothing: parts below the minimum size may only be sent last,
// so data leaves the buffer at part boundaries or on Close.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close uploads the buffered tail as the final part and finishes the
// session. An empty stream still produces one (empty) part so the session
// can be finished. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.err != nil {
		return w.err
	}
	w.closed = true

	if len(w.buf) > 0 || w.parts == 0 {
		if err := w.uploadBuffered(); err != nil {
			return err
		}
	}
	if err := w.up.Finish(w.ctx); err != nil {
		w.err = err
		return err
	}
	w.buf = nil
	return nil
}

// Abort discards buffered data and aborts the session. Later writes return
// ErrClosed, or the sticky error when an upload had already failed.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.buf = nil
	return w.up.Abort(w.ctx)
}

func (w *Writer) uploadBuffered() error {
	if err := w.up.UploadPart(w.ctx, w.buf); err != nil {
		w.err = err
		return err
	}
	w.parts++
	w.buf = w.buf[:0]
	return nil
}
