// Package transport defines the uniform file-access contract implemented by
// every backend (local filesystem, FTP family, SFTP, HTTP, S3).
//
// Callers depend only on this package and on internal/connect, never on a
// specific variant package.
//
// Usage:
//
//	t, err := connect.Dial(ctx, "sftp://etl@files.example.com/inbox/*.csv", nil)
//	if err != nil { ... }
//	defer t.Close()
//
//	for fs, err := range t.GetFileStreams(ctx) {
//	    if err != nil { ... }
//	    process(fs.Entry, fs.Body)
//	    fs.Body.Close()
//	}
package transport

import (
	"context"
	"io"
	"iter"
	"regexp"

	"github.com/koustreak/filehop/internal/descriptor"
)

// Transport is the single interface all backends implement.
//
// A Transport owns one backend connection and is not safe for concurrent
// use: operations on one instance run strictly one after another. Every
// operation records its outcome, readable through LastError and Err, and
// overwrites whatever the previous operation recorded.
type Transport interface {
	Source

	// Open connects to the backend. It returns nil immediately when the
	// transport is already open, and otherwise retries according to the
	// descriptor (at least twice).
	Open(ctx context.Context) error

	// IsOpened reports whether the backend connection is established.
	IsOpened() bool

	// Close releases the backend connection. It is safe to call repeatedly.
	Close() error

	// GetFileStreams lists the files selected by the descriptor (BasePath,
	// SearchPattern, and recursion unless SearchTopDirectoryOnly) and opens
	// each one. The consumer must close Body before pulling the next element.
	GetFileStreams(ctx context.Context) iter.Seq2[FileStream, error]

	// GetFiles copies every matched file into outputDir and yields the local
	// copies. Remote sources are removed after a successful copy when
	// deleteOnSuccess is set.
	GetFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool, outputDir string, deleteOnSuccess bool) iter.Seq2[FileEntry, error]

	// SendFile uploads r to destPath, creating missing parent directories
	// (or the bucket). r is closed afterwards when closeInput is set and r
	// implements io.Closer.
	SendFile(ctx context.Context, r io.Reader, destPath string, closeInput bool) error

	// RemoveFiles deletes every path, tolerating partial failure.
	RemoveFiles(ctx context.Context, paths []string) error

	// LastError is the text of the last recorded error, "" after success.
	LastError() string

	// Err is the last recorded error, nil after success.
	Err() error

	// Descriptor returns the descriptor this transport was built from.
	Descriptor() *descriptor.Descriptor
}

// Source is the read side of a Transport, enough to drive downloads.
type Source interface {
	// ListFiles lazily enumerates files under folder (BasePath when empty).
	// Entries that do not match pattern are skipped; a nil pattern matches
	// everything. File backends match the entry name, object stores match
	// the full key. Directories are never yielded.
	ListFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool) iter.Seq2[FileEntry, error]

	// GetFileStream opens a read handle on path. The caller must close it.
	GetFileStream(ctx context.Context, path string) (io.ReadCloser, error)

	// RemoveFile deletes path.
	RemoveFile(ctx context.Context, path string) error
}

// Conn is the connection lifecycle shared by all transports.
type Conn interface {
	Open(ctx context.Context) error
	IsOpened() bool
	Close() error
}
