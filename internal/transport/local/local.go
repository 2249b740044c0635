// Package local implements transport.Transport on the local filesystem.
//
// Uploads are written to a uniquely named sibling file and renamed into
// place, so readers never observe a half-written destination.
package local

import (
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/koustreak/filehop/internal/descriptor"
	"github.com/koustreak/filehop/internal/errs"
	"github.com/koustreak/filehop/internal/logger"
	"github.com/koustreak/filehop/internal/transport"
)

// Transport reads and writes files under the descriptor's BasePath.
type Transport struct {
	transport.Base
	opened bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns a closed Transport for d.
func New(d *descriptor.Descriptor, log *logger.Logger) *Transport {
	return &Transport{Base: transport.NewBase(d, log)}
}

// Open checks that the base directory, when it exists, is a directory.
// A missing base directory is fine: SendFile creates it on demand.
func (t *Transport) Open(ctx context.Context) error {
	return t.Base.Open(ctx, t.opened, func(context.Context) error {
		fi, err := os.Stat(t.D.BasePath)
		switch {
		case err == nil && !fi.IsDir():
			return errs.Newf(errs.ErrKindInvalidInput, "%s is not a directory", t.D.BasePath)
		case err != nil && !os.IsNotExist(err):
			return mapError(err, "failed to stat base directory")
		}
		t.opened = true
		return nil
	})
}

// IsOpened reports whether Open succeeded and Close has not been called.
func (t *Transport) IsOpened() bool { return t.opened }

// Close marks the transport closed. There is nothing to release.
func (t *Transport) Close() error {
	t.opened = false
	return nil
}

// ListFiles walks folder depth-first.
func (t *Transport) ListFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool) iter.Seq2[transport.FileEntry, error] {
	root := t.Folder(folder)
	return t.Listing(transport.Walk(ctx, root, readDir, transport.WalkOptions{
		Pattern:   pattern,
		Recursive: recursive,
	}))
}

func readDir(_ context.Context, dir string) ([]transport.FileEntry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, mapError(err, "failed to read directory "+dir)
	}
	entries := make([]transport.FileEntry, 0, len(des))
	for _, de := range des {
		fi, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, transport.EntryFromInfo(transport.JoinPath(dir, de.Name()), fi))
	}
	return entries, nil
}

// GetFileStream opens path for reading.
func (t *Transport) GetFileStream(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, t.Record(mapError(err, "failed to open "+path))
	}
	t.Record(nil)
	return f, nil
}

// GetFileStreams opens every file the descriptor selects.
func (t *Transport) GetFileStreams(ctx context.Context) iter.Seq2[transport.FileStream, error] {
	return t.Streams(ctx, t)
}

// GetFiles copies matched files into outputDir, moving on past failures.
func (t *Transport) GetFiles(ctx context.Context, folder string, pattern *regexp.Regexp, recursive bool, outputDir string, deleteOnSuccess bool) iter.Seq2[transport.FileEntry, error] {
	return t.Download(ctx, t, t.ListFiles(ctx, folder, pattern, recursive), outputDir, deleteOnSuccess)
}

// SendFile writes r to destPath through a temporary sibling file.
func (t *Transport) SendFile(ctx context.Context, r io.Reader, destPath string, closeInput bool) error {
	dest := t.Target(destPath)
	return t.Send(ctx, t, r, closeInput, func(ctx context.Context, r io.Reader) error {
		return writeAtomic(ctx, dest, r)
	})
}

func writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return mapError(err, "failed to create parent directory")
	}

	tmp := dest + "." + uuid.NewString() + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return mapError(err, "failed to create "+tmp)
	}

	_, err = transport.CopyChunked(ctx, f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return mapError(err, "failed to write "+dest)
	}
	return nil
}

// RemoveFile deletes path.
func (t *Transport) RemoveFile(ctx context.Context, path string) error {
	return t.Reconnecting(ctx, "remove", t, func(context.Context) error {
		return mapError(os.Remove(path), "failed to remove "+path)
	})
}

// RemoveFiles deletes every path and reports all failures together.
func (t *Transport) RemoveFiles(ctx context.Context, paths []string) error {
	var err error
	for _, p := range paths {
		err = multierr.Append(err, t.RemoveFile(ctx, p))
	}
	return t.Record(err)
}
