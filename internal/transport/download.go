package transport

import (
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/koustreak/filehop/internal/errs"
)

// ChunkSize is the buffer size used for byte-for-byte copies.
const ChunkSize = 64 << 10

// CopyChunked copies src to dst through a fixed ChunkSize buffer and returns
// the number of bytes written.
func CopyChunked(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// Download copies every entry of entries from src into outputDir. A failed
// file has its partial local copy removed; the sequence then either moves
// on or ends, depending on StopOnFirstError. Remote files are removed after
// a successful copy when deleteOnSuccess is set.
func (b *Base) Download(ctx context.Context, src Source, entries iter.Seq2[FileEntry, error], outputDir string, deleteOnSuccess bool) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			err = errs.Wrap(errs.ErrKindOperationFailed, "failed to create output directory", err)
			b.Record(err)
			if b.D.ThrowOnError {
				yield(FileEntry{}, err)
			}
			return
		}

		for e, err := range entries {
			if err != nil {
				yield(FileEntry{}, err)
				return
			}

			local, err := b.fetch(ctx, src, e, outputDir)
			if err != nil {
				b.Record(err)
				b.Log.With().Str("path", e.Path).Err(err).Logger().Warn("download failed")
				if b.D.ThrowOnError && !yield(FileEntry{}, err) {
					return
				}
				if b.StopOnFirstError {
					return
				}
				continue
			}

			b.Record(nil)
			if deleteOnSuccess {
				if err := src.RemoveFile(ctx, e.Path); err != nil {
					b.Log.With().Str("path", e.Path).Err(err).Logger().Warn("failed to remove source after download")
				}
			}
			if !yield(local, nil) {
				return
			}
		}
	}
}

func (b *Base) fetch(ctx context.Context, src Source, e FileEntry, outputDir string) (FileEntry, error) {
	body, err := src.GetFileStream(ctx, e.Path)
	if err != nil {
		return FileEntry{}, err
	}
	defer b.CloseQuietly(body, "remote stream")

	target := filepath.Join(outputDir, e.Name)
	f, err := os.Create(target)
	if err != nil {
		return FileEntry{}, errs.Wrap(errs.ErrKindOperationFailed, "failed to create local file", err)
	}

	_, copyErr := CopyChunked(ctx, f, body)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(target)
		return FileEntry{}, errs.Wrap(errs.ErrKindOperationFailed, "failed to copy "+e.Path, copyErr)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return FileEntry{}, errs.Wrap(errs.ErrKindOperationFailed, "failed to stat local file", err)
	}
	local := EntryFromInfo(target, fi)
	if !e.CreatedAt.IsZero() {
		local.CreatedAt = e.CreatedAt
	}
	return local, nil
}

// Streams opens every file the descriptor selects. A file that cannot be
// opened is recorded and skipped, or yielded as an error under ThrowOnError.
func (b *Base) Streams(ctx context.Context, src Source) iter.Seq2[FileStream, error] {
	return func(yield func(FileStream, error) bool) {
		d := b.D
		for e, err := range src.ListFiles(ctx, "", d.SearchPattern, !d.SearchTopDirectoryOnly) {
			if err != nil {
				yield(FileStream{}, err)
				return
			}
			body, err := src.GetFileStream(ctx, e.Path)
			if err != nil {
				b.Record(err)
				b.Log.With().Str("path", e.Path).Err(err).Logger().Warn("failed to open stream")
				if d.ThrowOnError && !yield(FileStream{Entry: e}, err) {
					return
				}
				continue
			}
			if !yield(FileStream{Entry: e, Body: body}, nil) {
				return
			}
		}
	}
}
