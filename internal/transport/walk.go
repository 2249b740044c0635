package transport

import (
	"context"
	"iter"
	"regexp"
)

// ReadDirFunc returns the direct children of dir with Path already set.
type ReadDirFunc func(ctx context.Context, dir string) ([]FileEntry, error)

// WalkOptions controls Walk.
type WalkOptions struct {
	// Pattern filters entries by Name. nil matches everything.
	Pattern *regexp.Regexp

	Recursive bool

	// IncludeDirs yields matching directories as well as files.
	IncludeDirs bool
}

// Walk lazily enumerates root depth-first. Each directory is read only when
// the consumer pulls past the entries before it, and stopping early stops
// the walk. The pseudo-entries "." and ".." are skipped.
func Walk(ctx context.Context, root string, readDir ReadDirFunc, opts WalkOptions) iter.Seq2[FileEntry, error] {
	return func(yield func(FileEntry, error) bool) {
		walkDir(ctx, root, readDir, opts, yield)
	}
}

func walkDir(ctx context.Context, dir string, readDir ReadDirFunc, opts WalkOptions, yield func(FileEntry, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(FileEntry{}, err)
		return false
	}
	entries, err := readDir(ctx, dir)
	if err != nil {
		yield(FileEntry{}, err)
		return false
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		matched := opts.Pattern == nil || opts.Pattern.MatchString(e.Name)
		if e.IsDir {
			if opts.IncludeDirs && matched && !yield(e, nil) {
				return false
			}
			if opts.Recursive && !walkDir(ctx, e.Path, readDir, opts, yield) {
				return false
			}
			continue
		}
		if matched && !yield(e, nil) {
			return false
		}
	}
	return true
}
