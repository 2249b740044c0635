package transport

import (
	"io"
	"io/fs"
	"strings"
	"time"
)

// FileEntry describes a single file on a backend or on local disk.
type FileEntry struct {
	// Name is the last path element (e.g. "file1.csv").
	Name string

	// Path is the full backend path, usable with GetFileStream and
	// RemoveFile. For object stores it is the key.
	Path string

	// Size is the byte size. -1 if unknown.
	Size int64

	// CreatedAt equals ModifiedAt on backends that do not expose a creation
	// time.
	CreatedAt  time.Time
	ModifiedAt time.Time

	IsDir bool
}

// FileStream is one element of GetFileStreams.
// The consumer MUST close Body.
type FileStream struct {
	Entry FileEntry
	Body  io.ReadCloser
}

// EntryFromInfo builds a FileEntry for path from fs.FileInfo.
func EntryFromInfo(path string, fi fs.FileInfo) FileEntry {
	return FileEntry{
		Name:       fi.Name(),
		Path:       path,
		Size:       fi.Size(),
		CreatedAt:  fi.ModTime(),
		ModifiedAt: fi.ModTime(),
		IsDir:      fi.IsDir(),
	}
}

// JoinPath appends name to dir with exactly one slash between them.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(name, "/")
}

// BaseName returns the last slash-separated element of p.
func BaseName(p string) string {
	p = strings.TrimSuffix(p, "/")
	return p[strings.LastIndex(p, "/")+1:]
}

// ParentDir returns everything up to and including the last slash of p, or
// "" when p has no directory part.
func ParentDir(p string) string {
	return p[:strings.LastIndex(p, "/")+1]
}
