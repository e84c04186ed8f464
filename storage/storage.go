/*
	Package storage reads and writes the artifacts of a conversion: volumes, slice
	containers, and header sidecars.  A Store is either the local filesystem or a
	gocloud.dev blob bucket addressed by URL (file://, mem://, gs://, s3://).

	Writers are atomic: nothing is visible under the final name until Close succeeds,
	and Abort discards everything written.
*/
package storage

import (
	"context"
	"io"
	"strings"
)

// Writer is an artifact being written.  Close commits it under its final name.
type Writer interface {
	io.Writer

	// Close commits the artifact.  Errors mean nothing was committed.
	Close() error

	// Abort discards the artifact.  It is safe to call after Close.
	Abort()
}

// ReaderAt gives random access to a stored artifact of known size.
type ReaderAt interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Store is a place artifacts are read from and written to.  Names use forward
// slashes.  Missing artifacts give errors matching os.ErrNotExist.
type Store interface {
	// Reader opens an artifact for sequential reading.
	Reader(ctx context.Context, name string) (io.ReadCloser, error)

	// ReaderAt opens an artifact for random access.
	ReaderAt(ctx context.Context, name string) (ReaderAt, error)

	// Writer creates or replaces an artifact, creating any parent directories.
	Writer(ctx context.Context, name string) (Writer, error)

	// Remove deletes an artifact.  Missing artifacts give errors matching os.ErrNotExist.
	Remove(ctx context.Context, name string) error

	// Size returns the byte size of an artifact.
	Size(ctx context.Context, name string) (int64, error)

	// IsDir returns true if name is a directory or a bucket prefix holding artifacts.
	IsDir(ctx context.Context, name string) (bool, error)

	// Glob returns the sorted names matching a path.Match pattern.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// Close releases the store.
	Close() error

	String() string
}

// Open returns a Store for a bucket URL, or the local filesystem if url is empty.
func Open(ctx context.Context, url string) (Store, error) {
	if url == "" {
		return NewLocalStore(), nil
	}
	return OpenBucketStore(ctx, url)
}

// ReadAll reads a whole artifact.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	r, err := s.Reader(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteAll atomically writes a whole artifact.
func WriteAll(ctx context.Context, s Store, name string, data []byte) error {
	w, err := s.Writer(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// Exists returns true if the named artifact exists and is not a directory.
func Exists(ctx context.Context, s Store, name string) bool {
	_, err := s.Size(ctx, name)
	return err == nil
}

// EscapeGlob escapes pattern metacharacters so name matches only itself.
func EscapeGlob(name string) string {
	var sb strings.Builder
	for _, c := range name {
		switch c {
		case '*', '?', '[', ']', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
