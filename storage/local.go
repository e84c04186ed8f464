package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// LocalStore keeps artifacts on the local filesystem.
type LocalStore struct{}

// NewLocalStore returns a store on the local filesystem.
func NewLocalStore() LocalStore {
	return LocalStore{}
}

func (LocalStore) String() string {
	return "local filesystem"
}

func (LocalStore) Reader(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(name)
}

type localReaderAt struct {
	*os.File
	size int64
}

func (r localReaderAt) Size() int64 {
	return r.size
}

func (LocalStore) ReaderAt(ctx context.Context, name string) (ReaderAt, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return localReaderAt{f, fi.Size()}, nil
}

// localWriter writes into a temporary file in the destination directory and
// renames it on Close.
type localWriter struct {
	f    *os.File
	name string
	done bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *localWriter) Close() error {
	if w.done {
		return fmt.Errorf("artifact %q already closed", w.name)
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	if err := os.Rename(w.f.Name(), w.name); err != nil {
		os.Remove(w.f.Name())
		return err
	}
	return nil
}

func (w *localWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.f.Close()
	os.Remove(w.f.Name())
}

func (LocalStore) Writer(ctx context.Context, name string) (Writer, error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create output directory %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("cannot create %q: %w", name, err)
	}
	return &localWriter{f: f, name: name}, nil
}

func (LocalStore) Remove(ctx context.Context, name string) error {
	return os.Remove(name)
}

func (LocalStore) Size(ctx context.Context, name string) (int64, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%q is a directory", name)
	}
	return fi.Size(), nil
}

func (LocalStore) IsDir(ctx context.Context, name string) (bool, error) {
	fi, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (LocalStore) Glob(ctx context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (LocalStore) Close() error {
	return nil
}
