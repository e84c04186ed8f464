package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gocloud.dev/blob/memblob"
)

func testStores(t *testing.T) map[string]struct {
	store Store
	root  string
} {
	return map[string]struct {
		store Store
		root  string
	}{
		"local":  {NewLocalStore(), t.TempDir()},
		"bucket": {NewBucketStore("mem://", memblob.OpenBucket(nil)), "data"},
	}
}

func TestWriteRead(t *testing.T) {
	ctx := context.Background()
	for kind, tc := range testStores(t) {
		s, root := tc.store, tc.root
		name := filepath.Join(root, "sub", "vol_JPG80.jpgs")
		if Exists(ctx, s, name) {
			t.Fatalf("%s: artifact exists before write", kind)
		}
		if err := WriteAll(ctx, s, name, []byte("0123456789")); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		data, err := ReadAll(ctx, s, name)
		if err != nil || string(data) != "0123456789" {
			t.Fatalf("%s: read back %q, %v", kind, data, err)
		}
		size, err := s.Size(ctx, name)
		if err != nil || size != 10 {
			t.Errorf("%s: expected size 10, got %d, %v", kind, size, err)
		}
		ra, err := s.ReaderAt(ctx, name)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		buf := make([]byte, 3)
		if n, err := ra.ReadAt(buf, 4); n != 3 || err != nil || string(buf) != "456" {
			t.Errorf("%s: ReadAt got %q, %d, %v", kind, buf, n, err)
		}
		if n, err := ra.ReadAt(buf, 8); n != 2 || err != io.EOF {
			t.Errorf("%s: ReadAt past end got %d, %v", kind, n, err)
		}
		ra.Close()

		isDir, err := s.IsDir(ctx, filepath.Join(root, "sub"))
		if err != nil || !isDir {
			t.Errorf("%s: expected directory, got %t, %v", kind, isDir, err)
		}
		if isDir, _ := s.IsDir(ctx, name); isDir {
			t.Errorf("%s: artifact reported as directory", kind)
		}
	}
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	for kind, tc := range testStores(t) {
		name := filepath.Join(tc.root, "aborted.jpgs")
		w, err := tc.store.Writer(ctx, name)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		w.Write([]byte("partial"))
		w.Abort()
		w.Abort()
		if Exists(ctx, tc.store, name) {
			t.Errorf("%s: aborted artifact is visible", kind)
		}
		if _, err := tc.store.Size(ctx, name); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: expected not exist error, got %v", kind, err)
		}
		if _, err := tc.store.Reader(ctx, name); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: expected not exist error from reader, got %v", kind, err)
		}
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	for kind, tc := range testStores(t) {
		name := filepath.Join(tc.root, "gone.jpgs")
		if err := WriteAll(ctx, tc.store, name, []byte("x")); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if err := tc.store.Remove(ctx, name); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if Exists(ctx, tc.store, name) {
			t.Errorf("%s: removed artifact is visible", kind)
		}
		if err := tc.store.Remove(ctx, name); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: expected not exist error removing twice, got %v", kind, err)
		}
	}
}

func TestGlob(t *testing.T) {
	ctx := context.Background()
	for kind, tc := range testStores(t) {
		names := []string{"a[1]_JPG80.jpgs", "a[1]_JPG80_header.msgp", "b.jpgs", "b.mrc"}
		for _, n := range names {
			if err := WriteAll(ctx, tc.store, filepath.Join(tc.root, n), []byte("x")); err != nil {
				t.Fatalf("%s: %v", kind, err)
			}
		}
		got, err := tc.store.Glob(ctx, filepath.Join(tc.root, "*.jpgs"))
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		expected := []string{filepath.Join(tc.root, "a[1]_JPG80.jpgs"), filepath.Join(tc.root, "b.jpgs")}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("%s: expected %v, got %v", kind, expected, got)
		}
		pattern := filepath.Join(EscapeGlob(tc.root), EscapeGlob("a[1]_JPG80")+"*_header.msgp")
		got, err = tc.store.Glob(ctx, pattern)
		if err != nil || len(got) != 1 {
			t.Errorf("%s: escaped glob got %v, %v", kind, got, err)
		}
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := EscapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Errorf("bad escape: %s", got)
	}
}
