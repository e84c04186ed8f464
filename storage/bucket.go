package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/jpgstack/tomo"
)

// BucketStore keeps artifacts in a gocloud.dev blob bucket.
type BucketStore struct {
	ref    string
	bucket *blob.Bucket
}

// OpenBucketStore opens a bucket URL such as gs://my-bucket or mem://.
func OpenBucketStore(ctx context.Context, url string) (*BucketStore, error) {
	tomo.Infof("Opening bucket store @ %q ...\n", url)
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("can't open bucket @ %q: %v", url, err)
	}
	return &BucketStore{ref: url, bucket: bucket}, nil
}

// NewBucketStore wraps an already opened bucket.
func NewBucketStore(ref string, bucket *blob.Bucket) *BucketStore {
	return &BucketStore{ref: ref, bucket: bucket}
}

func (s *BucketStore) String() string {
	return fmt.Sprintf("bucket @ %s", s.ref)
}

// key strips leading slashes and "./" so local-looking names work as object keys.
func key(name string) string {
	k := path.Clean(strings.TrimLeft(name, "/"))
	if k == "." {
		return ""
	}
	return k
}

func (s *BucketStore) wrapError(name string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s in %s: %w", name, s, os.ErrNotExist)
	}
	return err
}

func (s *BucketStore) Reader(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key(name), nil)
	if err != nil {
		return nil, s.wrapError(name, err)
	}
	return r, nil
}

type bucketReaderAt struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	size   int64
}

func (r *bucketReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	timedLog := tomo.NewTimeLog()
	rr, err := r.bucket.NewRangeReader(r.ctx, r.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, err
	}
	defer rr.Close()
	n, err := io.ReadFull(rr, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	timedLog.Debugf("Range read of object %q, offset %d, size %d", r.key, off, len(p))
	return n, err
}

func (r *bucketReaderAt) Size() int64 {
	return r.size
}

func (r *bucketReaderAt) Close() error {
	return nil
}

func (s *BucketStore) ReaderAt(ctx context.Context, name string) (ReaderAt, error) {
	size, err := s.Size(ctx, name)
	if err != nil {
		return nil, err
	}
	return &bucketReaderAt{ctx: ctx, bucket: s.bucket, key: key(name), size: size}, nil
}

// bucketWriter commits on Close.  Canceling its context before Close discards
// the object.
type bucketWriter struct {
	w      *blob.Writer
	cancel context.CancelFunc
	done   bool
}

func (w *bucketWriter) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *bucketWriter) Close() error {
	if w.done {
		return fmt.Errorf("bucket writer already closed")
	}
	w.done = true
	err := w.w.Close()
	w.cancel()
	return err
}

func (w *bucketWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.cancel()
	w.w.Close()
}

func (s *BucketStore) Writer(ctx context.Context, name string) (Writer, error) {
	wctx, cancel := context.WithCancel(ctx)
	w, err := s.bucket.NewWriter(wctx, key(name), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cannot create %q in %s: %w", name, s, err)
	}
	return &bucketWriter{w: w, cancel: cancel}, nil
}

func (s *BucketStore) Remove(ctx context.Context, name string) error {
	if err := s.bucket.Delete(ctx, key(name)); err != nil {
		return s.wrapError(name, err)
	}
	return nil
}

func (s *BucketStore) Size(ctx context.Context, name string) (int64, error) {
	attrs, err := s.bucket.Attributes(ctx, key(name))
	if err != nil {
		return 0, s.wrapError(name, err)
	}
	return attrs.Size, nil
}

func (s *BucketStore) IsDir(ctx context.Context, name string) (bool, error) {
	prefix := key(name)
	if prefix != "" {
		prefix += "/"
	}
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	_, err := iter.Next(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Glob lists objects under the longest pattern prefix without metacharacters and
// matches each key against the pattern.
func (s *BucketStore) Glob(ctx context.Context, pattern string) ([]string, error) {
	pattern = key(pattern)
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	prefix := pattern
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		prefix = pattern[:i]
	}
	var matches []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if obj.IsDir {
			continue
		}
		if ok, _ := path.Match(pattern, obj.Key); ok {
			matches = append(matches, obj.Key)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *BucketStore) Close() error {
	if err := s.bucket.Close(); err != nil {
		tomo.Errorf("Error on trying to close %s: %v\n", s, err)
		return err
	}
	return nil
}
