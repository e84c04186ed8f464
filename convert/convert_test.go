package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/mrc"
	"github.com/janelia-flyem/jpgstack/sidecar"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

func newTestStore() storage.Store {
	return storage.NewBucketStore("mem://", memblob.OpenBucket(nil))
}

// writeVolume stores an int8 MRC volume whose voxels are given by f.
func writeVolume(t *testing.T, store storage.Store, name string, size tomo.Point3d, f func(x, y, z int) int8) {
	vol := &tomo.Int8Volume{Size: size, Data: make([]int8, size.Voxels())}
	i := 0
	for z := 0; z < int(size[2]); z++ {
		for y := 0; y < int(size[1]); y++ {
			for x := 0; x < int(size[0]); x++ {
				vol.Data[i] = f(x, y, z)
				i++
			}
		}
	}
	hdr := mrc.NewHeader(size)
	if err := hdr.SetField("xorigin", tomo.FieldValue{42}); err != nil {
		t.Fatalf("%v", err)
	}
	var buf bytes.Buffer
	if err := mrc.Write(&buf, hdr, vol); err != nil {
		t.Fatalf("%v", err)
	}
	if err := storage.WriteAll(context.Background(), store, name, buf.Bytes()); err != nil {
		t.Fatalf("%v", err)
	}
}

func readVolume(t *testing.T, store storage.Store, name string) *tomo.Volume {
	data, err := storage.ReadAll(context.Background(), store, name)
	if err != nil {
		t.Fatalf("%v", err)
	}
	vol, err := mrc.Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("%v", err)
	}
	return vol
}

func testOptions(workers int) Options {
	opts := DefaultOptions()
	opts.Workers = workers
	return opts
}

func TestPackUnpack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	pattern := []int8{0, 1, 2, 3}
	writeVolume(t, store, "data/vol.mrc", tomo.Point3d{2, 2, 4}, func(x, y, z int) int8 {
		return pattern[y*2+x]
	})

	c := New(store)
	job := NewJob(Pack, "data/vol.mrc", "", testOptions(3))
	if err := c.Pack(ctx, job); err != nil {
		t.Fatalf("pack: %v", err)
	}
	if job.State() != Done || job.Err() != nil {
		t.Fatalf("expected Done, got %s, %v", job.State(), job.Err())
	}
	if job.Output != "data/vol_JPG80.jpgs" || job.Sidecar != "data/vol_JPG80_header.msgp" {
		t.Errorf("unexpected outputs %q, %q", job.Output, job.Sidecar)
	}
	if job.Slices != 4 || job.OutputBytes == 0 || job.InputBytes != mrc.HeaderSize+16 {
		t.Errorf("bad job accounting: %d slices, %d in, %d out", job.Slices, job.InputBytes, job.OutputBytes)
	}
	size, err := store.Size(ctx, job.Output)
	if err != nil || size != job.OutputBytes {
		t.Errorf("container size %d, job reports %d: %v", size, job.OutputBytes, err)
	}

	unpack := NewJob(Unpack, job.Output, "out/vol.mrc", testOptions(2))
	if err := c.Unpack(ctx, unpack); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if unpack.State() != Done || unpack.Sidecar != job.Sidecar {
		t.Fatalf("bad unpack job state %s, sidecar %q", unpack.State(), unpack.Sidecar)
	}
	vol := readVolume(t, store, "out/vol.mrc")
	if vol.Size != (tomo.Point3d{2, 2, 4}) {
		t.Fatalf("expected size (2,2,4), got %s", vol.Size)
	}
	if vol.Header["mode"].Scalar() != 0 || vol.Header["xorigin"].Scalar() != 42 {
		t.Errorf("header not restored: %s", vol.Header)
	}
	for z := 0; z < 4; z++ {
		s := vol.Slice(z)
		if !(s[0] < s[1] && s[1] < s[2] && s[2] < s[3]) {
			t.Errorf("slice %d lost intensity ordering: %v", z, s)
		}
		if s[0] > -118 || s[3] < 117 {
			t.Errorf("slice %d not spread over the signed range: %v", z, s)
		}
		if z > 0 {
			prev := vol.Slice(z - 1)
			for i := range s {
				if d := s[i] - prev[i]; d > 2 || d < -2 {
					t.Errorf("slice %d voxel %d differs from identical slice %d", z, i, z-1)
				}
			}
		}
	}
}

// jitterCodec delays encoding of darker slices so workers finish out of order.
type jitterCodec struct {
	slicecodec.JPEG
}

func (c jitterCodec) Encode(img *image.Gray, quality int) ([]byte, error) {
	time.Sleep(time.Duration(255-int(img.Pix[0])) * 50 * time.Microsecond)
	return c.JPEG.Encode(img, quality)
}

func TestSliceOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	nz := 12
	writeVolume(t, store, "ordered.mrc", tomo.Point3d{16, 16, int32(nz)}, func(x, y, z int) int8 {
		return int8(z*20 - 120 + (x % 2))
	})
	opts := testOptions(4)
	opts.Codec = jitterCodec{}
	c := New(store)
	job := NewJob(Pack, "ordered.mrc", "ordered.jpgs", opts)
	if err := c.Pack(ctx, job); err != nil {
		t.Fatalf("%v", err)
	}

	data, _ := storage.ReadAll(ctx, store, "ordered.jpgs")
	payloads, err := container.Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("%v", err)
	}
	prevMean := -1.0
	for z, payload := range payloads {
		img, err := (slicecodec.JPEG{}).Decode(payload)
		if err != nil {
			t.Fatalf("slice %d: %v", z, err)
		}
		var sum float64
		for _, p := range img.Pix {
			sum += float64(p)
		}
		mean := sum / float64(len(img.Pix))
		if mean <= prevMean {
			t.Fatalf("slice %d mean %g not brighter than slice %d mean %g", z, mean, z-1, prevMean)
		}
		prevMean = mean
	}
}

func TestDegenerateVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	writeVolume(t, store, "flat.mrc", tomo.Point3d{4, 4, 4}, func(x, y, z int) int8 { return 3 })
	job := NewJob(Pack, "flat.mrc", "flat.jpgs", testOptions(2))
	err := New(store).Pack(ctx, job)
	if !errors.Is(err, tomo.ErrDegenerateStatistics) {
		t.Fatalf("expected degenerate statistics error, got %v", err)
	}
	var jobErr *tomo.JobError
	if !errors.As(err, &jobErr) || jobErr.Job != "flat.mrc" || jobErr.State != "Pending" {
		t.Errorf("bad job error %#v", jobErr)
	}
	if job.State() != Failed || job.Err() != err {
		t.Errorf("expected Failed job holding its error, got %s", job.State())
	}
	if storage.Exists(ctx, store, "flat.jpgs") || storage.Exists(ctx, store, sidecar.Path("flat.jpgs")) {
		t.Errorf("failed pack left output behind")
	}
}

// failingCodec fails on the slice whose first pixel matches.
type failingCodec struct {
	slicecodec.JPEG
	failOn uint8
}

func (c failingCodec) Encode(img *image.Gray, quality int) ([]byte, error) {
	if img.Pix[0] == c.failOn {
		return nil, fmt.Errorf("%w: injected failure", tomo.ErrCodec)
	}
	return c.JPEG.Encode(img, quality)
}

func TestCodecFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	writeVolume(t, store, "v.mrc", tomo.Point3d{8, 8, 6}, func(x, y, z int) int8 {
		if z == 5 {
			return 127
		}
		return int8(x + y + z)
	})
	for _, workers := range []int{1, 3} {
		opts := testOptions(workers)
		opts.Codec = failingCodec{failOn: 255}
		job := NewJob(Pack, "v.mrc", "v.jpgs", opts)
		err := New(store).Pack(ctx, job)
		if !errors.Is(err, tomo.ErrCodec) {
			t.Fatalf("workers %d: expected codec error, got %v", workers, err)
		}
		var jobErr *tomo.JobError
		if !errors.As(err, &jobErr) || jobErr.State != "SlicesDispatched" {
			t.Errorf("workers %d: expected failure while dispatched, got %v", workers, err)
		}
		if storage.Exists(ctx, store, "v.jpgs") {
			t.Errorf("workers %d: partial container is visible", workers)
		}
	}
}

// sidecarlessStore refuses to write header sidecars.
type sidecarlessStore struct {
	storage.Store
}

func (s sidecarlessStore) Writer(ctx context.Context, name string) (storage.Writer, error) {
	if strings.HasSuffix(name, sidecar.Suffix) {
		return nil, errors.New("disk full")
	}
	return s.Store.Writer(ctx, name)
}

func TestSidecarFailure(t *testing.T) {
	ctx := context.Background()
	store := sidecarlessStore{newTestStore()}
	writeVolume(t, store, "v.mrc", tomo.Point3d{8, 8, 3}, func(x, y, z int) int8 { return int8(x + y + z) })
	job := NewJob(Pack, "v.mrc", "v.jpgs", testOptions(2))
	err := New(store).Pack(ctx, job)
	if err == nil || job.State() != Failed {
		t.Fatalf("expected failed pack, got %v in state %s", err, job.State())
	}
	var jobErr *tomo.JobError
	if !errors.As(err, &jobErr) || jobErr.State != "Written" {
		t.Errorf("expected failure after the container was written, got %v", err)
	}
	if storage.Exists(ctx, store, "v.jpgs") {
		t.Errorf("container without sidecar left behind")
	}
	if job.Sidecar != "" {
		t.Errorf("expected no sidecar recorded, got %q", job.Sidecar)
	}
}

func TestUnpackWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	writeVolume(t, store, "a/b.mrc", tomo.Point3d{8, 4, 3}, func(x, y, z int) int8 { return int8(x * y) })
	c := New(store)
	if err := c.Pack(ctx, NewJob(Pack, "a/b.mrc", "", testOptions(1))); err != nil {
		t.Fatalf("%v", err)
	}
	c.Lookup = sidecar.MapLookup(nil)
	job := NewJob(Unpack, "a/b_JPG80.jpgs", "", testOptions(4))
	if err := c.Unpack(ctx, job); err != nil {
		t.Fatalf("%v", err)
	}
	if job.Output != "a/b_JPG80.mrc" || job.Sidecar != "" || len(job.CopiedFields) != 0 {
		t.Errorf("unexpected job results: %q, %q, %v", job.Output, job.Sidecar, job.CopiedFields)
	}
	vol := readVolume(t, store, job.Output)
	if vol.Size != (tomo.Point3d{8, 4, 3}) || vol.Header["xorigin"].Scalar() != 0 {
		t.Errorf("expected default header for size (8,4,3), got %s %s", vol.Size, vol.Header)
	}

	// With the sidecar, the output is named after it.
	c.Lookup = nil
	job = NewJob(Unpack, "a/b_JPG80.jpgs", "", testOptions(4))
	if err := c.Unpack(ctx, job); err != nil {
		t.Fatalf("%v", err)
	}
	if job.Output != "a/b.mrc" || len(job.CopiedFields) == 0 {
		t.Errorf("unexpected job results with sidecar: %q, %v", job.Output, job.CopiedFields)
	}
}

func TestUnpackCorrupt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	var buf bytes.Buffer
	container.Write(&buf, [][]byte{[]byte("abc"), []byte("defg")})
	data := buf.Bytes()
	storage.WriteAll(ctx, store, "trunc.jpgs", data[:len(data)-2])
	storage.WriteAll(ctx, store, "garbage.jpgs", data)
	storage.WriteAll(ctx, store, "empty.jpgs", []byte{0, 0, 0, 0})

	c := New(store)
	for _, name := range []string{"trunc.jpgs", "empty.jpgs"} {
		job := NewJob(Unpack, name, "out.mrc", testOptions(2))
		if err := c.Unpack(ctx, job); !errors.Is(err, tomo.ErrCorruptContainer) {
			t.Errorf("%s: expected corrupt container error, got %v", name, err)
		}
	}
	job := NewJob(Unpack, "garbage.jpgs", "out.mrc", testOptions(2))
	if err := c.Unpack(ctx, job); !errors.Is(err, tomo.ErrCodec) {
		t.Errorf("expected codec error on bad payloads, got %v", err)
	}
	if storage.Exists(ctx, store, "out.mrc") {
		t.Errorf("failed unpack left output behind")
	}
	job = NewJob(Unpack, "missing.jpgs", "out.mrc", testOptions(2))
	if err := c.Unpack(ctx, job); err == nil || job.State() != Failed {
		t.Errorf("expected failure on missing container")
	}
}

func TestCanceled(t *testing.T) {
	store := newTestStore()
	writeVolume(t, store, "v.mrc", tomo.Point3d{8, 8, 8}, func(x, y, z int) int8 { return int8(x - z) })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := NewJob(Pack, "v.mrc", "v.jpgs", testOptions(4))
	if err := New(store).Pack(ctx, job); !errors.Is(err, context.Canceled) {
		t.Errorf("expected canceled error, got %v", err)
	}
}

func TestBadQuality(t *testing.T) {
	store := newTestStore()
	writeVolume(t, store, "v.mrc", tomo.Point3d{2, 2, 2}, func(x, y, z int) int8 { return int8(x) })
	opts := testOptions(1)
	opts.Quality = 0
	if err := New(store).Pack(context.Background(), NewJob(Pack, "v.mrc", "", opts)); err == nil {
		t.Errorf("expected error for quality 0")
	}
}

func TestUnpackDetectsCodec(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	pattern := []int8{0, 1, 2, 3}
	writeVolume(t, store, "vol.mrc", tomo.Point3d{2, 2, 3}, func(x, y, z int) int8 {
		return pattern[y*2+x]
	})
	opts := testOptions(2)
	opts.Codec = slicecodec.PNG{}
	c := New(store)
	if err := c.Pack(ctx, NewJob(Pack, "vol.mrc", "vol.jpgs", opts)); err != nil {
		t.Fatalf("pack: %v", err)
	}

	// Default options name JPEG, but the PNG payloads must still decode losslessly.
	if err := c.Unpack(ctx, NewJob(Unpack, "vol.jpgs", "out.mrc", testOptions(2))); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	vol := readVolume(t, store, "out.mrc")
	for z := 0; z < 3; z++ {
		s := vol.Slice(z)
		if s[0] != -128 || s[3] != 127 {
			t.Errorf("slice %d: expected lossless extremes -128 and 127, got %v", z, s)
		}
		if z > 0 {
			prev := vol.Slice(z - 1)
			for i := range s {
				if s[i] != prev[i] {
					t.Errorf("slice %d differs from identical slice %d: %v vs %v", z, z-1, s, prev)
					break
				}
			}
		}
	}
}
