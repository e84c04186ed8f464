package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/janelia-flyem/jpgstack/config"
	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/sidecar"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

func gradientSlice(t *testing.T, nx, ny, z int) []byte {
	pix := make([]uint8, nx*ny)
	for i := range pix {
		pix[i] = uint8((i*4 + z*16) % 256)
	}
	payload, err := slicecodec.JPEG{}.Encode(slicecodec.FromData(pix, nx, ny), 90)
	if err != nil {
		t.Fatalf("encoding test slice: %v", err)
	}
	return payload
}

// writeStack stores a container of nz 16x8 JPEG slices and returns its payloads.
func writeStack(t *testing.T, store storage.Store, name string, nz int) [][]byte {
	payloads := make([][]byte, nz)
	for z := range payloads {
		payloads[z] = gradientSlice(t, 16, 8, z)
	}
	var buf bytes.Buffer
	if err := container.Write(&buf, payloads); err != nil {
		t.Fatal(err)
	}
	if err := storage.WriteAll(context.Background(), store, name, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	return payloads
}

func testServer(t *testing.T, c *config.Config) (*Server, storage.Store, http.Handler) {
	store := storage.NewBucketStore("mem://", memblob.OpenBucket(nil))
	if c == nil {
		c = config.Default()
	}
	c.Cache.SizeMB = 1
	s, err := New(store, "stacks", c)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s, store, s.Handler()
}

func get(h http.Handler, url string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", url, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListAndInfo(t *testing.T) {
	_, store, h := testServer(t, nil)
	ctx := context.Background()
	writeStack(t, store, "stacks/b_JPG80.jpgs", 2)
	writeStack(t, store, "stacks/a_JPG80.jpgs", 3)
	if err := storage.WriteAll(ctx, store, "stacks/notes.txt", []byte("not a stack")); err != nil {
		t.Fatal(err)
	}
	hdr := tomo.Header{"nx": {16}, "ny": {8}, "nz": {3}, "xlen": {32.5}}
	if _, err := sidecar.Write(ctx, store, "stacks/a_JPG80.jpgs", hdr, tomo.Snappy); err != nil {
		t.Fatal(err)
	}

	w := get(h, "/api/stacks")
	if w.Code != http.StatusOK {
		t.Fatalf("list returned %d: %s", w.Code, w.Body)
	}
	var names []string
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatal(err)
	}
	if expected := []string{"a_JPG80.jpgs", "b_JPG80.jpgs"}; !reflect.DeepEqual(names, expected) {
		t.Errorf("expected stacks %v, got %v", expected, names)
	}

	for _, name := range []string{"a_JPG80.jpgs", "a_JPG80"} {
		w = get(h, "/api/stack/"+name+"/info")
		if w.Code != http.StatusOK {
			t.Fatalf("info for %s returned %d: %s", name, w.Code, w.Body)
		}
		var info StackInfo
		if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
			t.Fatal(err)
		}
		if info.Slices != 3 || len(info.PayloadBytes) != 3 {
			t.Errorf("expected 3 slices, got %+v", info)
		}
		if info.Sidecar != "stacks/a_JPG80_header.msgp" {
			t.Errorf("unexpected sidecar %q", info.Sidecar)
		}
		if !reflect.DeepEqual(info.Header["xlen"], tomo.FieldValue{32.5}) {
			t.Errorf("expected xlen 32.5 in info header, got %v", info.Header)
		}
	}

	w = get(h, "/api/stack/b_JPG80.jpgs/info")
	var info StackInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Slices != 2 || info.Sidecar != "" || len(info.Header) != 0 {
		t.Errorf("expected 2 slices and no sidecar for b, got %+v", info)
	}

	if w = get(h, "/api/stack/missing/info"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing stack, got %d", w.Code)
	}
	if w = get(h, "/api/stack/../info"); w.Code == http.StatusOK {
		t.Errorf("expected bad stack name to fail")
	}
}

// gatedStore blocks opening one container until its gate is closed.
type gatedStore struct {
	storage.Store
	name    string
	opens   int32
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedStore) ReaderAt(ctx context.Context, name string) (storage.ReaderAt, error) {
	if name == s.name {
		atomic.AddInt32(&s.opens, 1)
		s.once.Do(func() { close(s.entered) })
		<-s.gate
	}
	return s.Store.ReaderAt(ctx, name)
}

func TestIndexOutsideLock(t *testing.T) {
	store := &gatedStore{
		Store:   storage.NewBucketStore("mem://", memblob.OpenBucket(nil)),
		name:    "stacks/slow_JPG80.jpgs",
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	writeStack(t, store, "stacks/slow_JPG80.jpgs", 2)
	writeStack(t, store, "stacks/fast_JPG80.jpgs", 3)
	c := config.Default()
	c.Cache.SizeMB = 1
	s, err := New(store, "stacks", c)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	h := s.Handler()

	const slowRequests = 3
	codes := make([]int, slowRequests)
	var wg sync.WaitGroup
	for i := 0; i < slowRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = get(h, "/api/stack/slow_JPG80/info").Code
		}(i)
	}
	<-store.entered

	fast := make(chan *httptest.ResponseRecorder, 1)
	go func() { fast <- get(h, "/api/stack/fast_JPG80/info") }()
	select {
	case w := <-fast:
		if w.Code != http.StatusOK {
			t.Errorf("info for fast stack returned %d: %s", w.Code, w.Body)
		}
	case <-time.After(5 * time.Second):
		close(store.gate)
		t.Fatalf("request for fast stack blocked behind indexing of slow stack")
	}

	close(store.gate)
	wg.Wait()
	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("slow request %d returned %d", i, code)
		}
	}
	if opens := atomic.LoadInt32(&store.opens); opens != 1 {
		t.Errorf("expected slow stack to be opened once, got %d", opens)
	}
}

func TestSlice(t *testing.T) {
	_, store, h := testServer(t, nil)
	payloads := writeStack(t, store, "stacks/vol_JPG80.jpgs", 4)

	for z := range payloads {
		w := get(h, "/api/stack/vol_JPG80.jpgs/slice/"+string(rune('0'+z)))
		if w.Code != http.StatusOK {
			t.Fatalf("slice %d returned %d: %s", z, w.Code, w.Body)
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("expected image/jpeg, got %q", ct)
		}
		if !bytes.Equal(w.Body.Bytes(), payloads[z]) {
			t.Errorf("slice %d payload differs from stored bytes", z)
		}
	}
	// served from cache the second time
	if w := get(h, "/api/stack/vol_JPG80.jpgs/slice/2"); !bytes.Equal(w.Body.Bytes(), payloads[2]) {
		t.Errorf("cached slice 2 differs from stored bytes")
	}

	if w := get(h, "/api/stack/vol_JPG80.jpgs/slice/4"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for slice past end, got %d", w.Code)
	}
	if w := get(h, "/api/stack/vol_JPG80.jpgs/slice/x"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad slice index, got %d", w.Code)
	}
	if w := get(h, "/api/stack/vol_JPG80.jpgs/slice/0?scale=0"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for scale 0, got %d", w.Code)
	}
}

func TestSliceCorruptContainer(t *testing.T) {
	_, store, h := testServer(t, nil)
	if err := storage.WriteAll(context.Background(), store, "stacks/bad.jpgs", []byte{5, 0, 0, 0, 1}); err != nil {
		t.Fatal(err)
	}
	if w := get(h, "/api/stack/bad.jpgs/slice/0"); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for corrupt container, got %d", w.Code)
	}
}

func TestSliceScaled(t *testing.T) {
	_, store, h := testServer(t, nil)
	writeStack(t, store, "stacks/vol_JPG80.jpgs", 1)

	w := get(h, "/api/stack/vol_JPG80.jpgs/slice/0?scale=2&format=png&interp=Bilinear")
	if w.Code != http.StatusOK {
		t.Fatalf("scaled slice returned %d: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	img, err := slicecodec.PNG{}.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Errorf("expected 8x4 scaled slice, got %s", img.Bounds())
	}

	if w = get(h, "/api/stack/vol_JPG80.jpgs/slice/0?scale=2&interp=Sinc"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown interpolation, got %d", w.Code)
	}
	if w = get(h, "/api/stack/vol_JPG80.jpgs/slice/0?scale=64"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized scale, got %d", w.Code)
	}
}

func TestAuth(t *testing.T) {
	authFile := filepath.Join(t.TempDir(), "authorized.json")
	if err := os.WriteFile(authFile, []byte(`["alice"]`), 0644); err != nil {
		t.Fatal(err)
	}
	c := config.Default()
	c.Server.SecretKey = "tomogram secret"
	c.Server.AuthFile = authFile
	_, _, h := testServer(t, c)

	if w := get(h, "/api/stacks"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	alice, err := Token(c.Server.SecretKey, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if w := get(h, "/api/stacks", "Authorization", "Bearer "+alice); w.Code != http.StatusOK {
		t.Errorf("expected 200 for alice, got %d: %s", w.Code, w.Body)
	}
	bob, err := Token(c.Server.SecretKey, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if w := get(h, "/api/stacks", "Authorization", "Bearer "+bob); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unlisted user, got %d", w.Code)
	}
	forged, err := Token("other secret", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if w := get(h, "/api/stacks", "Authorization", "Bearer "+forged); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for token with wrong secret, got %d", w.Code)
	}
	if w := get(h, "/api/stacks", "Authorization", alice); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for missing bearer prefix, got %d", w.Code)
	}
	if _, err := Token("", "alice"); err == nil {
		t.Errorf("expected error signing with empty secret")
	}
}

func TestAuthFileRequiresSecret(t *testing.T) {
	authFile := filepath.Join(t.TempDir(), "authorized.json")
	if err := os.WriteFile(authFile, []byte(`["*"]`), 0644); err != nil {
		t.Fatal(err)
	}
	c := config.Default()
	c.Server.AuthFile = authFile
	store := storage.NewBucketStore("mem://", memblob.OpenBucket(nil))
	if _, err := New(store, "stacks", c); err == nil {
		t.Errorf("expected error for auth file without secret key")
	}
}
