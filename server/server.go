/*
	Package server is a read-only HTTP browser over the slice containers in a
	directory or bucket prefix.  Slices are served straight from the container
	without unpacking the volume.

	GET /api/stacks                       JSON list of container names
	GET /api/stack/{name}/info            JSON slice count, payload sizes, and sidecar header
	GET /api/stack/{name}/slice/{z}       payload of slice z

	The slice endpoint accepts optional query strings:
		scale=N          reduce width and height by the integer factor N
		interp=NAME      interpolation for scaling (default Bicubic)
		format=jpg:80    re-encode format for scaled slices (default "jpg:80")
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/janelia-flyem/go/resize"
	"github.com/rs/cors"
	"github.com/zenazn/goji/web"
	"golang.org/x/sync/singleflight"

	"github.com/janelia-flyem/jpgstack/config"
	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/sidecar"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// WebAPIVersion is the version of the HTTP API.
const WebAPIVersion = "0.1.0"

// Server serves the containers under one root.
type Server struct {
	store   storage.Store
	root    string
	lookup  sidecar.Lookup
	cache   *freecache.Cache
	secret  string
	users   map[string]bool
	origins []string
	addr    string

	mu       sync.Mutex
	indexes  map[string]*openIndex
	indexing singleflight.Group // one index build per container at a time
}

type openIndex struct {
	idx  *container.Index
	r    storage.ReaderAt
	size int64
}

// New returns a server for containers in root, a directory or bucket prefix.
func New(store storage.Store, root string, c *config.Config) (*Server, error) {
	users, err := LoadAuthFile(c.Server.AuthFile)
	if err != nil {
		return nil, err
	}
	if len(users) != 0 && c.Server.SecretKey == "" {
		return nil, fmt.Errorf("auth file %s given without a secret key", c.Server.AuthFile)
	}
	cacheBytes := c.CacheBytes()
	if cacheBytes < 512*tomo.Kilo {
		cacheBytes = 512 * tomo.Kilo // freecache minimum
	}
	return &Server{
		store:   store,
		root:    root,
		lookup:  sidecar.StoreLookup(store),
		cache:   freecache.NewCache(cacheBytes),
		secret:  c.Server.SecretKey,
		users:   users,
		origins: c.Server.CORSOrigins,
		addr:    c.Server.HTTPAddress,
		indexes: make(map[string]*openIndex),
	}, nil
}

// Handler returns the routed HTTP handler with CORS and any auth applied.
func (s *Server) Handler() http.Handler {
	mux := web.New()
	mux.Use(logRequest)
	if s.secret != "" {
		mux.Use(s.isAuthorized)
	}
	mux.Get("/api/stacks", s.listHandler)
	mux.Get("/api/stack/:name/info", s.infoHandler)
	mux.Get("/api/stack/:name/slice/:z", s.sliceHandler)
	mux.Get("/api/server/info", s.serverInfoHandler)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("unknown endpoint %q", r.URL.Path), http.StatusNotFound)
	})

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Authorization"},
	}).Handler(mux)
}

// Serve listens until the context is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		tomo.Infof("Web server listening at %s, serving %s in %s\n", s.addr, s.root, s.store)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// Close releases open containers.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, oi := range s.indexes {
		oi.r.Close()
		delete(s.indexes, name)
	}
}

func logRequest(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		h.ServeHTTP(w, r)
		tomo.Debugf("HTTP %s: %s (%s)\n", r.Method, r.URL, time.Since(t0))
	}
	return http.HandlerFunc(fn)
}

// BadRequest writes a 400 error and logs it.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("%s (%s).", message, r.URL.Path)
	tomo.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, http.StatusBadRequest)
}

// writeError maps storage and container errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, fmt.Sprintf("%s not found", r.URL.Path), http.StatusNotFound)
	case errors.Is(err, tomo.ErrCorruptContainer), errors.Is(err, tomo.ErrCodec):
		tomo.Errorf("%s: %v\n", r.URL.Path, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		tomo.Errorf("%s: %v\n", r.URL.Path, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		tomo.Errorf("writing JSON response: %v\n", err)
	}
}

func (s *Server) containerPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("bad stack name %q", name)
	}
	if !strings.HasSuffix(name, container.Extension) {
		name += container.Extension
	}
	return path.Join(s.root, name), nil
}

// index returns the slice index of a container, reopening it if its size changed.
// Indexes are built without holding s.mu so slow stores only delay requests for the
// container being indexed.
func (s *Server) index(ctx context.Context, name string) (*container.Index, error) {
	size, err := s.store.Size(ctx, name)
	if err != nil {
		return nil, err
	}
	if idx := s.cachedIndex(name, size); idx != nil {
		return idx, nil
	}
	v, err, _ := s.indexing.Do(name, func() (interface{}, error) {
		if idx := s.cachedIndex(name, size); idx != nil {
			return idx, nil
		}
		r, err := s.store.ReaderAt(context.Background(), name)
		if err != nil {
			return nil, err
		}
		idx, err := container.NewIndex(r, r.Size())
		if err != nil {
			r.Close()
			return nil, err
		}
		s.mu.Lock()
		if old, found := s.indexes[name]; found {
			old.r.Close()
		}
		s.indexes[name] = &openIndex{idx: idx, r: r, size: r.Size()}
		s.mu.Unlock()
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*container.Index), nil
}

// cachedIndex returns the open index of a container of the given size or nil.
func (s *Server) cachedIndex(name string, size int64) *container.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oi, found := s.indexes[name]; found && oi.size == size {
		return oi.idx
	}
	return nil
}

func (s *Server) serverInfoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"Version":       tomo.Version.String(),
		"WebAPIVersion": WebAPIVersion,
		"Store":         s.store.String(),
		"Root":          s.root,
		"Codecs":        slicecodec.Names(),
	})
}

func (s *Server) listHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.Glob(r.Context(), path.Join(storage.EscapeGlob(s.root), "*"+container.Extension))
	if err != nil {
		writeError(w, r, err)
		return
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = path.Base(m)
	}
	sort.Strings(names)
	writeJSON(w, names)
}

// StackInfo describes one container.
type StackInfo struct {
	Name         string
	Slices       int
	Bytes        int64
	PayloadBytes []int
	Sidecar      string
	Header       tomo.Header
}

// Info returns the description of a container and its sidecar.
func Info(ctx context.Context, idx *container.Index, name string, size int64, lookup sidecar.Lookup) StackInfo {
	info := StackInfo{
		Name:         path.Base(name),
		Slices:       idx.Len(),
		Bytes:        size,
		PayloadBytes: make([]int, idx.Len()),
	}
	for i := range info.PayloadBytes {
		info.PayloadBytes[i] = idx.PayloadSize(i)
	}
	info.Header, info.Sidecar = sidecar.Read(ctx, lookup, name)
	return info
}

func (s *Server) infoHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	name, err := s.containerPath(c.URLParams["name"])
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	idx, err := s.index(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, _ := s.store.Size(r.Context(), name)
	writeJSON(w, Info(r.Context(), idx, name, size, s.lookup))
}

func interpolation(name string) (resize.InterpolationFunction, error) {
	switch name {
	case "", "Bicubic":
		return resize.Bicubic, nil
	case "NearestNeighbor":
		return resize.NearestNeighbor, nil
	case "Bilinear":
		return resize.Bilinear, nil
	case "MitchellNetravali":
		return resize.MitchellNetravali, nil
	case "Lanczos2":
		return resize.Lanczos2, nil
	case "Lanczos3":
		return resize.Lanczos3, nil
	default:
		return nil, fmt.Errorf("unrecognized interpolation %q", name)
	}
}

func (s *Server) sliceHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := tomo.NewTimeLog()
	name, err := s.containerPath(c.URLParams["name"])
	if err != nil {
		BadRequest(w, r, "%v", err)
		return
	}
	z, err := strconv.Atoi(c.URLParams["z"])
	if err != nil {
		BadRequest(w, r, "bad slice index %q", c.URLParams["z"])
		return
	}
	query := r.URL.Query()
	scale := 1
	if scaleStr := query.Get("scale"); scaleStr != "" {
		if scale, err = strconv.Atoi(scaleStr); err != nil || scale < 1 {
			BadRequest(w, r, "scale must be a positive integer, got %q", scaleStr)
			return
		}
	}
	formatStr := query.Get("format")
	if formatStr == "" {
		formatStr = fmt.Sprintf("jpg:%d", slicecodec.DefaultQuality)
	}

	cacheKey := []byte(fmt.Sprintf("%s|%d|%d|%s|%s", name, z, scale, query.Get("interp"), formatStr))
	payload, err := s.cache.Get(cacheKey)
	if err != nil {
		idx, err := s.index(r.Context(), name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if z < 0 || z >= idx.Len() {
			http.Error(w, fmt.Sprintf("slice %d not in [0,%d)", z, idx.Len()), http.StatusNotFound)
			return
		}
		if payload, err = idx.Payload(z); err != nil {
			writeError(w, r, err)
			return
		}
		if scale > 1 {
			if payload, err = rescale(payload, scale, query.Get("interp"), formatStr); err != nil {
				BadRequest(w, r, "%v", err)
				return
			}
		}
		if err := s.cache.Set(cacheKey, payload, 0); err != nil {
			tomo.Debugf("not caching slice %d of %s: %v\n", z, name, err)
		}
	}
	codec, err := slicecodec.Detect(payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType())
	if _, err := w.Write(payload); err != nil {
		tomo.Errorf("writing slice %d of %s: %v\n", z, name, err)
	}
	timedLog.Debugf("HTTP GET slice %d of %s (%d bytes)", z, name, len(payload))
}

// rescale decodes a payload, shrinks it by an integer factor, and re-encodes it.
func rescale(payload []byte, scale int, interpName, formatStr string) ([]byte, error) {
	interp, err := interpolation(interpName)
	if err != nil {
		return nil, err
	}
	outCodec, quality, err := slicecodec.ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}
	inCodec, err := slicecodec.Detect(payload)
	if err != nil {
		return nil, err
	}
	img, err := inCodec.Decode(payload)
	if err != nil {
		return nil, err
	}
	width := img.Bounds().Dx() / scale
	height := img.Bounds().Dy() / scale
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("scale %d too large for %s slice", scale, img.Bounds())
	}
	scaled := resize.Resize(uint(width), uint(height), img, interp)
	return outCodec.Encode(slicecodec.ToGray(scaled), quality)
}
