/*
	Package sidecar stores the volume header fields that must survive packing in a
	small file next to each slice container.  The file is a msgpack Document framed
	by tomo.SerializeData, so it carries a format byte and CRC32 checksum.
*/
package sidecar

//go:generate msgp -io=false -tests=false

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/blang/semver"

	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// Suffix ends every sidecar file name.
const Suffix = "_header.msgp"

// Document is the serialized content of a sidecar.
type Document struct {
	Version string               `msg:"version"`
	Fields  map[string][]float64 `msg:"fields"`
}

// Path returns the sidecar path written for a container.
func Path(containerPath string) string {
	return strings.TrimSuffix(containerPath, container.Extension) + Suffix
}

// Encode serializes the recognized fields of a header.
func Encode(h tomo.Header, compress tomo.Compression) ([]byte, error) {
	doc := Document{
		Version: tomo.Version.String(),
		Fields:  make(map[string][]float64),
	}
	for name, value := range h.Recognized() {
		doc.Fields[name] = value
	}
	data, err := doc.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return tomo.SerializeData(data, compress, tomo.CRC32)
}

// Decode returns the recognized header fields in serialized sidecar data.
func Decode(data []byte) (tomo.Header, error) {
	payload, _, err := tomo.DeserializeData(data)
	if err != nil {
		return nil, err
	}
	var doc Document
	if _, err := doc.UnmarshalMsg(payload); err != nil {
		return nil, fmt.Errorf("bad sidecar document: %v", err)
	}
	v, err := semver.Parse(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("bad sidecar version %q: %v", doc.Version, err)
	}
	if !tomo.CompatibleVersion(v) {
		return nil, fmt.Errorf("sidecar written by newer version %s than %s", v, tomo.Version)
	}
	h := make(tomo.Header, len(doc.Fields))
	for name, value := range doc.Fields {
		h[name] = value
	}
	return h.Recognized(), nil
}

// Write stores the sidecar for a container.
func Write(ctx context.Context, store storage.Store, containerPath string, h tomo.Header, compress tomo.Compression) (string, error) {
	data, err := Encode(h, compress)
	if err != nil {
		return "", err
	}
	name := Path(containerPath)
	if err := storage.WriteAll(ctx, store, name, data); err != nil {
		return "", fmt.Errorf("writing header sidecar %q: %w", name, err)
	}
	return name, nil
}

// Lookup finds and decodes the sidecar of a container.  It returns the sidecar path
// or an error matching tomo.ErrSidecarNotFound.
type Lookup func(ctx context.Context, containerPath string) (string, tomo.Header, error)

// StoreLookup returns a Lookup that matches "<container stem>*_header.msgp" in a store.
// When several sidecars match, the exact Path is preferred, then the first sorted name.
func StoreLookup(store storage.Store) Lookup {
	return func(ctx context.Context, containerPath string) (string, tomo.Header, error) {
		stem := strings.TrimSuffix(containerPath, path.Ext(containerPath))
		dir, base := path.Split(stem)
		pattern := storage.EscapeGlob(dir) + storage.EscapeGlob(base) + "*" + Suffix
		matches, err := store.Glob(ctx, pattern)
		if err != nil {
			return "", nil, err
		}
		if len(matches) == 0 {
			return "", nil, fmt.Errorf("%w for %s", tomo.ErrSidecarNotFound, containerPath)
		}
		found := matches[0]
		for _, m := range matches {
			if m == Path(containerPath) {
				found = m
			}
		}
		data, err := storage.ReadAll(ctx, store, found)
		if err != nil {
			return found, nil, err
		}
		h, err := Decode(data)
		if err != nil {
			return found, nil, fmt.Errorf("sidecar %q: %w", found, err)
		}
		return found, h, nil
	}
}

// MapLookup returns a Lookup over in-memory sidecars keyed by container path.
func MapLookup(sidecars map[string]tomo.Header) Lookup {
	return func(ctx context.Context, containerPath string) (string, tomo.Header, error) {
		h, found := sidecars[containerPath]
		if !found {
			return "", nil, fmt.Errorf("%w for %s", tomo.ErrSidecarNotFound, containerPath)
		}
		return Path(containerPath), h.Recognized(), nil
	}
}

// Read returns the recognized header fields for a container, or an empty header if
// the sidecar is missing or unreadable.  Metadata problems never fail an unpack, so
// they are only logged.  The sidecar path is empty if none was used.
func Read(ctx context.Context, lookup Lookup, containerPath string) (tomo.Header, string) {
	if lookup == nil {
		return tomo.Header{}, ""
	}
	name, h, err := lookup(ctx, containerPath)
	switch {
	case errors.Is(err, tomo.ErrSidecarNotFound):
		tomo.Warningf("No header sidecar found for %s, using default header\n", containerPath)
		return tomo.Header{}, ""
	case err != nil:
		tomo.Warningf("Ignoring header sidecar for %s: %v\n", containerPath, err)
		return tomo.Header{}, ""
	}
	return h, name
}
