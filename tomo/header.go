package tomo

import (
	"fmt"
	"sort"
)

// FieldValue holds the numeric content of one header field.  Scalar fields have
// length 1; character or byte fields hold one value per byte.
type FieldValue []float64

// Scalar returns the first value or 0 if the field is empty.
func (v FieldValue) Scalar() float64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// Bytes returns the values truncated to bytes.
func (v FieldValue) Bytes() []byte {
	b := make([]byte, len(v))
	for i, f := range v {
		b[i] = byte(f)
	}
	return b
}

// BytesValue returns a FieldValue holding one value per byte.
func BytesValue(b []byte) FieldValue {
	v := make(FieldValue, len(b))
	for i, c := range b {
		v[i] = float64(c)
	}
	return v
}

// Header maps named volume metadata fields to numeric values.
type Header map[string]FieldValue

// RecognizedFields is the fixed list of header fields that survive a pack/unpack
// cycle through a header sidecar.  Dimension counts, sampling intervals, cell geometry,
// axis mapping, statistics, space group, extra bytes, origin, map/machine stamps,
// and label count.
var RecognizedFields = []string{
	"nx", "ny", "nz", "mode",
	"nxstart", "nystart", "nzstart",
	"mx", "my", "mz",
	"xlen", "ylen", "zlen",
	"alpha", "beta", "gamma",
	"mapc", "mapr", "maps",
	"amin", "amax", "amean",
	"ispg", "extra",
	"xorigin", "yorigin", "zorigin",
	"map", "machst", "rms", "nlabels",
}

var recognized map[string]struct{}

func init() {
	recognized = make(map[string]struct{}, len(RecognizedFields))
	for _, name := range RecognizedFields {
		recognized[name] = struct{}{}
	}
}

// IsRecognized returns true if the field name is in RecognizedFields.
func IsRecognized(name string) bool {
	_, found := recognized[name]
	return found
}

// Recognized returns a copy of the header restricted to recognized fields.
func (h Header) Recognized() Header {
	out := make(Header, len(RecognizedFields))
	for _, name := range RecognizedFields {
		if v, found := h[name]; found {
			out[name] = append(FieldValue(nil), v...)
		}
	}
	return out
}

// Names returns the header's field names in sorted order.
func (h Header) Names() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldSetter is implemented by header destinations that can accept individual fields.
// SetField returns an error if the destination cannot hold the named field or value.
type FieldSetter interface {
	SetField(name string, value FieldValue) error
}

// CopyFields copies each of the named fields present in src into dst.  Fields
// absent from src or refused by dst are skipped.  It returns the fields actually
// copied and, for each refused field, the reason.
func CopyFields(dst FieldSetter, src Header, fields []string) (copied []string, skipped map[string]error) {
	skipped = make(map[string]error)
	for _, name := range fields {
		value, found := src[name]
		if !found {
			continue
		}
		if err := dst.SetField(name, value); err != nil {
			skipped[name] = err
			continue
		}
		copied = append(copied, name)
	}
	return
}

func (h Header) String() string {
	s := "{"
	for i, name := range h.Names() {
		if i != 0 {
			s += ", "
		}
		v := h[name]
		if len(v) == 1 {
			s += fmt.Sprintf("%s: %g", name, v[0])
		} else {
			s += fmt.Sprintf("%s: [%d values]", name, len(v))
		}
	}
	return s + "}"
}
