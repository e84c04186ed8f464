/*
	Package mrc reads and writes MRC2014 volumes, the format used by electron
	tomography reconstructions.  A file is a 1024 byte main header, an optional
	extended header of NSYMBT bytes, then voxel data with x varying fastest.
*/
package mrc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/janelia-flyem/jpgstack/tomo"
)

// HeaderSize is the number of bytes in the main MRC header.
const HeaderSize = 1024

// Mode is the MRC data type of each voxel.
type Mode int32

const (
	ModeInt8    Mode = 0
	ModeInt16   Mode = 1
	ModeFloat32 Mode = 2
	ModeUint16  Mode = 6
)

// BytesPerVoxel returns the voxel size for supported modes or 0.
func (m Mode) BytesPerVoxel() int {
	switch m {
	case ModeInt8:
		return 1
	case ModeInt16, ModeUint16:
		return 2
	case ModeFloat32:
		return 4
	default:
		return 0
	}
}

func (m Mode) String() string {
	switch m {
	case ModeInt8:
		return "int8"
	case ModeInt16:
		return "int16"
	case ModeFloat32:
		return "float32"
	case ModeUint16:
		return "uint16"
	default:
		return fmt.Sprintf("unsupported mode %d", int32(m))
	}
}

// rawHeader mirrors the on-disk layout of the 1024 byte MRC2014 header.
type rawHeader struct {
	NX, NY, NZ        int32
	Mode              int32
	NXStart, NYStart  int32
	NZStart           int32
	MX, MY, MZ        int32
	CellA             [3]float32 // xlen, ylen, zlen in angstroms
	CellB             [3]float32 // alpha, beta, gamma in degrees
	MapC, MapR, MapS  int32
	DMin, DMax, DMean float32
	ISPG              int32
	NSymBT            int32
	Extra             [100]byte
	Origin            [3]float32
	Map               [4]byte
	MachSt            [4]byte
	RMS               float32
	NLabl             int32
	Labels            [10][80]byte
}

var machstLittle = [4]byte{0x44, 0x44, 0, 0}

// byteOrder returns the order declared by the machine stamp.
func byteOrder(machst [4]byte) binary.ByteOrder {
	if machst[0] == 0x11 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Header is a decoded MRC header.  It implements tomo.FieldSetter so metadata can be
// copied in from a header sidecar field by field.
type Header struct {
	raw   rawHeader
	order binary.ByteOrder // order of a decoded file, nil for new headers
}

// NewHeader returns a mode 0 header for a volume of the given size with default
// geometry: unit voxel spacing, right angles, and standard axis mapping.
func NewHeader(size tomo.Point3d) *Header {
	h := new(Header)
	r := &h.raw
	r.NX, r.NY, r.NZ = size[0], size[1], size[2]
	r.Mode = int32(ModeInt8)
	r.MX, r.MY, r.MZ = size[0], size[1], size[2]
	r.CellA = [3]float32{float32(size[0]), float32(size[1]), float32(size[2])}
	r.CellB = [3]float32{90, 90, 90}
	r.MapC, r.MapR, r.MapS = 1, 2, 3
	r.ISPG = 1
	copy(r.Map[:], "MAP ")
	r.MachSt = machstLittle
	binary.LittleEndian.PutUint32(r.Extra[12:16], 20140) // NVERSION
	return h
}

// Size returns the nx, ny, nz extents.
func (h *Header) Size() tomo.Point3d {
	return tomo.Point3d{h.raw.NX, h.raw.NY, h.raw.NZ}
}

// Mode returns the voxel data type.
func (h *Header) Mode() Mode {
	return Mode(h.raw.Mode)
}

// ExtendedHeaderSize returns the number of bytes between the main header and voxel data.
func (h *Header) ExtendedHeaderSize() int {
	return int(h.raw.NSymBT)
}

// Labels returns the non-empty text labels.
func (h *Header) Labels() []string {
	var labels []string
	for i := 0; i < int(h.raw.NLabl) && i < len(h.raw.Labels); i++ {
		labels = append(labels, string(bytes.TrimRight(h.raw.Labels[i][:], " \x00")))
	}
	return labels
}

// Fields returns the header as named numeric fields.
func (h *Header) Fields() tomo.Header {
	r := &h.raw
	i := func(v int32) tomo.FieldValue { return tomo.FieldValue{float64(v)} }
	f := func(v float32) tomo.FieldValue { return tomo.FieldValue{float64(v)} }
	return tomo.Header{
		"nx":      i(r.NX),
		"ny":      i(r.NY),
		"nz":      i(r.NZ),
		"mode":    i(r.Mode),
		"nxstart": i(r.NXStart),
		"nystart": i(r.NYStart),
		"nzstart": i(r.NZStart),
		"mx":      i(r.MX),
		"my":      i(r.MY),
		"mz":      i(r.MZ),
		"xlen":    f(r.CellA[0]),
		"ylen":    f(r.CellA[1]),
		"zlen":    f(r.CellA[2]),
		"alpha":   f(r.CellB[0]),
		"beta":    f(r.CellB[1]),
		"gamma":   f(r.CellB[2]),
		"mapc":    i(r.MapC),
		"mapr":    i(r.MapR),
		"maps":    i(r.MapS),
		"amin":    f(r.DMin),
		"amax":    f(r.DMax),
		"amean":   f(r.DMean),
		"ispg":    i(r.ISPG),
		"extra":   tomo.BytesValue(r.Extra[:]),
		"xorigin": f(r.Origin[0]),
		"yorigin": f(r.Origin[1]),
		"zorigin": f(r.Origin[2]),
		"map":     tomo.BytesValue(r.Map[:]),
		"machst":  tomo.BytesValue(r.MachSt[:]),
		"rms":     f(r.RMS),
		"nlabels": i(r.NLabl),
	}
}

// DerivedField is returned by SetField for fields computed from the voxel data when
// a volume is written.
type DerivedField string

func (d DerivedField) Error() string {
	return fmt.Sprintf("header field %q is derived from the volume data", string(d))
}

// SetField sets one named field.  Fields derived from the volume itself (dimensions,
// mode, statistics, label count) are refused with a DerivedField error.
func (h *Header) SetField(name string, value tomo.FieldValue) error {
	r := &h.raw
	switch name {
	case "nx", "ny", "nz", "mode", "nlabels", "amin", "amax", "amean", "rms":
		return DerivedField(name)
	case "extra":
		return setBytes(r.Extra[:], name, value)
	case "map":
		return setBytes(r.Map[:], name, value)
	case "machst":
		if err := setBytes(r.MachSt[:], name, value); err != nil {
			return err
		}
		if r.MachSt[0] != 0x11 && r.MachSt[0] != 0x44 {
			r.MachSt = machstLittle
			return fmt.Errorf("header field machst has unknown byte order 0x%x", value.Bytes()[0])
		}
		return nil
	}

	if len(value) != 1 {
		return fmt.Errorf("header field %q needs one value, got %d", name, len(value))
	}
	v := value[0]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("header field %q has non-finite value %g", name, v)
	}
	switch name {
	case "nxstart":
		r.NXStart = int32(v)
	case "nystart":
		r.NYStart = int32(v)
	case "nzstart":
		r.NZStart = int32(v)
	case "mx":
		r.MX = int32(v)
	case "my":
		r.MY = int32(v)
	case "mz":
		r.MZ = int32(v)
	case "xlen":
		r.CellA[0] = float32(v)
	case "ylen":
		r.CellA[1] = float32(v)
	case "zlen":
		r.CellA[2] = float32(v)
	case "alpha":
		r.CellB[0] = float32(v)
	case "beta":
		r.CellB[1] = float32(v)
	case "gamma":
		r.CellB[2] = float32(v)
	case "mapc", "mapr", "maps":
		if v < 1 || v > 3 {
			return fmt.Errorf("header field %q must be 1, 2, or 3, got %g", name, v)
		}
		switch name {
		case "mapc":
			r.MapC = int32(v)
		case "mapr":
			r.MapR = int32(v)
		default:
			r.MapS = int32(v)
		}
	case "ispg":
		r.ISPG = int32(v)
	case "xorigin":
		r.Origin[0] = float32(v)
	case "yorigin":
		r.Origin[1] = float32(v)
	case "zorigin":
		r.Origin[2] = float32(v)
	default:
		return fmt.Errorf("unknown header field %q", name)
	}
	return nil
}

func setBytes(dst []byte, name string, value tomo.FieldValue) error {
	if len(value) != len(dst) {
		return fmt.Errorf("header field %q needs %d bytes, got %d", name, len(dst), len(value))
	}
	copy(dst, value.Bytes())
	return nil
}

// ReadHeader reads the main header and skips any extended header, leaving r positioned
// at the start of the voxel data.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading MRC header: %w", err)
	}
	var machst [4]byte
	copy(machst[:], buf[212:216])
	order := byteOrder(machst)
	h := &Header{order: order}
	if err := binary.Read(bytes.NewReader(buf), order, &h.raw); err != nil {
		return nil, err
	}
	if h.Mode().BytesPerVoxel() == 0 || !h.Size().Valid() {
		// Some writers leave the machine stamp empty on big-endian files.
		var other binary.ByteOrder = binary.BigEndian
		if order == binary.BigEndian {
			other = binary.LittleEndian
		}
		swapped := Header{order: other}
		if err := binary.Read(bytes.NewReader(buf), other, &swapped.raw); err == nil &&
			swapped.Mode().BytesPerVoxel() != 0 && swapped.Size().Valid() {
			h = &swapped
		}
	}
	if h.Mode().BytesPerVoxel() == 0 {
		return nil, fmt.Errorf("MRC header has %s", h.Mode())
	}
	if !h.Size().Valid() {
		return nil, fmt.Errorf("MRC header has bad dimensions %s", h.Size())
	}
	if h.raw.NSymBT < 0 {
		return nil, fmt.Errorf("MRC header has negative extended header size %d", h.raw.NSymBT)
	}
	if h.raw.NSymBT > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(h.raw.NSymBT)); err != nil {
			return nil, fmt.Errorf("skipping %d byte extended header: %w", h.raw.NSymBT, err)
		}
	}
	return h, nil
}

// Read reads a whole MRC volume, converting voxels of any supported mode to float64.
func Read(r io.Reader) (*tomo.Volume, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	vol, err := tomo.NewVolume(h.Size())
	if err != nil {
		return nil, err
	}
	vol.Header = h.Fields()

	order := h.order
	bpv := h.Mode().BytesPerVoxel()
	br := bufio.NewReader(r)
	buf := make([]byte, h.Size().SliceVoxels()*bpv)
	for z := 0; z < vol.NumSlices(); z++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading slice %d of %d: %w", z, vol.NumSlices(), err)
		}
		dst := vol.Slice(z)
		switch h.Mode() {
		case ModeInt8:
			for i, b := range buf {
				dst[i] = float64(int8(b))
			}
		case ModeInt16:
			for i := range dst {
				dst[i] = float64(int16(order.Uint16(buf[2*i:])))
			}
		case ModeUint16:
			for i := range dst {
				dst[i] = float64(order.Uint16(buf[2*i:]))
			}
		case ModeFloat32:
			for i := range dst {
				dst[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
			}
		}
	}
	return vol, nil
}

// Write writes a mode 0 volume.  Dimensions, statistics, and the label are derived from
// vol; all other fields come from hdr, which may be nil for defaults.  The header is
// written in the byte order given by its machine stamp.
func Write(w io.Writer, hdr *Header, vol *tomo.Int8Volume) error {
	if vol == nil || !vol.Size.Valid() || int64(len(vol.Data)) != vol.Size.Voxels() {
		return fmt.Errorf("cannot write MRC volume with inconsistent size")
	}
	h := NewHeader(vol.Size)
	if hdr != nil {
		h.raw = hdr.raw
	}
	r := &h.raw
	r.NX, r.NY, r.NZ = vol.Size[0], vol.Size[1], vol.Size[2]
	r.Mode = int32(ModeInt8)
	r.NSymBT = 0
	r.DMin, r.DMax, r.DMean, r.RMS = stats(vol.Data)
	r.Labels = [10][80]byte{}
	copy(r.Labels[0][:], fmt.Sprintf("jpgstack %s: unpacked from JPEG slice stack", tomo.Version))
	r.NLabl = 1

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, byteOrder(r.MachSt), r); err != nil {
		return err
	}
	buf := make([]byte, vol.Size.SliceVoxels())
	for z := 0; z < vol.NumSlices(); z++ {
		for i, v := range vol.Slice(z) {
			buf[i] = byte(v)
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// stats returns min, max, mean, and population standard deviation.
func stats(data []int8) (dmin, dmax, dmean, rms float32) {
	if len(data) == 0 {
		return
	}
	lo, hi := data[0], data[0]
	var sum int64
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += int64(v)
	}
	mean := float64(sum) / float64(len(data))
	var ss float64
	for _, v := range data {
		d := float64(v) - mean
		ss += d * d
	}
	return float32(lo), float32(hi), float32(mean), float32(math.Sqrt(ss / float64(len(data))))
}
