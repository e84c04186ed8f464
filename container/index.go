package container

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Index gives random access to the payloads of a container without reading it all.
type Index struct {
	r       io.ReaderAt
	offsets []int64 // offset of each payload's first byte
	lengths []uint32
}

// NewIndex scans the length prefixes of a container of the given total size.  Every
// declared length is checked against the size so later payload reads cannot run past
// the end.
func NewIndex(r io.ReaderAt, size int64) (*Index, error) {
	var hdr [4]byte
	if size < 4 {
		return nil, corrupt("container of %d bytes has no slice count", size)
	}
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, corrupt("reading slice count: %v", err)
	}
	count := int64(binary.LittleEndian.Uint32(hdr[:]))
	if count*4 > size-4 {
		return nil, corrupt("%d slices cannot fit in %d bytes", count, size)
	}
	idx := &Index{
		r:       r,
		offsets: make([]int64, count),
		lengths: make([]uint32, count),
	}
	pos := int64(4)
	for i := int64(0); i < count; i++ {
		if pos+4 > size {
			return nil, corrupt("length of slice %d is past end of %d byte container", i, size)
		}
		if _, err := r.ReadAt(hdr[:], pos); err != nil {
			return nil, corrupt("reading length of slice %d: %v", i, err)
		}
		length := binary.LittleEndian.Uint32(hdr[:])
		pos += 4
		if pos+int64(length) > size {
			return nil, corrupt("slice %d declares %d bytes but only %d remain", i, length, size-pos)
		}
		idx.offsets[i] = pos
		idx.lengths[i] = length
		pos += int64(length)
	}
	if pos != size {
		return nil, corrupt("unexpected %d bytes after %d declared slices", size-pos, count)
	}
	return idx, nil
}

// Len returns the number of slices.
func (idx *Index) Len() int {
	return len(idx.offsets)
}

// PayloadSize returns the byte length of payload i.
func (idx *Index) PayloadSize(i int) int {
	return int(idx.lengths[i])
}

// Payload reads payload i.
func (idx *Index) Payload(i int) ([]byte, error) {
	if i < 0 || i >= idx.Len() {
		return nil, fmt.Errorf("slice %d out of range [0,%d)", i, idx.Len())
	}
	buf := make([]byte, idx.lengths[i])
	n, err := idx.r.ReadAt(buf, idx.offsets[i])
	if n < len(buf) {
		return nil, fmt.Errorf("reading slice %d: %w", i, err)
	}
	return buf, nil
}
