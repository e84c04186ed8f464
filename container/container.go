/*
	Package container reads and writes slice stacks: a little-endian uint32 slice count
	followed, for each slice in depth order, by a uint32 payload length and the payload.
	There is no checksum and no per-slice metadata beyond the length.
*/
package container

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/janelia-flyem/jpgstack/tomo"
)

// Extension is the file extension of slice stack containers.
const Extension = ".jpgs"

// maxPrealloc caps how much memory is reserved before payload bytes actually arrive.
const maxPrealloc = 16 * tomo.Mega

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", tomo.ErrCorruptContainer, fmt.Sprintf(format, args...))
}

// Writer streams payloads into a container.  The slice count is committed when the
// Writer is created, so exactly that many payloads must be added before Close.
type Writer struct {
	w       *bufio.Writer
	count   int
	written int
	bytes   int64
}

// NewWriter writes the container header for count slices.
func NewWriter(w io.Writer, count int) (*Writer, error) {
	if count < 0 || count > math.MaxUint32 {
		return nil, fmt.Errorf("cannot write container with %d slices", count)
	}
	cw := &Writer{w: bufio.NewWriter(w), count: count}
	if err := binary.Write(cw.w, binary.LittleEndian, uint32(count)); err != nil {
		return nil, err
	}
	cw.bytes = 4
	return cw, nil
}

// Add appends the next payload in depth order.
func (cw *Writer) Add(payload []byte) error {
	if cw.written >= cw.count {
		return fmt.Errorf("container declared %d slices, cannot add more", cw.count)
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("slice %d payload of %d bytes too large", cw.written, len(payload))
	}
	if err := binary.Write(cw.w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := cw.w.Write(payload); err != nil {
		return err
	}
	cw.written++
	cw.bytes += 4 + int64(len(payload))
	return nil
}

// BytesWritten returns the number of container bytes written so far.
func (cw *Writer) BytesWritten() int64 {
	return cw.bytes
}

// Close flushes buffered data.  It returns an error if fewer payloads were added
// than declared.  The underlying writer is not closed.
func (cw *Writer) Close() error {
	if cw.written != cw.count {
		return fmt.Errorf("container declared %d slices but only %d were added", cw.count, cw.written)
	}
	return cw.w.Flush()
}

// Write writes a complete container of payloads in order.
func Write(w io.Writer, payloads [][]byte) error {
	cw, err := NewWriter(w, len(payloads))
	if err != nil {
		return err
	}
	for _, payload := range payloads {
		if err := cw.Add(payload); err != nil {
			return err
		}
	}
	return cw.Close()
}

// Reader returns payloads of a container one at a time in depth order.
type Reader struct {
	r     *bufio.Reader
	count int
	read  int
}

// NewReader reads the container header.
func NewReader(r io.Reader) (*Reader, error) {
	cr := &Reader{r: bufio.NewReader(r)}
	var count uint32
	if err := binary.Read(cr.r, binary.LittleEndian, &count); err != nil {
		return nil, corrupt("reading slice count: %v", err)
	}
	cr.count = int(count)
	return cr, nil
}

// Len returns the declared number of slices.
func (cr *Reader) Len() int {
	return cr.count
}

// Next returns the next payload or io.EOF after the last declared slice.  Truncated
// lengths or payloads are corruption errors.
func (cr *Reader) Next() ([]byte, error) {
	if cr.read >= cr.count {
		return nil, io.EOF
	}
	var length uint32
	if err := binary.Read(cr.r, binary.LittleEndian, &length); err != nil {
		return nil, corrupt("reading length of slice %d of %d: %v", cr.read, cr.count, err)
	}
	prealloc := int(length)
	if prealloc > maxPrealloc {
		prealloc = maxPrealloc
	}
	buf := bytes.NewBuffer(make([]byte, 0, prealloc))
	n, err := io.CopyN(buf, cr.r, int64(length))
	if err != nil {
		return nil, corrupt("slice %d declares %d bytes but only %d remain", cr.read, length, n)
	}
	cr.read++
	return buf.Bytes(), nil
}

// Read reads all payloads of a container in order.  Bytes after the last declared
// payload are treated as corruption.
func Read(r io.Reader) ([][]byte, error) {
	cr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	prealloc := cr.Len()
	if prealloc > 65536 {
		prealloc = 65536
	}
	payloads := make([][]byte, 0, prealloc)
	for {
		payload, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	if _, err := cr.r.ReadByte(); err != io.EOF {
		return nil, corrupt("unexpected bytes after %d declared slices", cr.count)
	}
	return payloads, nil
}
