/*
	Package convert runs conversion jobs between MRC volumes and slice containers.

	Packing normalizes the whole volume, encodes slices on a worker pool, and streams
	the encoded payloads into the container in depth order.  Unpacking reads a
	container, decodes slices on a worker pool, and writes a signed 8-bit volume
	whose header is rebuilt from the container's sidecar.  A job's output only becomes
	visible once every slice has succeeded.
*/
package convert

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/mrc"
	"github.com/janelia-flyem/jpgstack/normalize"
	"github.com/janelia-flyem/jpgstack/sidecar"
	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// Converter runs jobs against a store.
type Converter struct {
	Store storage.Store

	// Lookup finds header sidecars on unpack.  If nil, sidecars are matched by name
	// in Store.
	Lookup sidecar.Lookup
}

// New returns a Converter using the store for artifacts and sidecar lookup.
func New(store storage.Store) *Converter {
	return &Converter{Store: store}
}

func (c *Converter) lookup() sidecar.Lookup {
	if c.Lookup != nil {
		return c.Lookup
	}
	return sidecar.StoreLookup(c.Store)
}

// Run runs a job in its direction.
func (c *Converter) Run(ctx context.Context, job *Job) error {
	if job.Direction == Pack {
		return c.Pack(ctx, job)
	}
	return c.Unpack(ctx, job)
}

func (c *Converter) readVolume(ctx context.Context, name string) (*tomo.Volume, error) {
	r, err := c.Store.Reader(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return mrc.Read(r)
}

// Pack converts an MRC volume into a slice container and its header sidecar.
func (c *Converter) Pack(ctx context.Context, job *Job) error {
	timedLog := tomo.NewTimeLog()
	if err := ctx.Err(); err != nil {
		return job.fail(err)
	}
	opts := job.Options
	if err := opts.Validate(); err != nil {
		return job.fail(err)
	}
	if job.Output == "" {
		job.Output = PackOutputName(job.Input, opts.Quality, "")
	}
	if n, err := c.Store.Size(ctx, job.Input); err == nil {
		job.InputBytes = n
	}

	vol, err := c.readVolume(ctx, job.Input)
	if err != nil {
		return job.fail(fmt.Errorf("reading volume: %w", err))
	}
	if tomo.LogMode() <= tomo.DebugMode {
		tomo.Debugf("job %s: volume %s uses %s\n", job.ID, vol.Size, humanize.Bytes(uint64(size.Of(vol))))
	}
	slices, stats, err := normalize.ToSlices(vol)
	if err != nil {
		return job.fail(err)
	}
	job.Stats = stats
	job.Slices = len(slices)
	header := vol.Header
	vol.Data = nil
	tomo.Debugf("job %s: %s\n", job.ID, stats)

	w, err := c.Store.Writer(ctx, job.Output)
	if err != nil {
		return job.fail(err)
	}
	cw, err := container.NewWriter(w, len(slices))
	if err != nil {
		w.Abort()
		return job.fail(err)
	}

	job.setState(SlicesDispatched)
	codec := opts.codec()
	encode := func(ctx context.Context, z int) ([]byte, error) {
		payload, err := codec.Encode(slices[z], opts.Quality)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", z, err)
		}
		return payload, nil
	}
	add := func(z int, payload []byte) error {
		slices[z] = nil
		return cw.Add(payload)
	}
	if err := orderedMap(ctx, len(slices), opts.workers(), encode, add); err != nil {
		w.Abort()
		return job.fail(err)
	}

	job.setState(SlicesCollected)
	if err := cw.Close(); err != nil {
		w.Abort()
		return job.fail(err)
	}
	if err := w.Close(); err != nil {
		return job.fail(fmt.Errorf("committing %s: %w", job.Output, err))
	}
	job.OutputBytes = cw.BytesWritten()
	job.setState(Written)

	// A container without its sidecar is not a finished pack.
	name, err := sidecar.Write(ctx, c.Store, job.Output, header, opts.SidecarCompression)
	if err != nil {
		if rmErr := c.Store.Remove(context.Background(), job.Output); rmErr != nil {
			tomo.Errorf("job %s: could not remove %s after sidecar failure: %v\n", job.ID, job.Output, rmErr)
		}
		return job.fail(err)
	}
	job.Sidecar = name

	job.setState(Done)
	timedLog.Debugf("job %s: packed %d slices of %s into %s (%s)", job.ID, job.Slices, job.Input,
		job.Output, humanize.Bytes(uint64(job.OutputBytes)))
	return nil
}

func (c *Converter) readContainer(ctx context.Context, name string) ([][]byte, error) {
	r, err := c.Store.Reader(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return container.Read(r)
}

// Unpack converts a slice container into a signed 8-bit MRC volume.  A missing or
// unreadable sidecar only costs the restored header fields.
func (c *Converter) Unpack(ctx context.Context, job *Job) error {
	timedLog := tomo.NewTimeLog()
	if err := ctx.Err(); err != nil {
		return job.fail(err)
	}
	opts := job.Options
	if n, err := c.Store.Size(ctx, job.Input); err == nil {
		job.InputBytes = n
	}
	payloads, err := c.readContainer(ctx, job.Input)
	if err != nil {
		return job.fail(fmt.Errorf("reading container: %w", err))
	}
	if len(payloads) == 0 {
		return job.fail(fmt.Errorf("%w: container has no slices", tomo.ErrCorruptContainer))
	}
	job.Slices = len(payloads)

	header, sidecarName := sidecar.Read(ctx, c.lookup(), job.Input)
	job.Sidecar = sidecarName
	if job.Output == "" {
		job.Output = UnpackOutputName(job.Input, sidecarName)
	}

	job.setState(SlicesDispatched)
	images := make([]*image.Gray, len(payloads))
	decode := func(ctx context.Context, z int) (*image.Gray, error) {
		// The codec comes from the payload signature, else from the options.
		codec, err := slicecodec.Detect(payloads[z])
		if err != nil {
			codec = opts.codec()
		}
		img, err := codec.Decode(payloads[z])
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", z, err)
		}
		return img, nil
	}
	collect := func(z int, img *image.Gray) error {
		payloads[z] = nil
		images[z] = img
		return nil
	}
	if err := orderedMap(ctx, len(payloads), opts.workers(), decode, collect); err != nil {
		return job.fail(err)
	}

	job.setState(SlicesCollected)
	vol, err := normalize.FromSlices(images)
	if err != nil {
		return job.fail(err)
	}
	hdr := mrc.NewHeader(vol.Size)
	copied, skipped := tomo.CopyFields(hdr, header, tomo.RecognizedFields)
	job.CopiedFields = copied
	for name, reason := range skipped {
		tomo.Debugf("job %s: header field %s not restored: %v\n", job.ID, name, reason)
	}

	w, err := c.Store.Writer(ctx, job.Output)
	if err != nil {
		return job.fail(err)
	}
	cw := &countingWriter{w: w}
	if err := mrc.Write(cw, hdr, vol); err != nil {
		w.Abort()
		return job.fail(fmt.Errorf("writing volume: %w", err))
	}
	if err := w.Close(); err != nil {
		return job.fail(fmt.Errorf("committing %s: %w", job.Output, err))
	}
	job.OutputBytes = cw.n
	job.setState(Written)

	job.setState(Done)
	timedLog.Debugf("job %s: unpacked %d slices of %s into %s (%d header fields restored)", job.ID,
		job.Slices, job.Input, job.Output, len(copied))
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
