package convert

import (
	"fmt"

	"github.com/janelia-flyem/jpgstack/slicecodec"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// Options are the settings shared read-only by every worker of a job.
type Options struct {
	Quality            int              // lossy codec quality in [1,100]
	Workers            int              // slice workers; 1 runs slices sequentially
	Codec              slicecodec.Codec // nil means JPEG
	SidecarCompression tomo.Compression
}

// DefaultOptions returns JPEG at the default quality with one worker per CPU.
func DefaultOptions() Options {
	return Options{
		Quality:            slicecodec.DefaultQuality,
		Workers:            tomo.NumCPU(0),
		Codec:              slicecodec.JPEG{},
		SidecarCompression: tomo.Snappy,
	}
}

func (opts Options) codec() slicecodec.Codec {
	if opts.Codec == nil {
		return slicecodec.JPEG{}
	}
	return opts.Codec
}

func (opts Options) workers() int {
	if opts.Workers < 1 {
		return 1
	}
	return opts.Workers
}

// Validate checks the quality and warns if it is above the useful range.
func (opts Options) Validate() error {
	if err := slicecodec.ValidateQuality(opts.Quality); err != nil {
		return err
	}
	if opts.Quality > slicecodec.MaxUsefulQuality && opts.codec().Lossy() {
		tomo.Warningf("Quality %d above %d gives little compression benefit\n", opts.Quality, slicecodec.MaxUsefulQuality)
	}
	if opts.Workers < 0 {
		return fmt.Errorf("worker count must not be negative, got %d", opts.Workers)
	}
	return nil
}
