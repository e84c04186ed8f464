/*
	Package batch turns command line inputs into conversion jobs and runs them within
	a single worker budget.

	Inputs may be files, directories, or glob patterns.  A single input file gets
	every worker for its slices.  Several input files run one file per worker with
	sequential slices, so total parallelism never exceeds the budget.  A failed job
	never stops its siblings, and every failure is reported.
*/
package batch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"github.com/janelia-flyem/jpgstack/container"
	"github.com/janelia-flyem/jpgstack/convert"
	"github.com/janelia-flyem/jpgstack/storage"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// PackExtensions are the volume file extensions picked up from input directories.
var PackExtensions = []string{".mrc", ".rec"}

// Request is one invocation of pack or unpack.
type Request struct {
	Direction convert.Direction
	Inputs    []string // files, directories, or glob patterns
	Output    string   // output file for a single input, otherwise a directory
	Options   convert.Options
}

// Driver resolves and runs batches.
type Driver struct {
	Converter *convert.Converter
}

// New returns a Driver over the store.
func New(store storage.Store) *Driver {
	return &Driver{Converter: convert.New(store)}
}

func (d *Driver) store() storage.Store {
	return d.Converter.Store
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[`)
}

func (d *Driver) extensions(dir convert.Direction) []string {
	if dir == convert.Pack {
		return PackExtensions
	}
	return []string{container.Extension}
}

// resolve expands inputs into input files.  dirMode is set if any input was a
// directory or pattern.
func (d *Driver) resolve(ctx context.Context, req Request) (files []string, dirMode bool, err error) {
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	for _, input := range req.Inputs {
		isDir, err := d.store().IsDir(ctx, input)
		if err != nil {
			return nil, false, err
		}
		switch {
		case isDir:
			dirMode = true
			for _, ext := range d.extensions(req.Direction) {
				matches, err := d.store().Glob(ctx, path.Join(storage.EscapeGlob(input), "*"+ext))
				if err != nil {
					return nil, false, err
				}
				for _, m := range matches {
					add(m)
				}
			}
		case hasMeta(input):
			dirMode = true
			matches, err := d.store().Glob(ctx, input)
			if err != nil {
				return nil, false, fmt.Errorf("bad input pattern %q: %v", input, err)
			}
			for _, m := range matches {
				add(m)
			}
		default:
			add(input)
		}
	}
	if len(files) == 0 {
		return nil, dirMode, fmt.Errorf("%w: %s", tomo.ErrNoInputs, strings.Join(req.Inputs, ", "))
	}
	return files, dirMode, nil
}

// Jobs resolves a request into jobs with output names and per-job worker counts.
func (d *Driver) Jobs(ctx context.Context, req Request) ([]*convert.Job, error) {
	files, dirMode, err := d.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	single := len(files) == 1 && !dirMode

	outDir := ""
	if req.Output != "" {
		isDir, err := d.store().IsDir(ctx, req.Output)
		if err != nil {
			return nil, err
		}
		if isDir || strings.HasSuffix(req.Output, "/") || !single {
			if !isDir && storage.Exists(ctx, d.store(), req.Output) {
				return nil, fmt.Errorf("output %q exists and is not a directory", req.Output)
			}
			outDir = req.Output
		}
	}

	opts := req.Options
	if single {
		opts.Workers = tomo.NumCPU(opts.Workers)
	} else {
		opts.Workers = 1
	}
	jobs := make([]*convert.Job, len(files))
	for i, input := range files {
		var output string
		switch {
		case req.Direction == convert.Pack && outDir != "":
			output = convert.PackOutputName(input, opts.Quality, outDir)
		case req.Direction == convert.Pack && req.Output != "":
			output = convert.ContainerName(req.Output)
		case req.Direction == convert.Pack:
			output = convert.PackOutputName(input, opts.Quality, "")
		case outDir != "" && dirMode:
			output = convert.BatchUnpackOutputName(input, outDir)
		case outDir != "":
			output = path.Join(outDir, convert.Stem(input)+convert.VolumeExtension)
		default:
			output = req.Output // empty means named from the sidecar
		}
		jobs[i] = convert.NewJob(req.Direction, input, output, opts)
	}
	return jobs, nil
}

// Summary reports the outcome of a batch.
type Summary struct {
	Direction convert.Direction
	Jobs      []*convert.Job
	Elapsed   time.Duration
}

// Failed returns the jobs that did not finish.
func (s *Summary) Failed() []*convert.Job {
	var failed []*convert.Job
	for _, job := range s.Jobs {
		if job.State() != convert.Done {
			failed = append(failed, job)
		}
	}
	return failed
}

// Err joins the errors of all failed jobs, or returns nil if every job succeeded.
func (s *Summary) Err() error {
	var errs []error
	for _, job := range s.Failed() {
		errs = append(errs, job.Err())
	}
	return errors.Join(errs...)
}

// Bytes returns the summed input and output sizes of the successful jobs.
func (s *Summary) Bytes() (in, out int64) {
	for _, job := range s.Jobs {
		if job.State() == convert.Done {
			in += job.InputBytes
			out += job.OutputBytes
		}
	}
	return
}

// Reduction returns the percentage by which successful outputs are smaller than
// their inputs.
func (s *Summary) Reduction() float64 {
	in, out := s.Bytes()
	if in == 0 {
		return 0
	}
	return 100 * (1 - float64(out)/float64(in))
}

func (s *Summary) String() string {
	in, out := s.Bytes()
	return fmt.Sprintf("%sed %d of %d files (%s -> %s) in %s", s.Direction,
		len(s.Jobs)-len(s.Failed()), len(s.Jobs), humanize.Bytes(uint64(in)),
		humanize.Bytes(uint64(out)), s.Elapsed.Round(time.Millisecond))
}

// Run resolves and runs a request.  Job failures are recorded in the Summary; the
// returned error is only for requests that could not be resolved.
func (d *Driver) Run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()
	jobs, err := d.Jobs(ctx, req)
	if err != nil {
		return nil, err
	}
	budget := tomo.NumCPU(req.Options.Workers)
	if len(jobs) > 1 {
		tomo.Infof("Converting %d files, %d at a time\n", len(jobs), budget)
	} else {
		tomo.Debugf("Converting %s with %d slice workers\n", jobs[0].Input, jobs[0].Options.Workers)
	}

	sem := semaphore.NewWeighted(int64(budget))
	var wg sync.WaitGroup
	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled: the job fails immediately on the done context.
			d.Converter.Run(ctx, job)
			continue
		}
		wg.Add(1)
		go func(job *convert.Job) {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.Converter.Run(ctx, job); err != nil {
				tomo.Errorf("%v\n", err)
			}
		}(job)
	}
	wg.Wait()
	return &Summary{Direction: req.Direction, Jobs: jobs, Elapsed: time.Since(start)}, nil
}
