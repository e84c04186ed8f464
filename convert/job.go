package convert

import (
	"fmt"
	"sync"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/jpgstack/normalize"
	"github.com/janelia-flyem/jpgstack/tomo"
)

// State is the progress of a conversion job.
type State int

const (
	Pending State = iota
	SlicesDispatched
	SlicesCollected
	Written
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case SlicesDispatched:
		return "SlicesDispatched"
	case SlicesCollected:
		return "SlicesCollected"
	case Written:
		return "Written"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Direction says whether a job packs a volume or unpacks a container.
type Direction int

const (
	Pack Direction = iota
	Unpack
)

func (d Direction) String() string {
	if d == Pack {
		return "pack"
	}
	return "unpack"
}

// Job is the conversion of one input file into one output file.
type Job struct {
	ID        string
	Direction Direction
	Input     string
	Output    string // may be empty for unpack, then derived from the sidecar
	Options   Options

	// Filled in as the job runs.
	Sidecar      string   // sidecar written (pack) or used (unpack)
	Slices       int      // number of slices converted
	InputBytes   int64    // size of the input artifact
	OutputBytes  int64    // size of the output artifact
	Stats        normalize.Stats
	CopiedFields []string // header fields restored from the sidecar on unpack

	mu    sync.RWMutex
	state State
	err   error
}

// NewJob returns a pending job.
func NewJob(dir Direction, input, output string, opts Options) *Job {
	return &Job{
		ID:        uuid.NewV4().String(),
		Direction: dir,
		Input:     input,
		Output:    output,
		Options:   opts,
	}
}

// State returns the current state of the job.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Err returns the error that failed the job, if any.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) String() string {
	return fmt.Sprintf("%s job %s (%s -> %s)", j.Direction, j.ID, j.Input, j.Output)
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	old := j.state
	j.state = s
	j.mu.Unlock()
	tomo.Debugf("job %s: %s -> %s\n", j.ID, old, s)
}

// fail moves the job to Failed and returns a *tomo.JobError recording the state
// the failure happened in.
func (j *Job) fail(err error) error {
	j.mu.Lock()
	if j.state == Failed {
		j.mu.Unlock()
		return j.err
	}
	jobErr := &tomo.JobError{Job: j.Input, State: j.state.String(), Err: err}
	j.state = Failed
	j.err = jobErr
	j.mu.Unlock()
	tomo.Debugf("job %s: failed: %v\n", j.ID, err)
	return jobErr
}
