package tomo

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerateStatistics is returned when a volume has no intensity variation
	// and cannot be normalized.
	ErrDegenerateStatistics = errors.New("degenerate statistics: volume has zero variance")

	// ErrCorruptContainer signals a truncated or malformed slice container.
	ErrCorruptContainer = errors.New("corrupt container")

	// ErrCodec signals a failure encoding or decoding a single slice image.
	ErrCodec = errors.New("slice codec failure")

	// ErrNoInputs is returned when a batch resolves to zero input files.
	ErrNoInputs = errors.New("no matching input files")

	// ErrSidecarNotFound is returned by sidecar lookups that find no header file.
	ErrSidecarNotFound = errors.New("header sidecar not found")
)

// JobError records which conversion job failed and in what state.
type JobError struct {
	Job   string // input path of the job
	State string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s failed while %s: %v", e.Job, e.State, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
