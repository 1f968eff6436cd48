package download

import "errors"

// ErrCancelled marks a run aborted by its CancelToken.
var ErrCancelled = errors.New("download cancelled")

// ErrBusy is returned by SubmitBatch while a previous batch is still in
// flight. Callers wait for batch completion or cancel explicitly.
var ErrBusy = errors.New("a batch is already in flight")

// Phase of a normalized progress event.
type Phase string

const (
	// PhasePending means the engine accepted the job but no bytes moved yet
	PhasePending Phase = "pending"

	// PhaseRunning means content is being transferred
	PhaseRunning Phase = "running"

	// PhaseFinalizing means the transfer is done and the engine is
	// post-processing (merging, transcoding)
	PhaseFinalizing Phase = "finalizing"
)

// JobSpec describes one fetch for the executor.
type JobSpec struct {
	URL     string
	Format  string
	Quality string
}

// ProgressEvent is the engine-agnostic progress payload. Percent is 0 when
// the engine reports no total size; it is not guaranteed to increase
// monotonically, since totals may be estimates revised downward.
type ProgressEvent struct {
	Phase       Phase
	Percent     float64
	BytesPerSec float64
	ETASec      int
	Title       string
}
