package model

// TaskStatus represents the lifecycle state of a download task.
// A task moves Queued -> Active -> {Completed | Failed | Cancelled};
// the three terminal states are mutually exclusive and visited at most once.
type TaskStatus string

const (
	// TaskStatusQueued means the task is accepted but no worker picked it up yet
	TaskStatusQueued TaskStatus = "Queued"

	// TaskStatusActive means a worker is executing the download
	TaskStatusActive TaskStatus = "Active"

	// TaskStatusCompleted means the task finished successfully
	TaskStatusCompleted TaskStatus = "Completed"

	// TaskStatusFailed means the task failed with an error
	TaskStatusFailed TaskStatus = "Failed"

	// TaskStatusCancelled means the task was cancelled by the user
	TaskStatusCancelled TaskStatus = "Cancelled"
)

// String returns the string representation of TaskStatus
func (ts TaskStatus) String() string {
	return string(ts)
}

// IsActive returns true if a worker currently owns the task
func (ts TaskStatus) IsActive() bool {
	return ts == TaskStatusActive
}

// IsTerminal returns true if the task reached one of the terminal states
// (completed, failed, or cancelled)
func (ts TaskStatus) IsTerminal() bool {
	return ts == TaskStatusCompleted || ts == TaskStatusFailed || ts == TaskStatusCancelled
}
