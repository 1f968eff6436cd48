package model

// AggregateProgress is a derived summary of the whole task registry. It is
// recomputed from a consistent snapshot on every state transition and never
// stored independently.
//
// FailedTasks counts both failed and cancelled tasks, so
// CompletedTasks + ActiveTasks + QueuedTasks + FailedTasks == TotalTasks
// holds at every observation point.
type AggregateProgress struct {
	TotalTasks      int
	CompletedTasks  int
	ActiveTasks     int
	QueuedTasks     int
	FailedTasks     int
	OverallProgress float64  // 0.0 to 100.0 across the whole batch
	TotalSpeed      string   // summed throughput of active tasks, display-formatted
	ActiveTitles    []string // titles of active tasks in submission order
}
