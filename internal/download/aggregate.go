package download

import "github.com/Nasapan23/sandsound/internal/model"

// Aggregate derives the overall progress summary from a consistent registry
// snapshot. Completed tasks contribute 100 to the overall percentage, active
// tasks their current percent, and queued/failed/cancelled tasks zero - they
// stay in the denominator so the figure reflects true batch completion.
func Aggregate(tasks []model.DownloadTask) model.AggregateProgress {
	agg := model.AggregateProgress{TotalTasks: len(tasks)}

	var totalProgress float64
	var totalRate float64

	for _, task := range tasks {
		switch task.Status {
		case model.TaskStatusCompleted:
			agg.CompletedTasks++
			totalProgress += 100
		case model.TaskStatusActive:
			agg.ActiveTasks++
			totalProgress += task.Progress
			totalRate += activeRate(task)
			agg.ActiveTitles = append(agg.ActiveTitles, task.Title)
		case model.TaskStatusQueued:
			agg.QueuedTasks++
		case model.TaskStatusFailed, model.TaskStatusCancelled:
			agg.FailedTasks++
		}
	}

	if agg.TotalTasks > 0 {
		agg.OverallProgress = totalProgress / float64(agg.TotalTasks)
	}
	agg.TotalSpeed = FormatRate(totalRate)

	return agg
}

// activeRate returns the task's byte rate, falling back to reparsing the
// display string for snapshots that carry only the formatted speed.
func activeRate(task model.DownloadTask) float64 {
	if task.SpeedBPS > 0 {
		return task.SpeedBPS
	}
	if task.Speed != "" {
		return ParseRate(task.Speed)
	}
	return 0
}
