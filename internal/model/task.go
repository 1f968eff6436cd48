package model

import (
	"fmt"
	"strings"
	"time"
)

// UnknownETA marks a task whose remaining time cannot be estimated yet.
const UnknownETA = -1

// DownloadTask represents a single download unit. Once submitted it is owned
// by the orchestrator and mutated only under its state lock; observers receive
// value snapshots.
type DownloadTask struct {
	TaskID     string     // stable natural id of the source item, used as idempotency key
	URL        string
	Title      string
	Format     string     // output format (mp3, mp4, ...)
	Quality    string     // quality preset
	Status     TaskStatus
	Progress   float64    // 0.0 to 100.0
	Speed      string     // human readable speed (e.g. "1.2 MB/s")
	SpeedBPS   float64    // raw byte rate behind Speed
	ETASec     int        // ETA in seconds, UnknownETA if unknown
	Err        string     // last error message if any
	OutputPath string     // path to downloaded file
	StartedAt  time.Time  // when a worker picked the task up
	FinishedAt time.Time  // when the task reached a terminal state
}

// ETAString returns ETA formatted as hh:mm:ss, or "—" if unknown
func (dt *DownloadTask) ETAString() string {
	if dt.ETASec <= 0 {
		return "—"
	}

	hours := dt.ETASec / 3600
	minutes := (dt.ETASec % 3600) / 60
	seconds := dt.ETASec % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// DisplayTitle returns the resolved title when known, falling back to the URL
func (dt *DownloadTask) DisplayTitle() string {
	if dt.Title != "" && !strings.HasPrefix(dt.Title, "http") {
		return dt.Title
	}
	return dt.URL
}
