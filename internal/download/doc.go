package download

// Package download implements the core download pipeline: a job executor
// built on top of yt-dlp (via github.com/lrstanley/go-ytdlp), the task
// orchestrator owning the registry and the bounded worker pool, cooperative
// cancellation tokens, and the aggregate progress computation.
