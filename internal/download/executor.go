package download

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/Nasapan23/sandsound/internal/config"
)

// ProgressInterval is the cadence at which the engine emits progress updates
const ProgressInterval = 500 * time.Millisecond

// Output template for yt-dlp
const DefaultOutputTemplate = "%(title)s.%(ext)s"

// Format selector tables for yt-dlp
var (
	audioFormats = map[string]string{
		"mp3":  "bestaudio/best",
		"m4a":  "bestaudio[ext=m4a]/bestaudio/best",
		"opus": "bestaudio[ext=opus]/bestaudio/best",
		"flac": "bestaudio/best",
		"wav":  "bestaudio/best",
	}

	videoFormats = map[string]string{
		"mp4":  "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"webm": "bestvideo[ext=webm]+bestaudio[ext=webm]/best[ext=webm]/best",
		"mkv":  "bestvideo+bestaudio/best",
	}

	audioQualities = map[string]string{
		"128":  "128",
		"192":  "192",
		"256":  "256",
		"320":  "320",
		"best": "0", // best quality in yt-dlp terms
	}

	videoHeights = map[string]string{
		"480":  "480",
		"720":  "720",
		"1080": "1080",
		"1440": "1440",
		"2160": "2160",
		"4320": "4320",
	}
)

const defaultVideoSelector = "bestvideo+bestaudio/best"

// Engine executes download jobs via yt-dlp. Safe for concurrent use: every
// Execute call builds its own command.
type Engine struct {
	downloadDir    string
	cookieFile     string
	ffmpegLocation string
	outputTemplate string
}

// NewEngine creates the production executor from configuration
func NewEngine(cfg config.Config) *Engine {
	e := &Engine{
		downloadDir:    cfg.DownloadDir,
		ffmpegLocation: cfg.FFmpegLocation(),
		outputTemplate: DefaultOutputTemplate,
	}
	if cfg.IsCookieValid() {
		e.cookieFile = cfg.CookieFile
	}
	return e
}

// Execute runs one fetch to completion, translating the engine's raw
// progress payloads into normalized events. The token is checked on every
// progress callback; the instant it is observed set the underlying run
// context is cancelled and the call returns ErrCancelled.
func (e *Engine) Execute(ctx context.Context, job JobSpec, token *CancelToken, onProgress func(ProgressEvent)) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dl := ytdlp.New().
		ForceOverwrites().
		RestrictFilenames().
		Output(filepath.Join(e.downloadDir, e.outputTemplate))

	applyFormat(dl, resolveFormat(job))
	if e.cookieFile != "" {
		dl.Cookies(e.cookieFile)
	}
	if e.ffmpegLocation != "" {
		dl.FFmpegLocation(e.ffmpegLocation)
	}

	var prev progressSample
	dl.ProgressFunc(ProgressInterval, func(update ytdlp.ProgressUpdate) {
		if token.Cancelled() {
			cancel()
			return
		}
		if onProgress == nil {
			return
		}
		onProgress(normalizeProgress(rawFromUpdate(&update), &prev, time.Now()))
	})

	_, err := dl.Run(runCtx, job.URL)

	// Cancellation takes precedence over whatever error the aborted run
	// surfaced on its way out.
	if token.Cancelled() || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	return nil
}

// fetchFormat is the resolved yt-dlp format plan for one job.
type fetchFormat struct {
	selector     string
	extractAudio bool
	audioFormat  string
	audioQuality string
	mergeFormat  string
}

// resolveFormat maps a job's format/quality pair onto yt-dlp selectors.
// Audio formats extract and re-encode through FFmpeg; video formats cap the
// stream height when a numeric quality is requested.
func resolveFormat(job JobSpec) fetchFormat {
	if selector, ok := audioFormats[job.Format]; ok {
		plan := fetchFormat{
			selector:     selector,
			extractAudio: true,
			audioFormat:  job.Format,
			audioQuality: audioQualities["best"],
		}
		if quality, ok := audioQualities[job.Quality]; ok {
			plan.audioQuality = quality
		}
		return plan
	}

	plan := fetchFormat{selector: defaultVideoSelector}
	if selector, ok := videoFormats[job.Format]; ok {
		plan.selector = selector
	}
	if height, ok := videoHeights[job.Quality]; ok {
		plan.selector = fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", height, height)
	}
	if job.Format == "mp4" || job.Format == "mkv" {
		plan.mergeFormat = job.Format
	}
	return plan
}

// applyFormat configures the command from a resolved plan
func applyFormat(dl *ytdlp.Command, plan fetchFormat) {
	dl.Format(plan.selector)
	if plan.extractAudio {
		dl.ExtractAudio()
		dl.AudioFormat(plan.audioFormat)
		dl.AudioQuality(plan.audioQuality)
	}
	if plan.mergeFormat != "" {
		dl.MergeOutputFormat(plan.mergeFormat)
	}
}

// rawProgress is the subset of the engine's progress payload the normalizer
// consumes.
type rawProgress struct {
	downloaded int64
	total      int64
	started    time.Time
	eta        time.Duration
	title      string
}

// progressSample remembers the previous callback for delta-based throughput.
type progressSample struct {
	bytes int64
	at    time.Time
}

// rawFromUpdate extracts the normalizer's inputs from a yt-dlp update
func rawFromUpdate(update *ytdlp.ProgressUpdate) rawProgress {
	raw := rawProgress{
		downloaded: int64(update.DownloadedBytes),
		total:      int64(update.TotalBytes),
		started:    update.Started,
		eta:        update.ETA(),
	}
	if update.Info != nil && update.Info.Title != nil {
		raw.title = *update.Info.Title
	}
	return raw
}

// normalizeProgress translates one raw engine payload into a normalized
// event. The engine may report estimated totals or none at all; percent is 0
// when no total is known. Throughput is the byte delta since the previous
// callback, falling back to the run average on the first sample.
func normalizeProgress(raw rawProgress, prev *progressSample, now time.Time) ProgressEvent {
	ev := ProgressEvent{
		Phase:  PhaseRunning,
		ETASec: -1,
		Title:  raw.title,
	}

	switch {
	case raw.downloaded == 0:
		ev.Phase = PhasePending
	case raw.total > 0 && raw.downloaded >= raw.total:
		ev.Phase = PhaseFinalizing
	}

	if raw.total > 0 {
		ev.Percent = float64(raw.downloaded) / float64(raw.total) * 100
	}

	if !prev.at.IsZero() {
		elapsed := now.Sub(prev.at).Seconds()
		if delta := raw.downloaded - prev.bytes; elapsed > 0 && delta >= 0 {
			ev.BytesPerSec = float64(delta) / elapsed
		}
	} else if !raw.started.IsZero() {
		if elapsed := now.Sub(raw.started).Seconds(); elapsed > 0 {
			ev.BytesPerSec = float64(raw.downloaded) / elapsed
		}
	}
	prev.bytes = raw.downloaded
	prev.at = now

	if raw.eta > 0 {
		ev.ETASec = int(raw.eta.Seconds())
	}

	return ev
}
