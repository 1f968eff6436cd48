// SandSound command line fetcher.
//
// Takes a video or playlist URL, resolves the work set against the fetch
// history, and runs the downloads through the bounded worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"

	"github.com/Nasapan23/sandsound/internal/config"
	"github.com/Nasapan23/sandsound/internal/download"
	"github.com/Nasapan23/sandsound/internal/history"
	"github.com/Nasapan23/sandsound/internal/model"
	"github.com/Nasapan23/sandsound/internal/platform"
)

func main() {
	var (
		configPath  = flag.String("config", config.DefaultPath(), "path to the config file")
		format      = flag.String("format", "", "output format (mp3, m4a, mp4, ...); overrides the config")
		quality     = flag.String("quality", "", "quality (192, 720, best, ...); overrides the config")
		outDir      = flag.String("out", "", "download directory; overrides the config")
		workers     = flag.Int("workers", 0, "number of parallel downloads; overrides the config")
		historyPath = flag.String("history", history.DefaultPath(), "path to the fetch history file")
		newOnly     = flag.Bool("new-only", true, "skip items already recorded in the fetch history")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	log.DefaultLogger = log.Logger{
		Level:  log.InfoLevel,
		Writer: &log.ConsoleWriter{ColorOutput: true},
	}
	if *verbose {
		log.DefaultLogger.Level = log.DebugLevel
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] URL\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	url := flag.Arg(0)

	cfg := config.Load(*configPath)
	if *format != "" {
		cfg.DefaultFormat = *format
	}
	if *quality != "" {
		cfg.DefaultQuality = *quality
	}
	if *outDir != "" {
		cfg.DownloadDir = *outDir
	}
	if *workers != 0 {
		cfg.ConcurrentDownloads = *workers
	}

	if err := run(cfg, url, *historyPath, *newOnly); err != nil {
		log.Error().Err(err).Msg("fetch failed")
		os.Exit(1)
	}
}

func run(cfg config.Config, url, historyPath string, newOnly bool) error {
	if err := platform.CreateDirectoryIfNotExists(cfg.DownloadDir); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	ledger := history.Open(historyPath)
	engine := download.NewEngine(cfg)
	service := download.NewService(engine, cfg.ConcurrentDownloads)
	service.SetRecorder(ledger)

	done := make(chan struct{})
	service.SetBatchCompleteCallback(func() {
		close(done)
	})
	service.SetUpdateCallback(func(task model.DownloadTask) {
		switch task.Status {
		case model.TaskStatusActive:
			log.Debug().
				Str("task", task.DisplayTitle()).
				Float64("percent", task.Progress).
				Str("speed", task.Speed).
				Str("eta", task.ETAString()).
				Msg("progress")
		case model.TaskStatusCompleted:
			log.Info().Str("task", task.DisplayTitle()).Msg("completed")
		case model.TaskStatusFailed:
			log.Warn().Str("task", task.DisplayTitle()).Str("error", task.Err).Msg("failed")
		case model.TaskStatusCancelled:
			log.Info().Str("task", task.DisplayTitle()).Msg("cancelled")
		}
	})

	batch, err := buildBatch(cfg, url, ledger, newOnly)
	if err != nil {
		return err
	}
	if len(batch.Tasks) == 0 {
		log.Info().Msg("nothing to fetch, everything is up to date")
		return nil
	}

	if err := service.SubmitBatch(batch); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		log.Info().Msg("interrupt received, cancelling")
		service.CancelAll()
		<-done
	case <-done:
	}

	agg := service.Aggregate()
	log.Info().
		Int("completed", agg.CompletedTasks).
		Int("failed", agg.FailedTasks).
		Int("total", agg.TotalTasks).
		Msg("batch finished")

	if agg.FailedTasks > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", agg.FailedTasks, agg.TotalTasks)
	}
	return nil
}

// buildBatch resolves a URL into the set of tasks to run. Collection URLs are
// probed for their member listing and filtered against the fetch history;
// plain URLs become a single standalone task.
func buildBatch(cfg config.Config, url string, ledger *history.Ledger, newOnly bool) (download.Batch, error) {
	if !platform.IsCollectionURL(url) {
		return download.Batch{
			Tasks: []*model.DownloadTask{{
				URL:     url,
				Format:  cfg.DefaultFormat,
				Quality: cfg.DefaultQuality,
			}},
		}, nil
	}

	prober := platform.NewProber()
	collection, err := prober.ProbeCollection(context.Background(), url)
	if err != nil {
		return download.Batch{}, err
	}
	log.Info().
		Str("collection", collection.Title).
		Int("items", len(collection.Items)).
		Msg("collection probed")

	wanted := make(map[string]struct{})
	if newOnly {
		for _, id := range ledger.NewItems(collection.ID, collection.ItemIDs()) {
			wanted[id] = struct{}{}
		}
	} else {
		for _, id := range collection.ItemIDs() {
			wanted[id] = struct{}{}
		}
	}

	tasks := make([]*model.DownloadTask, 0, len(wanted))
	for _, item := range collection.Items {
		if _, ok := wanted[item.ID]; !ok {
			continue
		}
		tasks = append(tasks, &model.DownloadTask{
			TaskID:  item.ID,
			URL:     item.URL,
			Title:   item.Title,
			Format:  cfg.DefaultFormat,
			Quality: cfg.DefaultQuality,
		})
	}

	skipped := len(collection.Items) - len(tasks)
	if skipped > 0 {
		log.Info().Int("skipped", skipped).Msg("already fetched items excluded")
	}

	return download.Batch{Collection: collection.Ref(), Tasks: tasks}, nil
}
