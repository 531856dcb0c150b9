package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/catalog"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/config"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/downloader"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/engine"
	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ExitOnError)

	configPath := fs.String("config", "", "Path to YAML config file")
	apiURL := fs.String("api-url", "", "Catalog API base URL (default: production API)")
	apiKey := fs.String("api-key", "", "API key for authenticated downloads")
	dir := fs.String("dir", "", "Download directory")
	workers := fs.Int("workers", 0, "Number of parallel download workers")
	chunkSize := fs.String("chunk-size", "", "Transfer chunk size (e.g. 64KB)")
	limit := fs.String("limit", "", "Bandwidth limit per transfer in bytes/sec (e.g. 2MB)")
	retries := fs.Int("retries", 0, "Retry attempts per transfer")
	showProgress := fs.Bool("progress", false, "Render progress to stderr")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: civitai-dl download [options] <url-or-id> [<url-or-id>...]

Download one or more model files. Inputs may be model page URLs, model
version URLs, or bare model IDs. Partial downloads resume automatically
and completed files are verified against their published SHA256 hash.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one model URL or ID is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, code := buildConfig(*configPath, func(override *config.Config) error {
		override.APIKey = *apiKey
		override.DownloadDir = *dir
		override.Workers = *workers
		override.Progress = *showProgress
		if *retries != 0 {
			override.Retry.Attempts = *retries
		}
		if *chunkSize != "" {
			size, err := progress.ParseBytes(*chunkSize)
			if err != nil {
				return fmt.Errorf("parse -chunk-size: %w", err)
			}
			override.ChunkSize = size
		}
		if *limit != "" {
			bps, err := progress.ParseBytes(*limit)
			if err != nil {
				return fmt.Errorf("parse -limit: %w", err)
			}
			override.BandwidthLimit = bps
		}
		return nil
	})
	if code != ExitSuccess {
		return code
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating download directory: %v\n", err)
		return ExitGeneralError
	}

	httpOpts := dlhttp.DefaultOptions()
	httpOpts.APIKey = cfg.APIKey
	client := dlhttp.NewClient(httpOpts)
	resolver := catalog.NewClient(client, *apiURL)

	eng := engine.New(resolver, client, engine.Options{
		Workers:   cfg.Workers,
		DestDir:   cfg.DownloadDir,
		ChunkSize: int(cfg.ChunkSize),
		Limit:     cfg.BandwidthLimit,
		Retry: engine.RetryPolicy{
			Count:      cfg.Retry.Attempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)

	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		ids = append(ids, eng.Enqueue(input))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[civitai-dl] Received interrupt, cancelling downloads...")
		for _, id := range ids {
			eng.Cancel(id)
		}
	}()

	code = watchDownloads(eng, ids, cfg.Progress)

	eng.Stop()
	eng.Wait()
	return code
}

// buildConfig assembles the effective configuration: defaults, then the
// config file, then environment variables, then flag overrides.
func buildConfig(configPath string, applyFlags func(*config.Config) error) (config.Config, int) {
	cfg := config.Default()

	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return config.Config{}, ExitGeneralError
		}
		cfg = loaded
	}

	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, ExitGeneralError
	}

	var override config.Config
	if err := applyFlags(&override); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, ExitInvalidArgs
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return config.Config{}, ExitInvalidArgs
	}
	return cfg, ExitSuccess
}

// watchDownloads polls task states until every task has reached a
// terminal state, rendering aggregate progress along the way.
func watchDownloads(eng *engine.Engine, ids []string, render bool) int {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		<-ticker.C

		done := 0
		var bytes, total int64
		var speed float64
		for _, id := range ids {
			t := eng.Task(id)
			if t.State().Terminal() {
				done++
			}
			snap := t.Tracker().Snapshot()
			bytes += snap.BytesDownloaded
			total += snap.TotalSize
			speed += snap.CurrentSpeed
		}

		if render {
			fmt.Fprintf(os.Stderr, "\r[civitai-dl] %d/%d done  %s / %s  %s",
				done, len(ids),
				progress.FormatBytes(bytes), progress.FormatBytes(total),
				progress.FormatSpeed(speed))
		}

		if done == len(ids) {
			break
		}
	}
	if render {
		fmt.Fprintln(os.Stderr)
	}

	return summarize(eng, ids)
}

func summarize(eng *engine.Engine, ids []string) int {
	completed, cancelled := 0, 0
	var integrity, resolve, transfer bool

	for _, id := range ids {
		t := eng.Task(id)
		switch t.State() {
		case engine.StateCompleted:
			completed++
			fmt.Fprintf(os.Stderr, "[civitai-dl] Completed: %s\n", t.Input)
		case engine.StateCancelled:
			cancelled++
			fmt.Fprintf(os.Stderr, "[civitai-dl] Cancelled: %s\n", t.Input)
		case engine.StateFailed:
			err := t.Err()
			fmt.Fprintf(os.Stderr, "[civitai-dl] Failed: %s: %v\n", t.Input, err)
			switch {
			case errors.Is(err, downloader.ErrChecksumMismatch):
				integrity = true
			case errors.Is(err, catalog.ErrInvalidInput):
				resolve = true
			default:
				transfer = true
			}
		}
	}

	fmt.Fprintf(os.Stderr, "[civitai-dl] %d completed, %d failed, %d cancelled\n",
		completed, len(ids)-completed-cancelled, cancelled)

	switch {
	case integrity:
		return ExitIntegrityFailed
	case resolve:
		return ExitResolveFailed
	case transfer:
		return ExitDownloadFailed
	case cancelled > 0:
		return ExitInterrupted
	}
	return ExitSuccess
}
