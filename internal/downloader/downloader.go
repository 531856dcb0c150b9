package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

// Transfer errors. All of these are terminal: the engine never retries
// them.
var (
	ErrCancelled         = errors.New("downloader: transfer cancelled")
	ErrChecksumMismatch  = errors.New("downloader: checksum mismatch")
	ErrInsufficientSpace = errors.New("downloader: insufficient disk space")
)

// Options configures a single transfer.
type Options struct {
	// ChunkSize is the size of each streamed chunk.
	// Default: 64KB
	ChunkSize int

	// ExpectedSize is the artifact size reported by the catalog, if known.
	ExpectedSize int64

	// ExpectedSHA256, if set, is compared (case-insensitively) against the
	// running hash after the transfer. On mismatch the destination file is
	// deleted and ErrChecksumMismatch returned.
	ExpectedSHA256 string

	// Limit caps the transfer rate in bytes per second. 0 means unlimited.
	Limit int64

	// Cancel aborts the transfer at chunk granularity, leaving the partial
	// file on disk for a later resume.
	Cancel *Signal

	// Pause suspends the transfer at chunk granularity while shut.
	Pause *Gate

	// Tracker receives progress samples and phase transitions. Optional.
	Tracker *progress.Tracker

	// NotifyInterval throttles outbound progress notifications so bursty
	// chunk arrival cannot saturate an observer.
	// Default: 100ms
	NotifyInterval time.Duration

	// Notify is called (throttled) with the running byte tally. Optional.
	Notify func(written, total int64)
}

// Download streams url into dest, resuming a partial file if one exists.
//
// The running SHA-256 is seeded from the bytes already on disk, so a
// resumed transfer verifies exactly like an uninterrupted one. If the
// server rejects the resume range, the partial file is deleted and the
// transfer restarts from offset zero exactly once.
func Download(ctx context.Context, client *dlhttp.Client, url, dest string, opts Options) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 64 * 1024
	}
	if opts.NotifyInterval <= 0 {
		opts.NotifyInterval = 100 * time.Millisecond
	}
	if opts.Cancel == nil {
		opts.Cancel = NewSignal()
	}
	if opts.Pause == nil {
		opts.Pause = NewGate()
	}

	restarted := false
	for {
		err := transfer(ctx, client, url, dest, opts)
		if errors.Is(err, dlhttp.ErrRangeNotSupported) && !restarted {
			// The server refuses to resume our partial file. Throw it away
			// and start over, but only once per call.
			if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
				return fmt.Errorf("remove partial file: %w", rmErr)
			}
			restarted = true
			continue
		}
		return err
	}
}

func transfer(ctx context.Context, client *dlhttp.Client, url, dest string, opts Options) error {
	offset, hasher, err := seedHash(dest)
	if err != nil {
		return err
	}

	total := opts.ExpectedSize
	if total > 0 {
		if avail, ok := availableSpace(filepath.Dir(dest)); ok && total-offset > avail {
			return fmt.Errorf("%w: need %s, %s available",
				ErrInsufficientSpace, progress.FormatBytes(total-offset), progress.FormatBytes(avail))
		}
	}

	if total > 0 && offset >= total {
		// Partial file already covers the full artifact.
		return finish(dest, hasher, offset, total, opts)
	}

	setPhase(opts.Tracker, progress.PhaseConnecting)

	resp, err := client.GetFrom(ctx, url, offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if total <= 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}

	setPhase(opts.Tracker, progress.PhaseDownloading)

	written, err := stream(ctx, f, resp.Body, hasher, offset, total, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close destination: %w", cerr)
	}
	if err != nil {
		return err
	}

	return finish(dest, hasher, written, total, opts)
}

// stream copies the response body to the destination in fixed-size chunks,
// honoring cancel, pause and bandwidth signals between chunks. It returns
// the total byte tally including the resumed offset.
func stream(ctx context.Context, dst io.Writer, src io.Reader, hasher hash.Hash, offset, total int64, opts Options) (int64, error) {
	var limiter *rate.Limiter
	if opts.Limit > 0 {
		burst := int(opts.Limit)
		if burst < opts.ChunkSize {
			burst = opts.ChunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Limit), burst)
	}

	buf := make([]byte, opts.ChunkSize)
	written := offset
	var lastNotify time.Time

	for {
		if opts.Cancel.IsSet() {
			return written, ErrCancelled
		}
		if opts.Pause.IsShut() {
			setPhase(opts.Tracker, progress.PhasePaused)
			if err := opts.Pause.Wait(ctx, opts.Cancel); err != nil {
				return written, err
			}
			setPhase(opts.Tracker, progress.PhaseDownloading)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write chunk: %w", err)
			}
			hasher.Write(buf[:n])
			written += int64(n)

			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}

			if time.Since(lastNotify) >= opts.NotifyInterval {
				lastNotify = time.Now()
				notify(written, total, opts)
			}
		}

		if readErr == io.EOF {
			notify(written, total, opts)
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}
}

// finish verifies the completed file against the expected hash.
func finish(dest string, hasher hash.Hash, written, total int64, opts Options) error {
	notify(written, total, opts)
	setPhase(opts.Tracker, progress.PhaseVerifying)

	if opts.ExpectedSHA256 != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, opts.ExpectedSHA256) {
			os.Remove(dest)
			return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, opts.ExpectedSHA256, actual)
		}
	}
	return nil
}

// seedHash measures an existing partial file and replays it through a
// fresh SHA-256 so the running hash matches an uninterrupted download.
func seedHash(dest string) (int64, hash.Hash, error) {
	h := sha256.New()

	f, err := os.Open(dest)
	if os.IsNotExist(err) {
		return 0, h, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("open partial file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, fmt.Errorf("hash partial file: %w", err)
	}
	return n, h, nil
}

func setPhase(t *progress.Tracker, p progress.Phase) {
	if t != nil {
		t.SetPhase(p)
	}
}

func notify(written, total int64, opts Options) {
	if opts.Tracker != nil {
		opts.Tracker.Update(written, total)
	}
	if opts.Notify != nil {
		opts.Notify(written, total)
	}
}
