package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// rangedServer serves data with open-ended range support and records the
// Range header of every request.
type rangedServer struct {
	*httptest.Server
	mu     sync.Mutex
	ranges []string
}

func newRangedServer(t *testing.T, data []byte) *rangedServer {
	t.Helper()
	rs := &rangedServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, rangeHeader)
		rs.mu.Unlock()

		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
			return
		}

		start, _ := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rangeHeader, "bytes="), "-"), 10, 64)
		if start >= int64(len(data)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)-int(start)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start:])
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *rangedServer) requests() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

func newTestClient() *dlhttp.Client {
	return dlhttp.NewClient(dlhttp.DefaultOptions())
}

func TestDownloadFresh(t *testing.T) {
	data := testData(256 * 1024)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ExpectedSize:   int64(len(data)),
		ExpectedSHA256: sha256hex(data),
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), len(got))
	}

	reqs := server.requests()
	if len(reqs) != 1 || reqs[0] != "" {
		t.Errorf("expected one plain GET, got %v", reqs)
	}
}

func TestDownloadResume(t *testing.T) {
	data := testData(128 * 1024)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	// A partial file from an earlier, interrupted transfer.
	partial := 30 * 1024
	if err := os.WriteFile(dest, data[:partial], 0644); err != nil {
		t.Fatal(err)
	}

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ExpectedSize:   int64(len(data)),
		ExpectedSHA256: sha256hex(data),
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if sha256hex(got) != sha256hex(data) {
		t.Error("resumed file differs from an uninterrupted download")
	}

	reqs := server.requests()
	if len(reqs) != 1 || reqs[0] != fmt.Sprintf("bytes=%d-", partial) {
		t.Errorf("expected one resume request from %d, got %v", partial, reqs)
	}
}

func TestDownloadAlreadyComplete(t *testing.T) {
	data := testData(4096)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	if err := os.WriteFile(dest, data, 0644); err != nil {
		t.Fatal(err)
	}

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ExpectedSize:   int64(len(data)),
		ExpectedSHA256: sha256hex(data),
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if len(server.requests()) != 0 {
		t.Errorf("expected no requests for a complete file, got %v", server.requests())
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	data := testData(4096)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ExpectedSize:   int64(len(data)),
		ExpectedSHA256: "def456",
	})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("expected corrupt destination file to be deleted")
	}
}

func TestDownloadChecksumCaseInsensitive(t *testing.T) {
	data := testData(4096)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ExpectedSHA256: strings.ToUpper(sha256hex(data)),
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
}

func TestDownloadRangeRejectedRestartsOnce(t *testing.T) {
	data := testData(64 * 1024)
	var mu sync.Mutex
	var rangeRequests, plainRequests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("Range") != "" {
			rangeRequests++
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		plainRequests++
		w.Write(data)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(dest, []byte("stale partial content"), 0644); err != nil {
		t.Fatal(err)
	}

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ExpectedSize:   int64(len(data)),
		ExpectedSHA256: sha256hex(data),
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if sha256hex(got) != sha256hex(data) {
		t.Error("restarted file differs from source data")
	}

	mu.Lock()
	defer mu.Unlock()
	if rangeRequests != 1 || plainRequests != 1 {
		t.Errorf("expected 1 rejected resume + 1 restart, got %d ranged / %d plain", rangeRequests, plainRequests)
	}
}

// slowServer trickles data so signals can fire mid-transfer.
func slowServer(t *testing.T, data []byte, chunk int, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		flusher := w.(http.Flusher)
		for i := 0; i < len(data); i += chunk {
			end := i + chunk
			if end > len(data) {
				end = len(data)
			}
			if _, err := w.Write(data[i:end]); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(delay)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDownloadCancelLeavesPartialFile(t *testing.T) {
	data := testData(64 * 1024)
	server := slowServer(t, data, 4*1024, 20*time.Millisecond)
	dest := filepath.Join(t.TempDir(), "model.bin")

	cancel := NewSignal()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel.Set()
	}()

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ChunkSize: 4 * 1024,
		Cancel:    cancel,
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	fi, statErr := os.Stat(dest)
	if statErr != nil {
		t.Fatalf("expected partial file to remain: %v", statErr)
	}
	if fi.Size() == 0 || fi.Size() >= int64(len(data)) {
		t.Errorf("expected a partial file, got %d of %d bytes", fi.Size(), len(data))
	}
}

func TestDownloadPauseResume(t *testing.T) {
	data := testData(64 * 1024)
	server := slowServer(t, data, 8*1024, 10*time.Millisecond)
	dest := filepath.Join(t.TempDir(), "model.bin")

	pause := NewGate()
	tracker := progress.NewTracker("task-1", int64(len(data)))

	go func() {
		time.Sleep(30 * time.Millisecond)
		pause.Shut()
		time.Sleep(100 * time.Millisecond)
		pause.Lift()
	}()

	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ChunkSize:      8 * 1024,
		ExpectedSHA256: sha256hex(data),
		Pause:          pause,
		Tracker:        tracker,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if sha256hex(got) != sha256hex(data) {
		t.Error("paused-and-resumed file differs from an uninterrupted download")
	}

	if d := tracker.PhaseDurations()[progress.PhasePaused]; d < 50*time.Millisecond {
		t.Errorf("expected time recorded in paused phase, got %v", d)
	}
}

func TestDownloadBandwidthLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping bandwidth test in short mode")
	}

	data := testData(96 * 1024)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	limit := int64(32 * 1024)
	start := time.Now()
	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ChunkSize: 16 * 1024,
		Limit:     limit,
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	elapsed := time.Since(start)

	// 96KB at 32KB/s with a 32KB burst needs roughly 2s.
	if elapsed < 1500*time.Millisecond {
		t.Errorf("transfer finished in %v, limit %d bytes/s was not applied", elapsed, limit)
	}

	rate := float64(len(data)) / elapsed.Seconds()
	if rate > float64(limit)*1.5 {
		t.Errorf("measured rate %.0f exceeds limit %d by more than tolerance", rate, limit)
	}
}

func TestDownloadProgressMonotonic(t *testing.T) {
	data := testData(128 * 1024)
	server := newRangedServer(t, data)
	dest := filepath.Join(t.TempDir(), "model.bin")

	var mu sync.Mutex
	var samples []int64
	err := Download(context.Background(), newTestClient(), server.URL, dest, Options{
		ChunkSize:      8 * 1024,
		NotifyInterval: time.Nanosecond, // every chunk
		Notify: func(written, total int64) {
			mu.Lock()
			samples = append(samples, written)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if len(samples) == 0 {
		t.Fatal("expected progress notifications")
	}
	for i := 1; i < len(samples); i++ {
		if samples[i] < samples[i-1] {
			t.Fatalf("byte tally went backwards: %d after %d", samples[i], samples[i-1])
		}
	}
	if samples[len(samples)-1] != int64(len(data)) {
		t.Errorf("final tally %d, want %d", samples[len(samples)-1], len(data))
	}
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	if s.IsSet() {
		t.Error("new signal must be unset")
	}

	s.Set()
	s.Set() // idempotent
	if !s.IsSet() {
		t.Error("expected signal set")
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done channel should be closed after Set")
	}
}

func TestGateWait(t *testing.T) {
	g := NewGate()

	// Open gate: Wait returns immediately.
	if err := g.Wait(context.Background(), NewSignal()); err != nil {
		t.Fatalf("Wait on open gate: %v", err)
	}

	g.Shut()
	if !g.IsShut() {
		t.Error("expected gate shut")
	}

	released := make(chan error, 1)
	go func() {
		released <- g.Wait(context.Background(), NewSignal())
	}()

	select {
	case <-released:
		t.Fatal("Wait returned while gate was shut")
	case <-time.After(50 * time.Millisecond):
	}

	g.Lift()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Wait after Lift: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Lift")
	}
}

func TestGateWaitCancelled(t *testing.T) {
	g := NewGate()
	g.Shut()

	cancel := NewSignal()
	released := make(chan error, 1)
	go func() {
		released <- g.Wait(context.Background(), cancel)
	}()

	cancel.Set()
	select {
	case err := <-released:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
