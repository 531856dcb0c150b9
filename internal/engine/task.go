package engine

import (
	"sync"
	"time"

	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/catalog"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/downloader"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

// State is the control-plane lifecycle of a task, distinct from the
// transfer phase owned by its progress tracker.
type State string

const (
	StateQueued    State = "queued"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// RetryPolicy bounds the attempt loop for one task.
type RetryPolicy struct {
	// Count is the number of retries after the first attempt.
	Count int

	// Backoff is the base delay; attempt n waits Backoff * 2^(n-1),
	// capped at MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// delay computes the backoff before the given attempt (attempt >= 1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff * time.Duration(1<<uint(attempt-1))
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Task is one queued unit of work representing a single artifact.
type Task struct {
	ID    string
	Input string

	// Cancel and Pause are independently settable control signals,
	// observed by the transfer at chunk granularity.
	Cancel *downloader.Signal
	Pause  *downloader.Gate

	Retry RetryPolicy

	tracker *progress.Tracker

	mu       sync.Mutex
	state    State
	err      error
	attempts int
	limit    int64
	resolved *catalog.Resolved
	dest     string
}

// Limit returns the per-task bandwidth cap in bytes/sec; 0 means the
// task falls back to the engine-wide limit.
func (t *Task) Limit() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit
}

// SetLimit overrides the task's bandwidth cap. It takes effect on the
// next transfer attempt.
func (t *Task) SetLimit(bps int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit = bps
}

func newTask(id, input string, retry RetryPolicy, tracker *progress.Tracker) *Task {
	return &Task{
		ID:      id,
		Input:   input,
		Cancel:  downloader.NewSignal(),
		Pause:   downloader.NewGate(),
		Retry:   retry,
		tracker: tracker,
		state:   StateQueued,
	}
}

// State returns the current control-plane state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the terminal failure reason, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Attempts returns how many transfer attempts have been made.
func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Tracker returns the task's progress tracker. A task has exactly one
// tracker for its lifetime.
func (t *Task) Tracker() *progress.Tracker { return t.tracker }

// Resolved returns the catalog metadata once resolution has happened.
func (t *Task) Resolved() *catalog.Resolved {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}

func (t *Task) setResolved(res *catalog.Resolved, dest string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolved = res
	t.dest = dest
}

func (t *Task) destination() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dest
}

func (t *Task) bumpAttempts() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
}

// setState transitions between non-terminal states. It refuses to leave
// a terminal state.
func (t *Task) setState(s State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = s
	return true
}

// finish moves the task to a terminal state exactly once. The first
// caller wins; later calls report false and change nothing.
func (t *Task) finish(s State, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = s
	t.err = err
	return true
}
