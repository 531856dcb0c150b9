package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/catalog"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/downloader"
	dlhttp "github.com/lfelipegg/civitai-model-downloader-sub000/internal/http"
	"github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"
)

// Options configures the engine.
type Options struct {
	// Workers is the number of parallel download workers.
	// Default: 3
	Workers int

	// DestDir is where completed artifacts land.
	DestDir string

	// ChunkSize is the transfer chunk size.
	// Default: 64KB
	ChunkSize int

	// Limit is the engine-wide bandwidth cap in bytes/sec per transfer.
	// Individual tasks may override it. 0 means unlimited.
	Limit int64

	// Retry bounds the per-task attempt loop.
	// Default: 3 retries, 2s base backoff, 60s cap
	Retry RetryPolicy

	// EventBuffer sizes the observer event channel. When the buffer is
	// full the newest update is dropped rather than blocking a worker.
	// Default: 64
	EventBuffer int

	// QueueInfoInterval is how often queue positions are recomputed.
	// Default: 500ms
	QueueInfoInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 3
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 64 * 1024
	}
	if o.Retry.Count == 0 && o.Retry.Backoff == 0 {
		o.Retry = RetryPolicy{Count: 3, Backoff: 2 * time.Second, MaxBackoff: 60 * time.Second}
	}
	if o.Retry.Backoff <= 0 {
		o.Retry.Backoff = 2 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.QueueInfoInterval <= 0 {
		o.QueueInfoInterval = 500 * time.Millisecond
	}
	return o
}

// TaskSnapshot is the per-task view handed to polling observers.
type TaskSnapshot struct {
	ID       string
	Input    string
	State    State
	Err      string
	Progress progress.Snapshot
}

// Engine drains the task queue with a pool of workers, runs the full
// lifecycle of each task, and guarantees that every task reaches exactly
// one terminal state exactly once.
type Engine struct {
	opts     Options
	resolver catalog.Resolver
	client   *dlhttp.Client

	queue    *Queue
	registry *progress.Registry

	mu    sync.Mutex
	tasks map[string]*Task
	order []string

	events chan Event

	eg     *errgroup.Group
	stopCh chan struct{}
}

// New creates an engine. The registry is owned by the engine and lives
// for its lifetime; observers reach it through Snapshot and Events.
func New(resolver catalog.Resolver, client *dlhttp.Client, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:     opts,
		resolver: resolver,
		client:   client,
		queue:    NewQueue(),
		registry: progress.NewRegistry(),
		tasks:    make(map[string]*Task),
		events:   make(chan Event, opts.EventBuffer),
		stopCh:   make(chan struct{}),
	}
}

// Registry exposes the engine's tracker registry to observers.
func (e *Engine) Registry() *progress.Registry { return e.registry }

// Events returns the bounded observer channel. Updates are dropped, not
// blocked on, when the observer falls behind.
func (e *Engine) Events() <-chan Event { return e.events }

// QueueLen returns the number of tasks still waiting for a worker.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Start launches the worker pool. It returns immediately; use Wait to
// block until Stop has been called and all workers have drained.
func (e *Engine) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	e.eg = g

	for i := 0; i < e.opts.Workers; i++ {
		g.Go(func() error {
			return e.worker(gctx)
		})
	}

	// Keep queue positions fresh while running.
	g.Go(func() error {
		ticker := time.NewTicker(e.opts.QueueInfoInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.registry.UpdateQueueInfo()
			case <-gctx.Done():
				return nil
			case <-e.stopCh:
				return nil
			}
		}
	})

	// Unblock workers stuck in Dequeue when the context dies.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			e.queue.Close()
		case <-e.stopCh:
		}
		return nil
	})
}

// Stop closes the queue. Workers finish their current task, drain any
// remaining entries and exit.
func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.queue.Close()
}

// Wait blocks until all workers have exited.
func (e *Engine) Wait() error {
	if e.eg == nil {
		return nil
	}
	return e.eg.Wait()
}

// Enqueue registers a task for the given input and returns its ID.
func (e *Engine) Enqueue(input string) string {
	id := uuid.NewString()
	t := newTask(id, input, e.opts.Retry, e.registry.Create(id, 0))

	e.mu.Lock()
	e.tasks[id] = t
	e.order = append(e.order, id)
	e.mu.Unlock()

	e.queue.Enqueue(Entry{TaskID: id, Input: input})
	e.publish(Event{TaskID: id, Kind: EventState, State: StateQueued})
	return id
}

// Cancel sets the task's cancel signal. A task still waiting in the
// queue terminates immediately without any remote call; an active task
// observes the signal within one chunk's transfer time. A cancelled task
// never transitions to Completed.
func (e *Engine) Cancel(taskID string) bool {
	t := e.task(taskID)
	if t == nil {
		return false
	}
	t.Cancel.Set()
	if t.State() == StateQueued {
		e.terminate(t, StateCancelled, nil)
	}
	return true
}

// Pause shuts the task's pause gate. The transfer suspends at chunk
// granularity without discarding received bytes.
func (e *Engine) Pause(taskID string) bool {
	t := e.task(taskID)
	if t == nil {
		return false
	}
	t.Pause.Shut()
	if t.State() == StateActive {
		t.setState(StatePaused)
		e.publish(Event{TaskID: t.ID, Kind: EventState, State: StatePaused})
	}
	return true
}

// Resume lifts the task's pause gate.
func (e *Engine) Resume(taskID string) bool {
	t := e.task(taskID)
	if t == nil {
		return false
	}
	t.Pause.Lift()
	if t.State() == StatePaused {
		t.setState(StateActive)
		e.publish(Event{TaskID: t.ID, Kind: EventState, State: StateActive})
	}
	return true
}

// Move reorders a still-queued task one position up (-1) or down (+1).
// A task already claimed by a worker is unaffected.
func (e *Engine) Move(taskID string, direction int) bool {
	return e.queue.Move(taskID, direction)
}

// SetTaskLimit overrides a task's bandwidth cap; it takes effect on the
// task's next transfer attempt. A zero limit restores the engine-wide cap.
func (e *Engine) SetTaskLimit(taskID string, bps int64) bool {
	t := e.task(taskID)
	if t == nil {
		return false
	}
	t.SetLimit(bps)
	return true
}

// Task returns the task record for the given ID, or nil.
func (e *Engine) Task(taskID string) *Task { return e.task(taskID) }

// Snapshot returns a point-in-time view of every task in enqueue order.
func (e *Engine) Snapshot() []TaskSnapshot {
	e.mu.Lock()
	ids := append([]string(nil), e.order...)
	e.mu.Unlock()

	out := make([]TaskSnapshot, 0, len(ids))
	for _, id := range ids {
		t := e.task(id)
		if t == nil {
			continue
		}
		out = append(out, TaskSnapshot{
			ID:       t.ID,
			Input:    t.Input,
			State:    t.State(),
			Err:      errString(t.Err()),
			Progress: t.Tracker().Snapshot(),
		})
	}
	return out
}

func (e *Engine) task(taskID string) *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[taskID]
}

func (e *Engine) worker(ctx context.Context) error {
	for {
		entry, ok := e.queue.Dequeue()
		if !ok {
			return nil
		}

		t := e.task(entry.TaskID)
		if t == nil {
			continue
		}
		if ctx.Err() != nil {
			// Shutdown: drain the queue, terminating every remaining task
			// instead of leaving it queued without a terminal notification.
			e.terminate(t, StateCancelled, nil)
			continue
		}
		e.process(ctx, t)
	}
}

// process runs the full lifecycle of one dequeued task.
func (e *Engine) process(ctx context.Context, t *Task) {
	tracker := t.Tracker()

	// Cancelled while queued: no remote calls, ever.
	if t.Cancel.IsSet() || t.State().Terminal() {
		e.terminate(t, StateCancelled, nil)
		return
	}

	// Paused before starting: hold here, not mid-transfer.
	if t.Pause.IsShut() {
		if err := t.Pause.Wait(ctx, t.Cancel); err != nil {
			e.terminate(t, StateCancelled, nil)
			return
		}
	}

	t.setState(StateActive)
	e.registry.UpdateQueueInfo()
	e.publish(Event{TaskID: t.ID, Kind: EventState, State: StateActive})

	res, err := e.resolver.Resolve(ctx, t.Input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.terminate(t, StateCancelled, nil)
			return
		}
		// Resolution failures are terminal, never retried.
		e.terminate(t, StateFailed, fmt.Errorf("resolve %s: %w", t.Input, err))
		return
	}

	dest := filepath.Join(e.opts.DestDir, res.Filename)
	t.setResolved(res, dest)
	tracker.Update(0, res.Size)

	if present, err := e.resolver.AlreadyPresent(res, e.opts.DestDir); err == nil && present {
		tracker.Update(res.Size, res.Size)
		e.terminate(t, StateCompleted, nil)
		return
	}

	limit := t.Limit()
	if limit == 0 {
		limit = e.opts.Limit
	}

	var lastErr error
	for attempt := 0; attempt <= t.Retry.Count; attempt++ {
		if attempt > 0 {
			if !e.waitRetry(ctx, t, t.Retry.delay(attempt)) {
				e.terminate(t, StateCancelled, nil)
				return
			}
		}

		t.bumpAttempts()
		err := downloader.Download(ctx, e.client, res.URL, dest, downloader.Options{
			ChunkSize:      e.opts.ChunkSize,
			ExpectedSize:   res.Size,
			ExpectedSHA256: res.SHA256,
			Limit:          limit,
			Cancel:         t.Cancel,
			Pause:          t.Pause,
			Tracker:        tracker,
			Notify: func(written, total int64) {
				e.publish(Event{
					TaskID:   t.ID,
					Kind:     EventProgress,
					State:    t.State(),
					Snapshot: tracker.Snapshot(),
				})
			},
		})
		if err == nil {
			e.terminate(t, StateCompleted, nil)
			return
		}
		if errors.Is(err, downloader.ErrCancelled) || errors.Is(err, context.Canceled) {
			e.terminate(t, StateCancelled, nil)
			return
		}

		lastErr = err
		if !retryable(err) {
			break
		}
	}

	e.terminate(t, StateFailed, lastErr)
}

// waitRetry sleeps out a backoff delay in small steps so cancellation
// stays responsive. Time spent paused does not consume the delay.
func (e *Engine) waitRetry(ctx context.Context, t *Task, delay time.Duration) bool {
	const step = 200 * time.Millisecond

	remaining := delay
	for remaining > 0 {
		if t.Cancel.IsSet() {
			return false
		}
		if t.Pause.IsShut() {
			if err := t.Pause.Wait(ctx, t.Cancel); err != nil {
				return false
			}
			continue
		}

		sleep := step
		if remaining < step {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.Cancel.Done():
			return false
		case <-time.After(sleep):
			remaining -= sleep
		}
	}
	return true
}

// terminate moves a task to a terminal state. Only the first caller for
// a given task has any effect; the terminal notification is emitted
// exactly once.
func (e *Engine) terminate(t *Task, s State, err error) {
	if !t.finish(s, err) {
		return
	}

	tracker := t.Tracker()
	switch s {
	case StateCompleted:
		tracker.Complete()
	case StateFailed:
		tracker.Fail()
	case StateCancelled:
		tracker.Cancel()
	}
	e.registry.UpdateQueueInfo()

	e.publish(Event{
		TaskID:   t.ID,
		Kind:     EventState,
		State:    s,
		Err:      errString(err),
		Snapshot: tracker.Snapshot(),
	})
}

// retryable classifies a transfer error per the engine's policy: disk
// space, integrity and range failures are terminal; rate limiting,
// server errors and transport failures are worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, downloader.ErrChecksumMismatch) ||
		errors.Is(err, downloader.ErrInsufficientSpace) ||
		errors.Is(err, downloader.ErrCancelled) {
		return false
	}
	return dlhttp.Retryable(err)
}

// publish pushes an event without ever blocking a worker: when the
// observer's buffer is full, the newest update is dropped.
func (e *Engine) publish(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
