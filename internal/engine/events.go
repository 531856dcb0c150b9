package engine

import "github.com/lfelipegg/civitai-model-downloader-sub000/internal/progress"

// EventKind distinguishes progress samples from state transitions.
type EventKind string

const (
	// EventProgress carries a fresh progress snapshot for a task.
	EventProgress EventKind = "progress"

	// EventState marks a task state transition. Terminal states are
	// published exactly once per task.
	EventState EventKind = "state"
)

// Event is pushed to observers over the engine's bounded event channel.
// Events are plain values; observers never share state with workers.
type Event struct {
	TaskID   string
	Kind     EventKind
	State    State
	Err      string // terminal failure reason, empty otherwise
	Snapshot progress.Snapshot
}
