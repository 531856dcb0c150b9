package progress

import "sync"

// Registry owns the mapping from task IDs to trackers. It is safe for
// concurrent use by workers and observers.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	order    []string // creation order; queue positions rank in this order
}

// NewRegistry creates an empty registry. Registries are plain values
// owned by whoever constructs them; there is no process-wide instance.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Create registers a tracker for the given task. A task has exactly one
// tracker for its lifetime: if one is already registered, it is returned
// unchanged.
func (r *Registry) Create(taskID string, totalSize int64) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[taskID]; ok {
		return t
	}
	t := NewTracker(taskID, totalSize)
	r.trackers[taskID] = t
	r.order = append(r.order, taskID)
	return t
}

// Get returns the tracker for the given task, or nil.
func (r *Registry) Get(taskID string) *Tracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[taskID]
}

// Remove deletes the tracker for the given task.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trackers[taskID]; !ok {
		return
	}
	delete(r.trackers, taskID)
	for i, id := range r.order {
		if id == taskID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered trackers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}

// Snapshots returns a snapshot per registered tracker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	ids := make([]string, 0, len(r.trackers))
	for id, t := range r.trackers {
		ids = append(ids, id)
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	out := make(map[string]Snapshot, len(trackers))
	for i, t := range trackers {
		out[ids[i]] = t.Snapshot()
	}
	return out
}

// UpdateQueueInfo recomputes queue positions across all trackers in an
// active phase (a dense 1..N ranking) and files-completed/total across
// all registered trackers, so observers see a consistent view even as
// tasks finish out of order. Active trackers are ranked in creation
// order, so repeated recomputes never reshuffle positions unless a
// tracker actually changed phase.
func (r *Registry) UpdateQueueInfo() {
	r.mu.RLock()
	var active []*Tracker
	var completed int
	total := len(r.trackers)
	for _, id := range r.order {
		t := r.trackers[id]
		switch {
		case t.Phase().Active():
			active = append(active, t)
		case t.Phase() == PhaseCompleted:
			completed++
		}
	}
	r.mu.RUnlock()

	for i, t := range active {
		t.SetQueueInfo(i+1, len(active), completed, total)
	}
}
