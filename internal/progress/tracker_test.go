package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTrackerInitialState(t *testing.T) {
	tracker := NewTracker("task-1", 1000)

	snap := tracker.Snapshot()
	if snap.Phase != PhaseInitializing {
		t.Errorf("expected initializing phase, got %s", snap.Phase)
	}
	if snap.BytesDownloaded != 0 {
		t.Errorf("expected 0 bytes, got %d", snap.BytesDownloaded)
	}
	if snap.TotalSize != 1000 {
		t.Errorf("expected total 1000, got %d", snap.TotalSize)
	}
	if snap.ETA != 0 {
		t.Errorf("expected indeterminate ETA, got %v", snap.ETA)
	}
}

func TestTrackerPhaseTransitions(t *testing.T) {
	tracker := NewTracker("task-1", 0)

	tracker.SetPhase(PhaseConnecting)
	time.Sleep(20 * time.Millisecond)
	tracker.SetPhase(PhaseDownloading)

	if tracker.Phase() != PhaseDownloading {
		t.Errorf("expected downloading, got %s", tracker.Phase())
	}

	durations := tracker.PhaseDurations()
	if durations[PhaseConnecting] < 10*time.Millisecond {
		t.Errorf("expected connecting duration recorded, got %v", durations[PhaseConnecting])
	}
	if _, ok := durations[PhaseInitializing]; !ok {
		t.Error("expected initializing duration recorded")
	}
}

func TestTrackerTerminalPhaseLatches(t *testing.T) {
	tracker := NewTracker("task-1", 0)

	tracker.Complete()
	tracker.Fail()
	tracker.Cancel()
	tracker.SetPhase(PhaseDownloading)

	if tracker.Phase() != PhaseCompleted {
		t.Errorf("expected completed to latch, got %s", tracker.Phase())
	}
}

func TestTrackerPauseResume(t *testing.T) {
	tracker := NewTracker("task-1", 0)
	tracker.SetPhase(PhaseDownloading)

	tracker.Pause()
	if tracker.Phase() != PhasePaused {
		t.Errorf("expected paused, got %s", tracker.Phase())
	}

	tracker.Resume()
	if tracker.Phase() != PhaseDownloading {
		t.Errorf("expected downloading, got %s", tracker.Phase())
	}
}

func TestTrackerUpdatePercentage(t *testing.T) {
	tracker := NewTracker("task-1", 1000)

	snap := tracker.Update(250, 0)
	if snap.Percentage != 25 {
		t.Errorf("expected 25%%, got %.1f", snap.Percentage)
	}

	// Total size learned late
	tracker = NewTracker("task-2", 0)
	snap = tracker.Update(500, 2000)
	if snap.TotalSize != 2000 {
		t.Errorf("expected total 2000, got %d", snap.TotalSize)
	}
	if snap.Percentage != 25 {
		t.Errorf("expected 25%%, got %.1f", snap.Percentage)
	}
}

func TestTrackerZeroTotalIsIndeterminate(t *testing.T) {
	tracker := NewTracker("task-1", 0)

	snap := tracker.Update(12345, 0)
	if snap.Percentage != 0 {
		t.Errorf("expected indeterminate percentage, got %.1f", snap.Percentage)
	}
	if snap.ETA != 0 {
		t.Errorf("expected indeterminate ETA, got %v", snap.ETA)
	}
}

func TestTrackerBytesMonotonic(t *testing.T) {
	tracker := NewTracker("task-1", 1000)

	tracker.Update(500, 0)
	snap := tracker.Update(300, 0)

	if snap.BytesDownloaded != 500 {
		t.Errorf("expected byte count to hold at 500, got %d", snap.BytesDownloaded)
	}
}

func TestTrackerSpeedAndETA(t *testing.T) {
	tracker := NewTracker("task-1", 1<<20)

	var bytes int64
	for i := 0; i < 5; i++ {
		bytes += 64 << 10
		tracker.Update(bytes, 0)
		time.Sleep(110 * time.Millisecond)
	}
	snap := tracker.Update(bytes+64<<10, 0)

	if snap.CurrentSpeed <= 0 {
		t.Errorf("expected positive current speed, got %.1f", snap.CurrentSpeed)
	}
	if snap.AverageSpeed <= 0 {
		t.Errorf("expected positive average speed, got %.1f", snap.AverageSpeed)
	}
	if snap.PeakSpeed < snap.CurrentSpeed/10 {
		t.Errorf("peak %.1f implausible against current %.1f", snap.PeakSpeed, snap.CurrentSpeed)
	}
	if snap.ETA < 0 {
		t.Errorf("ETA must never be negative, got %v", snap.ETA)
	}
	if snap.ETA == 0 {
		t.Error("expected a determinate ETA with positive speed")
	}
	// Clamp: never more than 5x elapsed, never under 1s
	if snap.ETA > 5*snap.Elapsed && snap.ETA > time.Second {
		t.Errorf("ETA %v exceeds 5x elapsed %v", snap.ETA, snap.Elapsed)
	}
}

func TestTrackerETANeverNegativeWhenOverdelivered(t *testing.T) {
	tracker := NewTracker("task-1", 100)

	snap := tracker.Update(100, 0)
	if snap.ETA != 0 {
		t.Errorf("expected zero ETA at completion, got %v", snap.ETA)
	}

	snap = tracker.Update(150, 0)
	if snap.ETA != 0 {
		t.Errorf("expected zero ETA past completion, got %v", snap.ETA)
	}
}

func TestTrackerQueueInfo(t *testing.T) {
	tracker := NewTracker("task-1", 0)
	tracker.SetQueueInfo(2, 5, 1, 6)

	snap := tracker.Snapshot()
	if snap.QueuePosition != 2 || snap.QueueTotal != 5 {
		t.Errorf("expected position 2/5, got %d/%d", snap.QueuePosition, snap.QueueTotal)
	}
	if snap.FilesCompleted != 1 || snap.FilesTotal != 6 {
		t.Errorf("expected files 1/6, got %d/%d", snap.FilesCompleted, snap.FilesTotal)
	}
}

func TestTrackerConcurrentUpdates(t *testing.T) {
	tracker := NewTracker("task-1", 1<<20)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.Update(int64(n*1000+j), 0)
				tracker.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if tracker.Snapshot().BytesDownloaded == 0 {
		t.Error("expected progress recorded")
	}
}

func TestRegistryCreateGetRemove(t *testing.T) {
	registry := NewRegistry()

	tracker := registry.Create("task-1", 100)
	if tracker == nil {
		t.Fatal("expected tracker")
	}

	// One tracker per task lifetime
	if again := registry.Create("task-1", 999); again != tracker {
		t.Error("expected Create to return the existing tracker")
	}

	if registry.Get("task-1") != tracker {
		t.Error("expected Get to return the tracker")
	}
	if registry.Get("missing") != nil {
		t.Error("expected nil for unknown task")
	}

	registry.Remove("task-1")
	if registry.Get("task-1") != nil {
		t.Error("expected tracker removed")
	}
}

func TestRegistryUpdateQueueInfo(t *testing.T) {
	registry := NewRegistry()

	a := registry.Create("a", 0)
	b := registry.Create("b", 0)
	c := registry.Create("c", 0)

	a.SetPhase(PhaseDownloading)
	b.SetPhase(PhaseConnecting)
	c.Complete()

	registry.UpdateQueueInfo()

	positions := map[int]bool{}
	for _, tr := range []*Tracker{a, b} {
		snap := tr.Snapshot()
		if snap.QueueTotal != 2 {
			t.Errorf("expected queue total 2, got %d", snap.QueueTotal)
		}
		if snap.FilesCompleted != 1 || snap.FilesTotal != 3 {
			t.Errorf("expected files 1/3, got %d/%d", snap.FilesCompleted, snap.FilesTotal)
		}
		positions[snap.QueuePosition] = true
	}

	// Dense 1..N ranking over active trackers
	if !positions[1] || !positions[2] {
		t.Errorf("expected dense positions 1 and 2, got %v", positions)
	}

	if c.Snapshot().QueuePosition != 0 {
		t.Error("completed tracker should not receive a queue position")
	}
}

func TestRegistryQueuePositionsStable(t *testing.T) {
	registry := NewRegistry()

	var ids []string
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("task-%d", i)
		ids = append(ids, id)
		registry.Create(id, 1000).SetPhase(PhaseDownloading)
	}

	// Positions follow creation order.
	registry.UpdateQueueInfo()
	for i, id := range ids {
		if got := registry.Get(id).Snapshot().QueuePosition; got != i+1 {
			t.Errorf("%s: expected position %d, got %d", id, i+1, got)
		}
	}

	// Recomputing with no phase change must not reshuffle anything.
	for n := 0; n < 10; n++ {
		registry.UpdateQueueInfo()
		for i, id := range ids {
			if got := registry.Get(id).Snapshot().QueuePosition; got != i+1 {
				t.Fatalf("recompute %d: %s moved from %d to %d with no state change", n, id, i+1, got)
			}
		}
	}

	// A finished tracker leaves the ranking; the rest keep their order.
	registry.Get(ids[0]).Complete()
	registry.UpdateQueueInfo()
	for i, id := range ids[1:] {
		if got := registry.Get(id).Snapshot().QueuePosition; got != i+1 {
			t.Errorf("after completion: %s expected position %d, got %d", id, i+1, got)
		}
	}
}

func TestRegistrySnapshots(t *testing.T) {
	registry := NewRegistry()
	registry.Create("a", 100).Update(50, 0)
	registry.Create("b", 200)

	snaps := registry.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps["a"].BytesDownloaded != 50 {
		t.Errorf("expected 50 bytes for a, got %d", snaps["a"].BytesDownloaded)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			tr := registry.Create(id, 100)
			tr.Update(int64(n), 0)
			registry.UpdateQueueInfo()
			registry.Snapshots()
			registry.Get(id)
		}(i)
	}
	wg.Wait()

	if registry.Len() != 8 {
		t.Errorf("expected 8 trackers, got %d", registry.Len())
	}
}
