package progress

import (
	"sync"
	"time"
)

// Phase is the transfer-lifecycle stage of a task's active download.
// It is distinct from the engine's queue-level task state.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseConnecting   Phase = "connecting"
	PhaseDownloading  Phase = "downloading"
	PhaseVerifying    Phase = "verifying"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhasePaused       Phase = "paused"
	PhaseCancelled    Phase = "cancelled"
)

// Active reports whether the phase counts toward queue-position ranking.
func (p Phase) Active() bool {
	switch p {
	case PhaseInitializing, PhaseConnecting, PhaseDownloading:
		return true
	}
	return false
}

// Terminal reports whether the phase is final. A tracker in a terminal
// phase accepts no further transitions.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Snapshot is an immutable point-in-time copy of a tracker's statistics.
// It is a plain value: safe to hand to any goroutine without locking.
type Snapshot struct {
	BytesDownloaded int64
	TotalSize       int64
	Percentage      float64 // 0 when TotalSize is unknown

	CurrentSpeed float64 // bytes/sec, linearly-weighted window average
	AverageSpeed float64 // bytes/sec over the whole transfer
	PeakSpeed    float64 // highest instantaneous sample

	Elapsed      time.Duration
	ETA          time.Duration // 0 means indeterminate, never negative
	Phase        Phase
	PhaseElapsed time.Duration

	QueuePosition  int
	QueueTotal     int
	FilesCompleted int
	FilesTotal     int
}

// speedWindowSize bounds the instantaneous-speed sample window.
const speedWindowSize = 30

// trendWindowSize bounds how many trail points feed the trend estimate.
const trendWindowSize = 10

// minSampleInterval gates instantaneous speed samples to avoid
// divide-by-near-zero noise from bursty chunk arrival.
const minSampleInterval = 100 * time.Millisecond

type trailPoint struct {
	when  time.Time
	bytes int64
}

// Tracker converts raw byte-count samples into smoothed speed and ETA
// estimates for a single task. All methods are safe for concurrent use.
type Tracker struct {
	taskID string

	mu        sync.Mutex
	totalSize int64
	bytes     int64
	startTime time.Time

	phase         Phase
	phaseStart    time.Time
	phaseDuration map[Phase]time.Duration

	speedSamples []float64
	lastBytes    int64
	lastSample   time.Time
	currentSpeed float64
	peakSpeed    float64

	trail []trailPoint

	queuePosition  int
	queueTotal     int
	filesCompleted int
	filesTotal     int
}

// NewTracker creates a tracker in the initializing phase.
// totalSize may be zero if the artifact size is not yet known.
func NewTracker(taskID string, totalSize int64) *Tracker {
	now := time.Now()
	return &Tracker{
		taskID:        taskID,
		totalSize:     totalSize,
		startTime:     now,
		phase:         PhaseInitializing,
		phaseStart:    now,
		phaseDuration: make(map[Phase]time.Duration),
	}
}

// TaskID returns the task this tracker belongs to.
func (t *Tracker) TaskID() string { return t.taskID }

// SetPhase transitions to a new phase, recording the time spent in the
// previous one. Transitions out of a terminal phase are ignored.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setPhaseLocked(phase)
}

func (t *Tracker) setPhaseLocked(phase Phase) {
	if t.phase == phase || t.phase.Terminal() {
		return
	}
	now := time.Now()
	t.phaseDuration[t.phase] += now.Sub(t.phaseStart)
	t.phase = phase
	t.phaseStart = now
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// PhaseDurations returns a copy of the recorded time spent per phase.
func (t *Tracker) PhaseDurations() map[Phase]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Phase]time.Duration, len(t.phaseDuration))
	for k, v := range t.phaseDuration {
		out[k] = v
	}
	return out
}

// SetQueueInfo records externally assigned queue position information.
func (t *Tracker) SetQueueInfo(position, total, filesCompleted, filesTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queuePosition = position
	t.queueTotal = total
	t.filesCompleted = filesCompleted
	t.filesTotal = filesTotal
}

// Update records a new byte count and returns the resulting snapshot.
// Byte counts never go backwards: a sample below the current tally is
// clamped to it. A positive totalSize updates the known artifact size.
func (t *Tracker) Update(bytesDownloaded, totalSize int64) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()

	if totalSize > 0 {
		t.totalSize = totalSize
	}
	if bytesDownloaded > t.bytes {
		t.bytes = bytesDownloaded
	}

	t.sampleSpeed(now)

	t.trail = append(t.trail, trailPoint{when: now, bytes: t.bytes})
	if len(t.trail) > speedWindowSize {
		t.trail = t.trail[1:]
	}

	return t.snapshotLocked(now)
}

// Snapshot returns the current statistics without recording a sample.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(time.Now())
}

// Pause and Resume map to the paused/downloading phases.
func (t *Tracker) Pause()  { t.SetPhase(PhasePaused) }
func (t *Tracker) Resume() { t.SetPhase(PhaseDownloading) }

// Complete, Fail and Cancel are terminal setters; once one of them has
// been applied, further transitions are ignored.
func (t *Tracker) Complete() { t.SetPhase(PhaseCompleted) }
func (t *Tracker) Fail()     { t.SetPhase(PhaseFailed) }
func (t *Tracker) Cancel()   { t.SetPhase(PhaseCancelled) }

// sampleSpeed records an instantaneous speed sample when enough time has
// passed since the last one, and refreshes the smoothed current speed.
func (t *Tracker) sampleSpeed(now time.Time) {
	if t.lastSample.IsZero() {
		t.lastSample = now
		t.lastBytes = t.bytes
		return
	}

	delta := now.Sub(t.lastSample)
	if delta < minSampleInterval {
		return
	}

	instant := float64(t.bytes-t.lastBytes) / delta.Seconds()
	t.speedSamples = append(t.speedSamples, instant)
	if len(t.speedSamples) > speedWindowSize {
		t.speedSamples = t.speedSamples[1:]
	}

	// Linearly-weighted average favoring the most recent samples.
	var weightedSum, totalWeight float64
	for i, s := range t.speedSamples {
		w := float64(i + 1)
		weightedSum += s * w
		totalWeight += w
	}
	t.currentSpeed = weightedSum / totalWeight

	if instant > t.peakSpeed {
		t.peakSpeed = instant
	}

	t.lastBytes = t.bytes
	t.lastSample = now
}

func (t *Tracker) snapshotLocked(now time.Time) Snapshot {
	elapsed := now.Sub(t.startTime)

	var average float64
	if elapsed > 0 {
		average = float64(t.bytes) / elapsed.Seconds()
	}

	var percentage float64
	if t.totalSize > 0 {
		percentage = float64(t.bytes) / float64(t.totalSize) * 100
	}

	return Snapshot{
		BytesDownloaded: t.bytes,
		TotalSize:       t.totalSize,
		Percentage:      percentage,
		CurrentSpeed:    t.currentSpeed,
		AverageSpeed:    average,
		PeakSpeed:       t.peakSpeed,
		Elapsed:         elapsed,
		ETA:             t.etaLocked(average, elapsed),
		Phase:           t.phase,
		PhaseElapsed:    now.Sub(t.phaseStart),
		QueuePosition:   t.queuePosition,
		QueueTotal:      t.queueTotal,
		FilesCompleted:  t.filesCompleted,
		FilesTotal:      t.filesTotal,
	}
}

// etaLocked blends three independent estimates: remaining bytes over the
// smoothed current speed (weight 0.4), over the whole-transfer average
// speed (0.3) and over the trend speed between the oldest and newest of
// the recent trail points (0.3). Only estimates with positive speed
// contribute; weights renormalize over the contributing subset. The
// result is clamped to [1s, 5 x elapsed] to suppress wild early-transfer
// extrapolation. Zero means indeterminate.
func (t *Tracker) etaLocked(average float64, elapsed time.Duration) time.Duration {
	if t.totalSize <= 0 || t.bytes <= 0 {
		return 0
	}
	remaining := float64(t.totalSize - t.bytes)
	if remaining <= 0 {
		return 0
	}

	type estimate struct {
		seconds float64
		weight  float64
	}
	var estimates []estimate

	if t.currentSpeed > 0 {
		estimates = append(estimates, estimate{remaining / t.currentSpeed, 0.4})
	}
	if average > 0 {
		estimates = append(estimates, estimate{remaining / average, 0.3})
	}
	if trend := t.trendSpeedLocked(); trend > 0 {
		estimates = append(estimates, estimate{remaining / trend, 0.3})
	}

	if len(estimates) == 0 {
		return 0
	}

	var weightedSum, totalWeight float64
	for _, e := range estimates {
		weightedSum += e.seconds * e.weight
		totalWeight += e.weight
	}
	eta := weightedSum / totalWeight

	max := elapsed.Seconds() * 5
	if eta > max {
		eta = max
	}
	if eta < 1 {
		eta = 1
	}

	return time.Duration(eta * float64(time.Second))
}

// trendSpeedLocked derives a speed from the oldest and newest of the last
// trail points. It needs at least three points to be meaningful.
func (t *Tracker) trendSpeedLocked() float64 {
	if len(t.trail) < 3 {
		return 0
	}
	recent := t.trail
	if len(recent) > trendWindowSize {
		recent = recent[len(recent)-trendWindowSize:]
	}

	first, last := recent[0], recent[len(recent)-1]
	span := last.when.Sub(first.when).Seconds()
	bytes := last.bytes - first.bytes
	if span <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) / span
}
