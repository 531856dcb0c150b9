// Package progress provides per-task transfer statistics.
//
// A Tracker turns raw byte-count samples into smoothed speed and ETA
// estimates: instantaneous samples are gated at 100ms and averaged over a
// bounded window with linear weights, and the ETA blends current, average
// and trend speeds, clamped to suppress early-transfer extrapolation.
//
// A Registry owns the trackers for a set of tasks and keeps queue
// position and files-completed counts consistent across them.
//
// # Usage
//
//	registry := progress.NewRegistry()
//	tracker := registry.Create(taskID, totalSize)
//
//	tracker.SetPhase(progress.PhaseDownloading)
//	snap := tracker.Update(bytesDownloaded, totalSize)
//	// snap.CurrentSpeed, snap.ETA, snap.Percentage
//
// Snapshots are immutable values and can be handed to any goroutine.
package progress
