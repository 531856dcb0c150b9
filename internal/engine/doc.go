// Package engine orchestrates download tasks.
//
// A fixed-size pool of workers drains a reorderable FIFO queue. Each
// worker resolves a task's metadata through the catalog collaborator,
// drives the resumable transfer with a bounded exponential-backoff retry
// loop, and reports exactly one terminal state per task.
//
// # Usage
//
//	eng := engine.New(resolver, client, engine.Options{
//	    Workers: 3,
//	    DestDir: dir,
//	})
//	eng.Start(ctx)
//
//	id := eng.Enqueue("https://civitai.com/models/1234")
//	// eng.Cancel(id), eng.Pause(id), eng.Resume(id), eng.Move(id, -1)
//
//	for ev := range eng.Events() {
//	    // progress samples and state transitions
//	}
//
// # Retry policy
//
// Attempt n waits Backoff * 2^(n-1), capped at MaxBackoff, sleeping in
// small steps so cancellation during backoff stays responsive. Rate
// limiting, server errors and transport failures are retried; resolution
// failures, auth errors, integrity mismatches, disk-space shortfalls and
// cancellation are terminal.
//
// # Locking
//
// The queue lock protects only queue-structure mutation and is never
// held across I/O. Progress flows to observers as immutable snapshot
// values over a bounded channel with a drop-when-full policy.
package engine
