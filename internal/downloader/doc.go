// Package downloader implements the resumable, integrity-verified
// transfer of a single artifact.
//
// A transfer streams bytes from an HTTP source into a local file in
// fixed-size chunks. Between chunks it checks the task's cancel Signal
// and pause Gate, updates the running SHA-256, and applies token-bucket
// bandwidth shaping when a limit is configured.
//
// # Resume
//
// If a partial file exists at the destination, the transfer seeds the
// running hash from the bytes on disk and issues an open-ended range
// request from that offset. A server that rejects the range causes one
// restart from offset zero; the restart is bounded, never recursive.
//
// # Usage
//
//	err := downloader.Download(ctx, client, url, dest, downloader.Options{
//	    ExpectedSize:   res.Size,
//	    ExpectedSHA256: res.SHA256,
//	    Limit:          512 * 1024,
//	    Cancel:         task.Cancel,
//	    Pause:          task.Pause,
//	    Tracker:        tracker,
//	})
//
// Cancellation surfaces as ErrCancelled and leaves the partial file on
// disk; an integrity mismatch deletes the file and surfaces as
// ErrChecksumMismatch.
package downloader
