// Package http provides a thin HTTP client for resumable file downloads.
//
// This package handles:
//   - Connection pooling for parallel workers
//   - HEAD requests to get file metadata
//   - Open-ended range requests for resume
//   - A sentinel error taxonomy (auth, not-found, rate-limit, server error)
//   - Retryability classification via Retryable
//
// The client never retries on its own; the engine's worker loop owns the
// retry/backoff policy.
//
// # Usage
//
//	client := http.NewClient(http.Options{APIKey: key})
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	// Resume from an offset
//	resp, err := client.GetFrom(ctx, url, offset)
//	defer resp.Body.Close()
package http
