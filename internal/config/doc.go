// Package config defines configuration structures for the civitai-dl CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CIVITAI_ prefix)
//   - YAML configuration file
//
// # Structure
//
//	type Config struct {
//	    APIKey         string
//	    DownloadDir    string
//	    Workers        int
//	    ChunkSize      int64
//	    BandwidthLimit int64
//	    Progress       bool
//	    Retry          RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	}
package config
