//go:build !linux && !darwin

package downloader

// availableSpace is unavailable on this platform; the pre-transfer space
// check is skipped.
func availableSpace(dir string) (avail int64, ok bool) {
	return 0, false
}
