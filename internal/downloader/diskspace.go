//go:build linux || darwin

package downloader

import "golang.org/x/sys/unix"

// availableSpace reports the free bytes on the filesystem holding dir.
// ok is false when the information is unavailable.
func availableSpace(dir string) (avail int64, ok bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, false
	}
	return int64(st.Bavail) * int64(st.Bsize), true
}
