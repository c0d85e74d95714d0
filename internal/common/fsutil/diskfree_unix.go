//go:build unix

package fsutil

import "syscall"

// AvailableBytes returns the free disk space available to unprivileged
// callers on the filesystem containing path.
func AvailableBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
