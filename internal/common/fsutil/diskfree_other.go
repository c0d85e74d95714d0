//go:build !unix

package fsutil

// AvailableBytes is unsupported on this platform; callers treat 0 with a nil
// error as "unknown" and skip the disk-space precondition.
func AvailableBytes(path string) (uint64, error) {
	return 0, nil
}
