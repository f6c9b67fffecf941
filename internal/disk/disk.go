//go:build unix

package disk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// GetDiskUsage returns the percentage of disk space used on the filesystem
// holding path, along with free and total bytes.
func GetDiskUsage(path string) (usedPercent float64, freeBytes int64, totalBytes int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	// Bavail rather than Bfree: space reserved for root is not ours to use
	totalBytes = int64(stat.Blocks) * int64(stat.Bsize)
	freeBytes = int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - freeBytes

	if totalBytes > 0 {
		usedPercent = (float64(usedBytes) / float64(totalBytes)) * 100.0
	}
	return usedPercent, freeBytes, totalBytes, nil
}
