//go:build windows

package disk

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// GetDiskUsage returns the percentage of disk space used on the volume
// holding path, along with free and total bytes.
func GetDiskUsage(path string) (usedPercent float64, freeBytes int64, totalBytes int64, err error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, 0, err
	}
	var avail, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &totalFree); err != nil {
		return 0, 0, 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	totalBytes = int64(total)
	freeBytes = int64(avail)
	if totalBytes > 0 {
		usedPercent = float64(totalBytes-freeBytes) / float64(totalBytes) * 100.0
	}
	return usedPercent, freeBytes, totalBytes, nil
}
