package graveyard

import (
	"fmt"
	"strings"
	"time"
)

// ReapReason records why Reap took a grave. Both parts can apply at once.
type ReapReason struct {
	Age  *AgeReason
	Disk *DiskReason
}

// AgeReason means the grave outlived ReapPolicy.MaxAge.
type AgeReason struct {
	MaxAge time.Duration
	Age    time.Duration
}

// DiskReason means the graveyard filesystem was over ReapPolicy.MaxUsedPercent.
type DiskReason struct {
	MaxUsedPercent float64
	UsedPercent    float64
}

// HasReason reports whether any part applies.
func (r ReapReason) HasReason() bool {
	return r.Age != nil || r.Disk != nil
}

// String formats the reason for log lines, e.g.
// "disk_pressure: 93.5% (max=90.0%) + age: 40d (max=30d)".
func (r ReapReason) String() string {
	if !r.HasReason() {
		return "unknown"
	}
	var parts []string
	if r.Disk != nil {
		parts = append(parts, fmt.Sprintf("disk_pressure: %.1f%% (max=%.1f%%)", r.Disk.UsedPercent, r.Disk.MaxUsedPercent))
	}
	if r.Age != nil {
		parts = append(parts, fmt.Sprintf("age: %dd (max=%dd)", days(r.Age.Age), days(r.Age.MaxAge)))
	}
	return strings.Join(parts, " + ")
}

// Primary returns a short label for grouping: age, disk_pressure,
// combined or unknown.
func (r ReapReason) Primary() string {
	switch {
	case r.Age != nil && r.Disk != nil:
		return "combined"
	case r.Disk != nil:
		return "disk_pressure"
	case r.Age != nil:
		return "age"
	}
	return "unknown"
}

func days(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
