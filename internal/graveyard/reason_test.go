package graveyard

import (
	"testing"
	"time"
)

func TestReapReason(t *testing.T) {
	const day = 24 * time.Hour
	age := &AgeReason{MaxAge: 30 * day, Age: 40*day + time.Hour}
	disk := &DiskReason{MaxUsedPercent: 90, UsedPercent: 93.46}

	tests := []struct {
		name    string
		reason  ReapReason
		has     bool
		str     string
		primary string
	}{
		{"none", ReapReason{}, false, "unknown", "unknown"},
		{"age", ReapReason{Age: age}, true, "age: 40d (max=30d)", "age"},
		{"disk", ReapReason{Disk: disk}, true, "disk_pressure: 93.5% (max=90.0%)", "disk_pressure"},
		{"both", ReapReason{Age: age, Disk: disk}, true, "disk_pressure: 93.5% (max=90.0%) + age: 40d (max=30d)", "combined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reason.HasReason(); got != tt.has {
				t.Errorf("HasReason() = %v, want %v", got, tt.has)
			}
			if got := tt.reason.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			if got := tt.reason.Primary(); got != tt.primary {
				t.Errorf("Primary() = %q, want %q", got, tt.primary)
			}
		})
	}
}
