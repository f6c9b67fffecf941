package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMetricsInit verifies that Init() is idempotent and registers metrics
func TestMetricsInit(t *testing.T) {
	// Call Init multiple times - should be idempotent via sync.Once
	Init()
	Init()
	Init()

	if BuriesTotal == nil {
		t.Error("BuriesTotal should be initialized")
	}
	if LockWaitSeconds == nil {
		t.Error("LockWaitSeconds should be initialized")
	}
	if RecordEntries == nil {
		t.Error("RecordEntries should be initialized")
	}

	// labeled metrics only show up once a label set exists
	RecordError("bury", "test")
	OperationDuration.WithLabelValues("bury").Observe(0.01)
	LockWaitSeconds.WithLabelValues("exclusive").Observe(0.001)
	CrossDeviceMovesTotal.WithLabelValues("bury").Add(0)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	expectedMetrics := []string{
		"ripsage_buries_total",
		"ripsage_exhumes_total",
		"ripsage_pruned_entries_total",
		"ripsage_unlinked_total",
		"ripsage_bytes_buried_total",
		"ripsage_cross_device_moves_total",
		"ripsage_errors_total",
		"ripsage_operation_duration_seconds",
		"ripsage_record_lock_wait_seconds",
		"ripsage_record_corrupt_rows_total",
		"ripsage_record_entries",
		"ripsage_last_bury_timestamp",
	}

	foundMetrics := make(map[string]bool)
	for _, mf := range mfs {
		foundMetrics[mf.GetName()] = true
	}
	for _, expected := range expectedMetrics {
		if !foundMetrics[expected] {
			t.Errorf("Expected metric %s not found in registry", expected)
		}
	}
}

// TestStandardBuckets verifies that bucket definitions are sorted
func TestStandardBuckets(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"DurationBuckets": DurationBuckets,
		"LockBuckets":     LockBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s not increasing at %d: %v", name, i, buckets)
			}
		}
	}
}

// TestGraveyardMetricHelpers tests the helper functions
func TestGraveyardMetricHelpers(t *testing.T) {
	Init()

	before := time.Now().Unix()
	RecordBury(2048, true)
	RecordExhume(true)
	RecordExhume(false)
	ObserveDuration("exhume", time.Now())

	var rs RecordStore
	if rs.LockWaitSeconds() != LockWaitSeconds || rs.CorruptRowsTotal() != CorruptRowsTotal || rs.RecordEntries() != RecordEntries {
		t.Error("RecordStore must hand out the package collectors")
	}

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "ripsage_last_bury_timestamp" {
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got < float64(before) {
				t.Errorf("last bury timestamp = %v, want >= %d", got, before)
			}
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	Init()
	BuriesTotal.Inc()

	path := filepath.Join(t.TempDir(), "rip.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "ripsage_buries_total") {
		t.Errorf("textfile missing ripsage_buries_total:\n%s", data)
	}
}

func TestInitAPI(t *testing.T) {
	InitAPI()
	InitAPI()

	if HTTPRequestDuration == nil || HTTPRequestsTotal == nil || EventSubscribers == nil {
		t.Fatal("API metrics should be initialized")
	}
	HTTPRequestsTotal.WithLabelValues("/api/v1/health", "GET", "200").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "ripsage_api_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("ripsage_api_requests_total not registered")
	}
}
