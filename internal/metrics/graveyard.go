package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Graveyard metrics
var (
	// BuriesTotal counts items moved into the graveyard
	BuriesTotal prometheus.Counter

	// ExhumesTotal counts items restored from the graveyard
	ExhumesTotal prometheus.Counter

	// PrunedTotal counts record entries dropped because their grave was gone
	PrunedTotal prometheus.Counter

	// UnlinkedTotal counts permanent, unrecorded deletions
	UnlinkedTotal prometheus.Counter

	// BytesBuriedTotal tracks bytes moved into the graveyard
	BytesBuriedTotal prometheus.Counter

	// ReapedTotal counts graves deleted by the retention policy
	ReapedTotal prometheus.Counter

	// BytesReapedTotal tracks bytes freed by the retention policy
	BytesReapedTotal prometheus.Counter

	// LastReapTimestamp records Unix timestamp of the last retention pass
	LastReapTimestamp prometheus.Gauge

	// CrossDeviceMovesTotal counts moves that fell back to copy and delete
	CrossDeviceMovesTotal *prometheus.CounterVec

	// ErrorsTotal counts failed operations by kind
	ErrorsTotal *prometheus.CounterVec

	// OperationDuration tracks how long each operation takes
	OperationDuration *prometheus.HistogramVec

	// LockWaitSeconds tracks time spent waiting for the record lock
	LockWaitSeconds *prometheus.HistogramVec

	// CorruptRowsTotal counts record rows skipped as unparsable
	CorruptRowsTotal prometheus.Counter

	// RecordEntries is the number of entries seen in the record at last read
	RecordEntries prometheus.Gauge

	// LastBuryTimestamp records Unix timestamp of the last bury
	LastBuryTimestamp prometheus.Gauge
)

func initGraveyardMetrics() {
	BuriesTotal = NewCounter(
		"ripsage_buries_total",
		"Total number of items buried.",
	)
	ExhumesTotal = NewCounter(
		"ripsage_exhumes_total",
		"Total number of items exhumed.",
	)
	PrunedTotal = NewCounter(
		"ripsage_pruned_entries_total",
		"Total number of record entries pruned because the grave was missing.",
	)
	UnlinkedTotal = NewCounter(
		"ripsage_unlinked_total",
		"Total number of items permanently deleted without a record.",
	)
	BytesBuriedTotal = NewBytesCounter(
		"ripsage_bytes_buried_total",
		"Total bytes moved into the graveyard.",
	)
	ReapedTotal = NewCounter(
		"ripsage_reaped_total",
		"Total number of graves deleted by the retention policy.",
	)
	BytesReapedTotal = NewBytesCounter(
		"ripsage_bytes_reaped_total",
		"Total bytes freed by the retention policy.",
	)
	LastReapTimestamp = NewGauge(
		"ripsage_last_reap_timestamp",
		"Timestamp of the last retention pass (Unix epoch seconds).",
	)
	CrossDeviceMovesTotal = NewCounterVec(
		"ripsage_cross_device_moves_total",
		"Moves that crossed filesystems and were copied.",
		[]string{"direction"},
	)
	ErrorsTotal = NewCounterVec(
		"ripsage_errors_total",
		"Failed operations by operation and error kind.",
		[]string{"op", "kind"},
	)
	OperationDuration = NewHistogramVec(
		"ripsage_operation_duration_seconds",
		"Duration of graveyard operations in seconds.",
		DurationBuckets,
		[]string{"op"},
	)
	LockWaitSeconds = NewHistogramVec(
		"ripsage_record_lock_wait_seconds",
		"Time spent waiting for the record lock.",
		LockBuckets,
		[]string{"mode"},
	)
	CorruptRowsTotal = NewCounter(
		"ripsage_record_corrupt_rows_total",
		"Record rows skipped because they could not be parsed.",
	)
	RecordEntries = NewSizeGauge(
		"ripsage_record_entries",
		"Entries in the record as of the last read or write.",
	)
	LastBuryTimestamp = NewGauge(
		"ripsage_last_bury_timestamp",
		"Timestamp of the last bury (Unix epoch seconds).",
	)
}

func registerGraveyardMetrics() {
	prometheus.MustRegister(BuriesTotal)
	prometheus.MustRegister(ExhumesTotal)
	prometheus.MustRegister(PrunedTotal)
	prometheus.MustRegister(UnlinkedTotal)
	prometheus.MustRegister(BytesBuriedTotal)
	prometheus.MustRegister(ReapedTotal)
	prometheus.MustRegister(BytesReapedTotal)
	prometheus.MustRegister(LastReapTimestamp)
	prometheus.MustRegister(CrossDeviceMovesTotal)
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(LockWaitSeconds)
	prometheus.MustRegister(CorruptRowsTotal)
	prometheus.MustRegister(RecordEntries)
	prometheus.MustRegister(LastBuryTimestamp)
}

// RecordBury updates the bury counters for one item of the given size.
func RecordBury(bytes int64, crossDevice bool) {
	BuriesTotal.Inc()
	BytesBuriedTotal.Add(float64(bytes))
	LastBuryTimestamp.Set(float64(time.Now().Unix()))
	if crossDevice {
		CrossDeviceMovesTotal.WithLabelValues("bury").Inc()
	}
}

// RecordExhume updates the exhume counters for one item.
func RecordExhume(crossDevice bool) {
	ExhumesTotal.Inc()
	if crossDevice {
		CrossDeviceMovesTotal.WithLabelValues("exhume").Inc()
	}
}

// RecordReap updates the retention counters for one reaped grave. size is
// -1 when the grave could not be measured.
func RecordReap(size int64) {
	ReapedTotal.Inc()
	if size > 0 {
		BytesReapedTotal.Add(float64(size))
	}
}

// RecordError counts a failed operation.
func RecordError(op, kind string) {
	ErrorsTotal.WithLabelValues(op, kind).Inc()
}

// ObserveDuration records how long op ran since start.
func ObserveDuration(op string, start time.Time) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// RecordStore hands the record store its collectors.
type RecordStore struct{}

func (RecordStore) LockWaitSeconds() *prometheus.HistogramVec { return LockWaitSeconds }
func (RecordStore) CorruptRowsTotal() prometheus.Counter       { return CorruptRowsTotal }
func (RecordStore) RecordEntries() prometheus.Gauge            { return RecordEntries }
