package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var initOnce sync.Once

// Init initializes all metrics and registers them with Prometheus.
// This function is safe to call multiple times (uses sync.Once)
func Init() {
	initOnce.Do(func() {
		initGraveyardMetrics()
		registerGraveyardMetrics()

		// present in the output even before the first bury
		LastBuryTimestamp.Set(0)
		RecordEntries.Set(0)
	})
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector. The file is
// replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
