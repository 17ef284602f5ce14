package tempstore

import "github.com/kopia/mimespool/internal/metrics"

type storageMetrics struct {
	filesCreated *metrics.Counter
	filesDeleted *metrics.Counter
	bytesWritten *metrics.Counter
	openHandles  *metrics.Gauge
}

func newStorageMetrics(r *metrics.Registry) *storageMetrics {
	return &storageMetrics{
		filesCreated: r.CounterInt64("tempstore_files_created", "Number of temporary files created", nil),
		filesDeleted: r.CounterInt64("tempstore_files_deleted", "Number of temporary files deleted", nil),
		bytesWritten: r.CounterInt64("tempstore_bytes_written", "Number of logical bytes spooled to temporary files", nil),
		openHandles:  r.GaugeInt64("tempstore_open_handles", "Number of open temporary file handles", nil),
	}
}
