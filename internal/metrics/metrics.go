// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, tests, etc.
type Recorder interface {
	// Redirect metrics
	IncRedirectCacheHit()
	IncRedirectCacheMiss()
	ObserveResolveDuration(duration time.Duration)
	IncRedirectOutcome(outcome string) // active, pending, fallback, primary_after_end, not_found, ended, blocked

	// QR code management metrics
	IncQrCodeCreated()
	IncQrCodeUpdated()
	IncQrCodeDeleted()

	// Scan telemetry metrics
	IncScanDispatched(status string) // queued, dropped
	IncScanRecorded(status string)   // success, failed, counter_failed
	IncGeoLookup(status string)      // success, failed, timeout, skipped

	// Scan stream metrics
	IncStreamEventPublished(status string) // success, dropped
	IncStreamEventProcessed(status string) // success, failed, dead_lettered
	ObserveStreamBatchSize(size int)
	ObserveStreamBatchDuration(duration time.Duration)
	SetStreamQueueDepth(depth int64)
	ObserveStreamIngestLag(lag time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
