package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncRedirectCacheHit() {}
func (n *NoopRecorder) IncRedirectCacheMiss() {}
func (n *NoopRecorder) ObserveResolveDuration(time.Duration) {}
func (n *NoopRecorder) IncRedirectOutcome(string) {}
func (n *NoopRecorder) IncQrCodeCreated() {}
func (n *NoopRecorder) IncQrCodeUpdated() {}
func (n *NoopRecorder) IncQrCodeDeleted() {}
func (n *NoopRecorder) IncScanDispatched(string) {}
func (n *NoopRecorder) IncScanRecorded(string) {}
func (n *NoopRecorder) IncGeoLookup(string) {}
func (n *NoopRecorder) IncStreamEventPublished(string) {}
func (n *NoopRecorder) IncStreamEventProcessed(string) {}
func (n *NoopRecorder) ObserveStreamBatchSize(int) {}
func (n *NoopRecorder) ObserveStreamBatchDuration(time.Duration) {}
func (n *NoopRecorder) SetStreamQueueDepth(int64) {}
func (n *NoopRecorder) ObserveStreamIngestLag(time.Duration) {}
