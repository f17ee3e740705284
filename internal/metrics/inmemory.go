package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
// Labelled counters are keyed by their status or outcome label.
type Snapshot struct {
	RedirectCacheHits   uint64
	RedirectCacheMisses uint64
	ResolveCount        uint64
	ResolveTotalNs      int64
	QrCodesCreated      uint64
	QrCodesUpdated      uint64
	QrCodesDeleted      uint64
	StreamQueueDepth    int64
	StreamBatches       uint64

	RedirectOutcomes map[string]uint64
	ScansDispatched  map[string]uint64
	ScansRecorded    map[string]uint64
	GeoLookups       map[string]uint64
	StreamPublished  map[string]uint64
	StreamProcessed  map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	redirectCacheHits   uint64
	redirectCacheMisses uint64
	resolveCount        uint64
	resolveTotalNs      int64
	qrCodesCreated      uint64
	qrCodesUpdated      uint64
	qrCodesDeleted      uint64
	streamQueueDepth    int64
	streamBatches       uint64

	mu       sync.Mutex
	labelled map[string]map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{labelled: make(map[string]map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		RedirectCacheHits:   atomic.LoadUint64(&m.redirectCacheHits),
		RedirectCacheMisses: atomic.LoadUint64(&m.redirectCacheMisses),
		ResolveCount:        atomic.LoadUint64(&m.resolveCount),
		ResolveTotalNs:      atomic.LoadInt64(&m.resolveTotalNs),
		QrCodesCreated:      atomic.LoadUint64(&m.qrCodesCreated),
		QrCodesUpdated:      atomic.LoadUint64(&m.qrCodesUpdated),
		QrCodesDeleted:      atomic.LoadUint64(&m.qrCodesDeleted),
		StreamQueueDepth:    atomic.LoadInt64(&m.streamQueueDepth),
		StreamBatches:       atomic.LoadUint64(&m.streamBatches),
		RedirectOutcomes:    m.copyLabels("redirect_outcome"),
		ScansDispatched:     m.copyLabels("scan_dispatched"),
		ScansRecorded:       m.copyLabels("scan_recorded"),
		GeoLookups:          m.copyLabels("geo_lookup"),
		StreamPublished:     m.copyLabels("stream_published"),
		StreamProcessed:     m.copyLabels("stream_processed"),
	}
}

func (m *InMemoryRecorder) inc(family, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters, ok := m.labelled[family]
	if !ok {
		counters = make(map[string]uint64)
		m.labelled[family] = counters
	}
	counters[label]++
}

func (m *InMemoryRecorder) copyLabels(family string) map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.labelled[family]))
	for label, count := range m.labelled[family] {
		out[label] = count
	}
	return out
}

// IncRedirectCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncRedirectCacheHit() {
	atomic.AddUint64(&m.redirectCacheHits, 1)
}

// IncRedirectCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncRedirectCacheMiss() {
	atomic.AddUint64(&m.redirectCacheMisses, 1)
}

// ObserveResolveDuration records resolve duration.
func (m *InMemoryRecorder) ObserveResolveDuration(duration time.Duration) {
	atomic.AddUint64(&m.resolveCount, 1)
	atomic.AddInt64(&m.resolveTotalNs, duration.Nanoseconds())
}

func (m *InMemoryRecorder) IncRedirectOutcome(outcome string) { m.inc("redirect_outcome", outcome) }

func (m *InMemoryRecorder) IncQrCodeCreated() { atomic.AddUint64(&m.qrCodesCreated, 1) }

func (m *InMemoryRecorder) IncQrCodeUpdated() { atomic.AddUint64(&m.qrCodesUpdated, 1) }

func (m *InMemoryRecorder) IncQrCodeDeleted() { atomic.AddUint64(&m.qrCodesDeleted, 1) }

func (m *InMemoryRecorder) IncScanDispatched(status string) { m.inc("scan_dispatched", status) }

func (m *InMemoryRecorder) IncScanRecorded(status string) { m.inc("scan_recorded", status) }

func (m *InMemoryRecorder) IncGeoLookup(status string) { m.inc("geo_lookup", status) }

func (m *InMemoryRecorder) IncStreamEventPublished(status string) { m.inc("stream_published", status) }

func (m *InMemoryRecorder) IncStreamEventProcessed(status string) { m.inc("stream_processed", status) }

// ObserveStreamBatchSize counts processed batches.
func (m *InMemoryRecorder) ObserveStreamBatchSize(size int) {
	atomic.AddUint64(&m.streamBatches, 1)
}

func (m *InMemoryRecorder) ObserveStreamBatchDuration(time.Duration) {}

// SetStreamQueueDepth stores the latest observed queue depth.
func (m *InMemoryRecorder) SetStreamQueueDepth(depth int64) {
	atomic.StoreInt64(&m.streamQueueDepth, depth)
}

func (m *InMemoryRecorder) ObserveStreamIngestLag(time.Duration) {}
