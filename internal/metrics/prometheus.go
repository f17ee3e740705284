package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scanpulse"

// PrometheusRecorder exports Recorder events as Prometheus collectors.
type PrometheusRecorder struct {
	cacheLookups     *prometheus.CounterVec
	resolveDuration  prometheus.Histogram
	redirectOutcomes *prometheus.CounterVec
	qrCodeChanges    *prometheus.CounterVec
	scansDispatched  *prometheus.CounterVec
	scansRecorded    *prometheus.CounterVec
	geoLookups       *prometheus.CounterVec
	streamPublished  *prometheus.CounterVec
	streamProcessed  *prometheus.CounterVec
	streamBatchSize  prometheus.Histogram
	streamBatchTime  prometheus.Histogram
	streamQueueDepth prometheus.Gauge
	streamIngestLag  prometheus.Histogram
}

// NewPrometheus registers the application collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirect_cache_lookups_total",
			Help:      "QR code cache lookups on the redirect path.",
		}, []string{"result"}),
		resolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a short code to a destination.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		redirectOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirect_outcomes_total",
			Help:      "Redirect resolutions partitioned by campaign outcome.",
		}, []string{"outcome"}),
		qrCodeChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qrcode_changes_total",
			Help:      "QR code lifecycle operations.",
		}, []string{"op"}),
		scansDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_dispatched_total",
			Help:      "Scan recordings handed off the redirect path.",
		}, []string{"status"}),
		scansRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_recorded_total",
			Help:      "Scan event persistence results.",
		}, []string{"status"}),
		geoLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_lookups_total",
			Help:      "IP geolocation lookups partitioned by result.",
		}, []string{"status"}),
		streamPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_published_total",
			Help:      "Scan payloads appended to the Redis stream.",
		}, []string{"status"}),
		streamProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_processed_total",
			Help:      "Scan payloads consumed from the Redis stream.",
		}, []string{"status"}),
		streamBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_batch_size",
			Help:      "Messages per processed stream batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		streamBatchTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_batch_duration_seconds",
			Help:      "Time spent processing one stream batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		streamQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_queue_depth",
			Help:      "Pending plus unread messages in the scan stream group.",
		}),
		streamIngestLag: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_ingest_lag_seconds",
			Help:      "Delay between a scan and its persistence.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (p *PrometheusRecorder) IncRedirectCacheHit() { p.cacheLookups.WithLabelValues("hit").Inc() }

func (p *PrometheusRecorder) IncRedirectCacheMiss() { p.cacheLookups.WithLabelValues("miss").Inc() }

func (p *PrometheusRecorder) ObserveResolveDuration(duration time.Duration) {
	p.resolveDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRedirectOutcome(outcome string) {
	p.redirectOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncQrCodeCreated() { p.qrCodeChanges.WithLabelValues("created").Inc() }

func (p *PrometheusRecorder) IncQrCodeUpdated() { p.qrCodeChanges.WithLabelValues("updated").Inc() }

func (p *PrometheusRecorder) IncQrCodeDeleted() { p.qrCodeChanges.WithLabelValues("deleted").Inc() }

func (p *PrometheusRecorder) IncScanDispatched(status string) {
	p.scansDispatched.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncScanRecorded(status string) {
	p.scansRecorded.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncGeoLookup(status string) { p.geoLookups.WithLabelValues(status).Inc() }

func (p *PrometheusRecorder) IncStreamEventPublished(status string) {
	p.streamPublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncStreamEventProcessed(status string) {
	p.streamProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveStreamBatchSize(size int) {
	p.streamBatchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveStreamBatchDuration(duration time.Duration) {
	p.streamBatchTime.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetStreamQueueDepth(depth int64) {
	p.streamQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveStreamIngestLag(lag time.Duration) {
	p.streamIngestLag.Observe(lag.Seconds())
}
