// Package observability holds the service's Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roadscan/internal/domain"
)

// Outcome labels for detect requests.
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid"
	OutcomeModelFailure = "model_failure"
	OutcomePersistence  = "persistence_error"
	OutcomeError        = "error"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	detectRequests    *prometheus.CounterVec
	detectionsTotal   *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	batchSize         prometheus.Histogram
	imagesRemoved     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadscan_detect_requests_total",
			Help: "Detect requests by outcome",
		}, []string{"outcome"}),
		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadscan_detections_recorded_total",
			Help: "Detection records persisted, by damage code",
		}, []string{"damage_code"}),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadscan_inference_duration_seconds",
			Help:    "Time spent in the detector, including queueing for it",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadscan_detection_batch_size",
			Help:    "Detections returned per image",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
		}),
		imagesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadscan_images_removed_total",
			Help: "Stored images removed because no record references them",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.detectRequests,
		m.detectionsTotal,
		m.inferenceDuration,
		m.batchSize,
		m.imagesRemoved,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveDetect(outcome string) {
	if m == nil {
		return
	}
	m.detectRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveInference(d time.Duration, detections int) {
	if m == nil {
		return
	}
	m.inferenceDuration.Observe(d.Seconds())
	m.batchSize.Observe(float64(detections))
}

func (m *Metrics) AddRecorded(records []domain.DetectionRecord) {
	if m == nil {
		return
	}
	for _, r := range records {
		m.detectionsTotal.WithLabelValues(r.DamageCode).Inc()
	}
}

// AddImagesRemoved counts removed images; reason is "failed_batch" or "sweep".
func (m *Metrics) AddImagesRemoved(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.imagesRemoved.WithLabelValues(reason).Add(float64(n))
}
