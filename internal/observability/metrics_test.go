package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/domain"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveDetect(OutcomeOK)
	m.ObserveDetect(OutcomeOK)
	m.ObserveDetect(OutcomeInvalid)
	m.AddRecorded([]domain.DetectionRecord{{DamageCode: "D40"}, {DamageCode: "D40"}, {DamageCode: "D00"}})
	m.AddImagesRemoved("sweep", 3)
	m.AddImagesRemoved("sweep", 0)
	m.ObserveInference(120*time.Millisecond, 2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.detectRequests.WithLabelValues(OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.detectRequests.WithLabelValues(OutcomeInvalid)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.detectionsTotal.WithLabelValues("D40")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.imagesRemoved.WithLabelValues("sweep")), 0)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDetect(OutcomeOK)
		m.ObserveInference(time.Second, 1)
		m.AddRecorded([]domain.DetectionRecord{{DamageCode: "D00"}})
		m.AddImagesRemoved("sweep", 1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveDetect(OutcomeModelFailure)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `roadscan_detect_requests_total{outcome="model_failure"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
