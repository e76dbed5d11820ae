package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var msBuckets = []float64{5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadscan_requests_total",
		Help: "Total API requests by endpoint and status class",
	}, []string{"endpoint", "code"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roadscan_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: msBuckets,
	}, []string{"endpoint"})
	InferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadscan_inference_total",
		Help: "Model predict calls by model role and result",
	}, []string{"role", "result"})
	InferenceDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roadscan_inference_duration_ms",
		Help:    "Model predict duration in milliseconds",
		Buckets: msBuckets,
	}, []string{"role"})
	PolygonsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadscan_polygons_total",
		Help: "Polygons produced from segmentation masks",
	}, []string{"role"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roadscan_cache_hits_total",
		Help: "Upload analysis cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roadscan_cache_misses_total",
		Help: "Upload analysis cache misses",
	})
	ModelHeartbeatTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roadscan_model_heartbeat_total",
		Help: "Model backend heartbeat count by status",
	}, []string{"role", "status"})
	ModelHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roadscan_model_healthy",
		Help: "1 when the model backend reported AVAILABLE on the last heartbeat",
	}, []string{"role"})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDurationMs,
		InferenceTotal,
		InferenceDurationMs,
		PolygonsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		ModelHeartbeatTotal,
		ModelHealthy,
	)
}

// Handler：暴露已注册指标，在主入口挂载到 /metrics
func Handler() http.Handler { return promhttp.Handler() }
