package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venice_api_calls_total",
			Help: "Total number of upstream API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	APICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venice_api_call_duration_seconds",
			Help:    "Upstream API call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)
	// APICallErrorsTotal is the aggregate error-type counter reported for
	// operational visibility.
	APICallErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venice_api_call_errors_total",
			Help: "Total number of classified upstream call errors by kind",
		},
		[]string{"kind"},
	)

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_probes_total",
			Help: "Total number of probe executions by probe and outcome",
		},
		[]string{"probe", "outcome"},
	)
	ProbeCacheHitRate = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_probe_hit_rate_percent",
			Help:    "Observed cache-hit rate per probe execution",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"probe"},
	)

	ModelCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_model_cycles_total",
			Help: "Total number of completed model test cycles by outcome",
		},
		[]string{"outcome"},
	)
	ModelCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_model_cycle_duration_seconds",
			Help:    "Duration of one full model test cycle in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	RotationQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_rotation_queue_length",
			Help: "Number of models currently in the rotation queue",
		},
	)
	SchedulerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_running",
			Help: "1 while the rotation loop is active, 0 otherwise",
		},
	)
	AccountBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "venice_account_balance",
			Help: "Last observed account balance",
		},
	)
	BalanceBreakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_balance_breaker_tripped",
			Help: "1 while the balance circuit breaker has stopped the scheduler",
		},
	)
	ModelsInCooldown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_models_in_cooldown",
			Help: "Number of models currently skipped due to cooldown",
		},
	)
)

// InitMetrics registers all Prometheus collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(APICallsTotal)
	prometheus.MustRegister(APICallDuration)
	prometheus.MustRegister(APICallErrorsTotal)
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(ProbeCacheHitRate)
	prometheus.MustRegister(ModelCyclesTotal)
	prometheus.MustRegister(ModelCycleDuration)
	prometheus.MustRegister(RotationQueueLength)
	prometheus.MustRegister(SchedulerRunning)
	prometheus.MustRegister(AccountBalance)
	prometheus.MustRegister(BalanceBreakerTripped)
	prometheus.MustRegister(ModelsInCooldown)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// chi only fills the route pattern once routing ran; fall back to
		// the raw path so requests that miss the router still count
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
