// Package metrics holds the agent's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can be built without a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	GatewayRequestsTotal      *prometheus.CounterVec
	GatewayRequestDuration    *prometheus.HistogramVec
	OperationsTotal           *prometheus.CounterVec
	OperationDuration         *prometheus.HistogramVec
	ProbeCacheLookupsTotal    *prometheus.CounterVec
	RegistryBuckets           prometheus.Gauge
	RegistryConnectionInfos   prometheus.Gauge
	RegistrySaveFailuresTotal prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sign_agent_gateway_requests_total",
			Help: "Total number of platform requests by method and status class",
		}, []string{"method", "status"}),
		GatewayRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sign_agent_gateway_request_duration_seconds",
			Help:    "Duration of platform requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sign_agent_operations_total",
			Help: "Total number of operations performed by kind and result status",
		}, []string{"kind", "status"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sign_agent_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		ProbeCacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sign_agent_probe_cache_lookups_total",
			Help: "Token probe cache lookups by result",
		}, []string{"result"}),
		RegistryBuckets: f.NewGauge(prometheus.GaugeOpts{
			Name: "sign_agent_registry_atr_buckets",
			Help: "Number of distinct ATRs known to the registry",
		}),
		RegistryConnectionInfos: f.NewGauge(prometheus.GaugeOpts{
			Name: "sign_agent_registry_connection_infos",
			Help: "Number of connection infos across all ATR buckets",
		}),
		RegistrySaveFailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sign_agent_registry_save_failures_total",
			Help: "Total number of failed registry saves",
		}),
	}
}

// StatusClass buckets an HTTP status code as "2xx", "4xx", etc.
// Zero means the request never got a response.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

func (m *Metrics) ObserveGatewayRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(method, StatusClass(status)).Inc()
	m.GatewayRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveOperation(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(kind, status).Inc()
	m.OperationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncrementProbeCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ProbeCacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRegistrySize(buckets, infos int) {
	if m == nil {
		return
	}
	m.RegistryBuckets.Set(float64(buckets))
	m.RegistryConnectionInfos.Set(float64(infos))
}

func (m *Metrics) IncrementRegistrySaveFailures() {
	if m == nil {
		return
	}
	m.RegistrySaveFailuresTotal.Inc()
}
