package core

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports operation latency and outcome counts plus
// gauges describing the last published run.
type PrometheusRecorder struct {
	duration   *prometheus.HistogramVec
	operations *prometheus.CounterVec
	clusters   *prometheus.GaugeVec
	positives  prometheus.Gauge
	published  prometheus.Gauge

	mu         sync.Mutex
	infections map[string]struct{}
}

// NewPrometheusRecorder registers the collectors with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wardtrace",
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"operation"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wardtrace",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		clusters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wardtrace",
			Name:      "clusters",
			Help:      "Clusters in the last published run.",
		}, []string{"infection"}),
		positives: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wardtrace",
			Name:      "patients_positive",
			Help:      "Distinct positive patients in the last published run.",
		}),
		published: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wardtrace",
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last published run.",
		}),
		infections: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{r.duration, r.operations, r.clusters, r.positives, r.published} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := string(AuditStatusError)
	if success {
		status = string(AuditStatusSuccess)
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.operations.WithLabelValues(operation, status).Inc()
}

// ObserveRun implements RunObserver. Infections absent from p are reset to
// zero rather than left at their previous value.
func (r *PrometheusRecorder) ObserveRun(p Published) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for infection := range r.infections {
		if _, ok := p.Result.Clusters[infection]; !ok {
			r.clusters.WithLabelValues(infection).Set(0)
		}
	}
	for infection, list := range p.Result.Clusters {
		r.infections[infection] = struct{}{}
		r.clusters.WithLabelValues(infection).Set(float64(len(list)))
	}
	r.positives.Set(float64(p.Result.Stats.PatientsPositive))
	r.published.Set(float64(p.PublishedAt.Unix()))
}
