// Package metrics records run, fetch and reconciliation metrics with
// Prometheus.
//
// A sync run is a short-lived batch job, so metrics are kept on a private
// registry and pushed to a Pushgateway when the run finishes instead of
// being scraped.
//
// # Basic Usage
//
//	rec := metrics.NewRecorder()
//	rec.ObserveFetch("Bayview", "Incidents", time.Since(start), nil)
//	rec.ObserveReconcile("Bayview", "Incidents", deleted, inserted, elapsed)
//	rec.RunFinished(nil)
//	_ = rec.Push(ctx, "http://pushgateway:9091", "deanslist_sync")
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "deanslist_sync"

// Config configures metric export. An empty PushURL disables pushing.
type Config struct {
	PushURL string `yaml:"push_url"`
	Job     string `yaml:"job"`
}

// Recorder collects the metrics of one process.
type Recorder struct {
	registry *prometheus.Registry

	rowsInserted     *prometheus.CounterVec
	rowsDeleted      *prometheus.CounterVec
	reconcileLatency *prometheus.HistogramVec
	fetchLatency     *prometheus.HistogramVec
	fetchErrors      *prometheus.CounterVec
	tenantsProcessed prometheus.Counter
	lastSuccess      prometheus.Gauge
	runStatus        prometheus.Gauge
}

// NewRecorder registers all metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		rowsInserted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_inserted_total",
				Help:      "Rows inserted into the warehouse",
			},
			[]string{"tenant", "entity"},
		),
		rowsDeleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_deleted_total",
				Help:      "Rows deleted from the warehouse before insert",
			},
			[]string{"tenant", "entity"},
		),
		reconcileLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of one delete-then-insert",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"entity"},
		),
		fetchLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of one source API request",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"entity"},
		),
		fetchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Failed source API requests",
			},
			[]string{"tenant", "entity"},
		),
		tenantsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenants_processed_total",
			Help:      "Tenants whose entities were all reconciled",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
		runStatus: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_status",
			Help:      "1 if the last run succeeded, 0 if it failed",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveFetch records one source request.
func (r *Recorder) ObserveFetch(tenant, entity string, d time.Duration, err error) {
	r.fetchLatency.WithLabelValues(entity).Observe(d.Seconds())
	if err != nil {
		r.fetchErrors.WithLabelValues(tenant, entity).Inc()
	}
}

// ObserveReconcile records one reconciliation.
func (r *Recorder) ObserveReconcile(tenant, entity string, deleted, inserted int64, d time.Duration) {
	r.rowsDeleted.WithLabelValues(tenant, entity).Add(float64(deleted))
	r.rowsInserted.WithLabelValues(tenant, entity).Add(float64(inserted))
	r.reconcileLatency.WithLabelValues(entity).Observe(d.Seconds())
}

// TenantDone counts a fully processed tenant.
func (r *Recorder) TenantDone() {
	r.tenantsProcessed.Inc()
}

// RunFinished sets the run status gauges.
func (r *Recorder) RunFinished(err error) {
	if err != nil {
		r.runStatus.Set(0)
		return
	}
	r.runStatus.Set(1)
	r.lastSuccess.SetToCurrentTime()
}

// Push sends every metric to a Pushgateway, replacing the job's group.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	return push.New(url, job).Gatherer(r.registry).PushContext(ctx)
}
