// Package metrics exports validator epoch metrics over Prometheus, mounted
// on its own dedicated HTTP server exactly as the reference churn exporter
// mounts promhttp.Handler() — independent of any other HTTP surface the
// process exposes.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the epoch driver updates.
type Registry struct {
	EpochDuration       prometheus.Histogram
	CommitOutcomes      *prometheus.CounterVec
	ScoringBootstraps   prometheus.Counter
	ScoringCliffResets  prometheus.Counter
	ScoringActive       prometheus.Gauge
	TelemetryBatchOK    prometheus.Counter
	TelemetryBatchFail  prometheus.Counter

	reg *prometheus.Registry
}

// New builds and registers every metric on a fresh, isolated registry (not
// the global default registry, so tests can build one per run without
// collisions).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		EpochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "validator_epoch_duration_seconds",
			Help:    "Wall-clock duration of one epoch iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		CommitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "validator_commit_outcomes_total",
			Help: "Count of commit attempts by outcome (committed/cooldown/failed).",
		}, []string{"status"}),
		ScoringBootstraps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_scoring_bootstraps_total",
			Help: "Count of participants scored via the bootstrap branch.",
		}),
		ScoringCliffResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_scoring_cliff_resets_total",
			Help: "Count of participants scored via the cliff-reset branch.",
		}),
		ScoringActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "validator_scoring_active_participants",
			Help: "Number of participants with a non-zero smoothed score in the most recent epoch.",
		}),
		TelemetryBatchOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_telemetry_batches_succeeded_total",
			Help: "Count of telemetry batches fetched successfully from upstream.",
		}),
		TelemetryBatchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validator_telemetry_batches_failed_total",
			Help: "Count of telemetry batches that fell back to cache.",
		}),
		reg: reg,
	}

	reg.MustRegister(
		r.EpochDuration, r.CommitOutcomes, r.ScoringBootstraps,
		r.ScoringCliffResets, r.ScoringActive, r.TelemetryBatchOK, r.TelemetryBatchFail,
	)
	return r
}

// Serve starts the metrics HTTP server on addr and blocks until ctx is
// canceled, then shuts it down.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
