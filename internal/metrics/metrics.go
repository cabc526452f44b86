// Package metrics exposes the engine's runtime counters and gauges as
// Prometheus collectors (SPEC_FULL.md section B), served over a dedicated
// listener separate from the main API.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Registry bundles every collector the engine's components write to, backed
// by its own prometheus.Registry rather than the global default so that
// multiple Registry instances (one per test, one per process) never collide
// on collector names.
type Registry struct {
	logger   *zap.Logger
	server   *http.Server
	registry *prometheus.Registry

	OpportunitiesDiscovered *prometheus.CounterVec
	ScanDuration            *prometheus.HistogramVec
	ExecutionsTotal         *prometheus.CounterVec
	ExecutionDuration       prometheus.Histogram
	ExecutionPnLUSD         prometheus.Gauge
	RiskViolationsTotal     *prometheus.CounterVec
	EmergencyStopsTotal     prometheus.Counter
	ActiveStrategiesGauge   *prometheus.GaugeVec
	AllocatedCapitalUSD     *prometheus.GaugeVec
	CoordinationActions     *prometheus.CounterVec
	EventBusQueueDepth      prometheus.Gauge
}

// New registers every collector against a fresh, private registry.
func New(logger *zap.Logger) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		logger:   logger.Named("metrics"),
		registry: reg,

		OpportunitiesDiscovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "scanner",
			Name:      "opportunities_discovered_total",
			Help:      "Opportunities discovered by the scanner, partitioned by kind.",
		}, []string{"kind"}),

		ScanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of a full scan pass, partitioned by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "execution",
			Name:      "executions_total",
			Help:      "Strategy executions, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),

		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "execution",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of a single strategy execution.",
			Buckets:   prometheus.DefBuckets,
		}),

		ExecutionPnLUSD: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "execution",
			Name:      "pnl_usd_total",
			Help:      "Cumulative realized PnL in USD across all executions (can be negative in aggregate, gauge tracks signed running sum via Add).",
		}),

		RiskViolationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "risk",
			Name:      "violations_total",
			Help:      "Risk Manager rejections, partitioned by reason.",
		}, []string{"reason"}),

		EmergencyStopsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "risk",
			Name:      "emergency_stops_total",
			Help:      "Strategies force-paused by the Risk Manager.",
		}),

		ActiveStrategiesGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "strategy",
			Name:      "active_count",
			Help:      "Strategies currently in a given lifecycle status.",
		}, []string{"status"}),

		AllocatedCapitalUSD: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "allocation",
			Name:      "allocated_capital_usd",
			Help:      "Capital currently allocated, partitioned by chain.",
		}, []string{"chain"}),

		CoordinationActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "coordination",
			Name:      "actions_total",
			Help:      "Coordination Engine conflict resolutions, partitioned by kind.",
		}, []string{"kind"}),

		EventBusQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Pending events buffered in the event bus.",
		}),
	}
}

// Serve starts the dedicated Prometheus listener on port and blocks until
// ctx is cancelled or the listener fails.
func (r *Registry) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("metrics listener starting", zap.Int("port", port))
		errCh <- r.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return r.server.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
