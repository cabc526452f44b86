package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/metrics"
)

func TestOpportunitiesDiscoveredIncrements(t *testing.T) {
	reg := metrics.New(zap.NewNop())
	reg.OpportunitiesDiscovered.WithLabelValues("yield_farming").Inc()
	reg.OpportunitiesDiscovered.WithLabelValues("yield_farming").Inc()

	got := testutil.ToFloat64(reg.OpportunitiesDiscovered.WithLabelValues("yield_farming"))
	if got != 2 {
		t.Fatalf("expected counter value 2, got %v", got)
	}
}

func TestActiveStrategiesGaugeSetsPerStatus(t *testing.T) {
	reg := metrics.New(zap.NewNop())
	reg.ActiveStrategiesGauge.WithLabelValues("active").Set(3)
	reg.ActiveStrategiesGauge.WithLabelValues("paused").Set(1)

	if got := testutil.ToFloat64(reg.ActiveStrategiesGauge.WithLabelValues("active")); got != 3 {
		t.Fatalf("expected 3 active strategies, got %v", got)
	}
	if got := testutil.ToFloat64(reg.ActiveStrategiesGauge.WithLabelValues("paused")); got != 1 {
		t.Fatalf("expected 1 paused strategy, got %v", got)
	}
}
