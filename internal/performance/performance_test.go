package performance_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/performance"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func newTrackerWithStrategy(t *testing.T) (*performance.Tracker, *statestore.Store, string) {
	t.Helper()
	store := statestore.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)

	config := types.StrategyConfig{
		Name:                     "tracked",
		Kind:                     types.StrategyKind{Tag: types.StrategyKindYieldFarming, MinAPYThreshold: decimal.NewFromInt(5)},
		TargetChains:             []types.ChainId{types.ChainEthereum},
		TargetProtocols:          []types.Protocol{types.ProtocolAave},
		RiskLevel:                3,
		MaxAllocationUSD:         decimal.NewFromInt(100_000),
		ExecutionIntervalMinutes: 60,
	}
	strat, err := store.Create(ctx, "user-1", config, "strat-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Activate(ctx, strat.ID, decimal.NewFromInt(10_000), types.Now()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return performance.New(zap.NewNop(), store), store, strat.ID
}

func testOpp(chain types.ChainId, protocol types.Protocol, kind types.OpportunityKind) types.Opportunity {
	return types.Opportunity{ID: "opp", Chain: chain, Protocol: protocol, Kind: kind}
}

func TestRecordExecutionUpdatesCounters(t *testing.T) {
	tracker, store, strategyID := newTrackerWithStrategy(t)
	ctx := context.Background()

	result := types.ExecutionResult{
		ExecutionID: "e1", StrategyID: strategyID, OpportunityID: "opp",
		AmountUSD: decimal.NewFromInt(1000), ActualReturn: decimal.NewFromInt(50),
		Success: true, DurationSeconds: 2.5, ExecutedAt: types.Now(),
	}
	if err := tracker.RecordExecution(ctx, testOpp(types.ChainEthereum, types.ProtocolAave, types.OpportunityYieldFarming), result); err != nil {
		t.Fatalf("record execution: %v", err)
	}

	strat, ok := store.Get(ctx, strategyID)
	if !ok {
		t.Fatal("strategy not found")
	}
	if strat.PerformanceMetrics.TotalExecutions != 1 {
		t.Fatalf("expected 1 total execution, got %d", strat.PerformanceMetrics.TotalExecutions)
	}
	if strat.PerformanceMetrics.SuccessfulExecutions != 1 {
		t.Fatalf("expected 1 successful execution, got %d", strat.PerformanceMetrics.SuccessfulExecutions)
	}
	if !strat.PerformanceMetrics.TotalPnLUSD.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected total pnl 50, got %s", strat.PerformanceMetrics.TotalPnLUSD)
	}
	if strat.ExecutionHistory.Len() != 1 {
		t.Fatalf("expected 1 entry in execution history, got %d", strat.ExecutionHistory.Len())
	}
}

func TestAttributionPartitionsByChainProtocolKind(t *testing.T) {
	tracker, _, strategyID := newTrackerWithStrategy(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := types.ExecutionResult{
			ExecutionID: "e", StrategyID: strategyID, AmountUSD: decimal.NewFromInt(1000),
			ActualReturn: decimal.NewFromInt(10), Success: true, ExecutedAt: types.Now(),
		}
		if err := tracker.RecordExecution(ctx, testOpp(types.ChainEthereum, types.ProtocolAave, types.OpportunityYieldFarming), result); err != nil {
			t.Fatalf("record execution: %v", err)
		}
	}

	rows := tracker.Attribution(strategyID)
	if len(rows) != 3 {
		t.Fatalf("expected 3 attribution rows (chain, protocol, kind), got %d", len(rows))
	}
	for _, row := range rows {
		if row.Count != 3 {
			t.Fatalf("expected count 3 for dimension %s, got %d", row.Dimension, row.Count)
		}
	}
}

func TestDeriveComputesDrawdownAndCumulativeROI(t *testing.T) {
	history := []types.ExecutionResult{
		{AmountUSD: decimal.NewFromInt(1000), ActualReturn: decimal.NewFromInt(50), Success: true},
		{AmountUSD: decimal.NewFromInt(1000), ActualReturn: decimal.NewFromInt(-30), Success: false},
		{AmountUSD: decimal.NewFromInt(1000), ActualReturn: decimal.NewFromInt(40), Success: true},
	}
	derived := performance.Derive(history)
	if derived.MaxDrawdownPct.IsNegative() {
		t.Fatalf("max drawdown must be non-negative, got %s", derived.MaxDrawdownPct)
	}
	if !derived.CumulativeROIPct.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected cumulative roi of 6%%, got %s", derived.CumulativeROIPct)
	}
}

func TestDeriveEmptyHistory(t *testing.T) {
	derived := performance.Derive(nil)
	if !derived.CumulativeROIPct.IsZero() {
		t.Fatalf("expected zero cumulative roi for empty history, got %s", derived.CumulativeROIPct)
	}
}

func TestCompareAgainstBenchmarksCoversAllFour(t *testing.T) {
	daily := []performance.DailyPoint{
		{Day: 1, PnLPct: decimal.NewFromFloat(0.5), CumulativeReturn: decimal.NewFromFloat(0.5)},
		{Day: 2, PnLPct: decimal.NewFromFloat(0.2), CumulativeReturn: decimal.NewFromFloat(0.7)},
	}
	comparisons := performance.CompareAgainstBenchmarks(daily)
	if len(comparisons) != 4 {
		t.Fatalf("expected 4 benchmark comparisons, got %d", len(comparisons))
	}
}
