package risk_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/risk"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func testStrategy(t *testing.T) *types.ActiveStrategy {
	t.Helper()
	config := types.StrategyConfig{
		Name:            "test",
		Kind:            types.StrategyKind{Tag: types.StrategyKindYieldFarming, MinAPYThreshold: decimal.NewFromInt(5)},
		TargetChains:    []types.ChainId{types.ChainEthereum},
		TargetProtocols: []types.Protocol{types.ProtocolAave},
		RiskLevel:       3,
		MaxAllocationUSD: decimal.NewFromInt(50_000),
	}
	strat := types.NewActiveStrategy("strat-1", "user-1", config)
	strat.AllocatedCapitalUSD = decimal.NewFromInt(10_000)
	return strat
}

func testOpportunity() types.Opportunity {
	return types.Opportunity{
		ID:              "opp-1",
		Kind:            types.OpportunityYieldFarming,
		Chain:           types.ChainEthereum,
		Protocol:        types.ProtocolAave,
		LiquidityScore:  decimal.NewFromInt(8),
		RiskScore:       decimal.NewFromInt(3),
	}
}

func newManager(t *testing.T) *risk.Manager {
	t.Helper()
	logger := zap.NewNop()
	store := statestore.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)
	bus := events.NewEventBus(logger, events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })
	return risk.New(logger, risk.DefaultConfig(), store, bus)
}

func TestComputeRiskScoreWithinBounds(t *testing.T) {
	strat := testStrategy(t)
	score := risk.ComputeRiskScore(*strat, decimal.NewFromInt(40_000))
	if score.LessThan(decimal.NewFromInt(1)) || score.GreaterThan(decimal.NewFromInt(10)) {
		t.Fatalf("risk score %s out of [1,10] bounds", score)
	}
}

func TestCheckPreExecutionPassesForLowRiskStrategy(t *testing.T) {
	m := newManager(t)
	strat := testStrategy(t)
	opp := testOpportunity()
	if err := m.CheckPreExecution(context.Background(), *strat, opp, decimal.NewFromInt(40_000)); err != nil {
		t.Fatalf("expected pass, got error: %v", err)
	}
}

func TestCheckPreExecutionRejectsLowLiquidity(t *testing.T) {
	m := newManager(t)
	strat := testStrategy(t)
	opp := testOpportunity()
	opp.LiquidityScore = decimal.NewFromInt(1)
	if err := m.CheckPreExecution(context.Background(), *strat, opp, decimal.NewFromInt(40_000)); err == nil {
		t.Fatal("expected liquidity rejection, got nil error")
	}
}

func TestThreeConsecutiveViolationsTriggerEmergencyStop(t *testing.T) {
	m := newManager(t)
	strat := testStrategy(t)
	opp := testOpportunity()
	opp.LiquidityScore = decimal.NewFromInt(1)

	for i := 0; i < 3; i++ {
		_ = m.CheckPreExecution(context.Background(), *strat, opp, decimal.NewFromInt(40_000))
	}
	if !m.IsDisabled(strat.ID) {
		t.Fatal("expected strategy to be disabled after three consecutive violations")
	}
}

func TestCheckPostExecutionFlagsHighFailureRate(t *testing.T) {
	m := newManager(t)
	strat := testStrategy(t)
	for i := 0; i < 10; i++ {
		success := i < 7 // 3/10 = 30% failure rate, above 15% threshold
		strat.ExecutionHistory.Append(types.ExecutionResult{ExecutionID: "e", Success: success})
	}
	if err := m.CheckPostExecution(context.Background(), strat); err == nil {
		t.Fatal("expected emergency stop on high failure rate")
	}
	if !m.IsDisabled(strat.ID) {
		t.Fatal("expected strategy disabled after emergency stop")
	}
}

func TestResumeClearsEmergencyStop(t *testing.T) {
	m := newManager(t)
	strat := testStrategy(t)
	for i := 0; i < 10; i++ {
		strat.ExecutionHistory.Append(types.ExecutionResult{ExecutionID: "e", Success: false})
	}
	_ = m.CheckPostExecution(context.Background(), strat)
	if !m.IsDisabled(strat.ID) {
		t.Fatal("expected disabled before resume")
	}
	m.Resume(strat.ID)
	if m.IsDisabled(strat.ID) {
		t.Fatal("expected enabled after resume")
	}
}

func TestPortfolioMetricsConcentrationForSingleStrategy(t *testing.T) {
	m := newManager(t)
	strat := testStrategy(t)
	metrics := m.PortfolioMetrics([]types.ActiveStrategy{*strat})
	if !metrics.Concentration.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected HHI of 1 for a single strategy, got %s", metrics.Concentration)
	}
}

func TestPresetScenariosNonEmpty(t *testing.T) {
	scenarios := risk.PresetScenarios()
	if len(scenarios) == 0 {
		t.Fatal("expected at least one preset scenario")
	}
	for _, s := range scenarios {
		if s.Name == "" {
			t.Fatal("scenario missing name")
		}
		if len(s.Factors) == 0 {
			t.Fatalf("scenario %s has no factors", s.Name)
		}
	}
}

func TestRunStressTestMarketCrash(t *testing.T) {
	m := newManager(t)
	scenarios := risk.PresetScenarios()
	result := m.RunStressTest(scenarios[0], decimal.NewFromInt(100_000))
	if !result.EstimatedLossUSD.IsPositive() {
		t.Fatalf("expected positive estimated loss, got %s", result.EstimatedLossUSD)
	}
}
