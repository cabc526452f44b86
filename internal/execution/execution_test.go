package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/internal/adapter/mock"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/execution"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func testBus(t *testing.T) *events.EventBus {
	t.Helper()
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })
	return bus
}

func yieldStrategy(capitalUSD int64) *types.ActiveStrategy {
	strat := types.NewActiveStrategy("strat-1", "user-1", types.StrategyConfig{
		Name:             "yield",
		Kind:             types.StrategyKind{Tag: types.StrategyKindYieldFarming, MinAPYThreshold: decimal.NewFromInt(5)},
		TargetChains:     []types.ChainId{types.ChainEthereum},
		TargetProtocols:  []types.Protocol{types.ProtocolAave},
		RiskLevel:        3,
		MaxAllocationUSD: decimal.NewFromInt(100_000),
		GasLimitUSD:      decimal.NewFromInt(500),
	})
	strat.Status = types.StrategyStatusActive
	strat.AllocatedCapitalUSD = decimal.NewFromInt(capitalUSD)
	strat.WalletAddresses = map[types.ChainId]types.Address{
		types.ChainEthereum: "0x0000000000000000000000000000000000000001",
	}
	return strat
}

func yieldOpportunity() types.Opportunity {
	now := types.Now()
	return types.Opportunity{
		ID:                     "opp-1",
		Kind:                   types.OpportunityYieldFarming,
		Chain:                  types.ChainEthereum,
		Protocol:               types.ProtocolAave,
		ExpectedReturnPct:      decimal.NewFromInt(8),
		TimeSensitivityMinutes: 30,
		DiscoveredAt:           now,
		ExpiresAt:              now.Add(time.Hour),
		YieldFarming:           &types.YieldFarmingDetails{APY: decimal.NewFromInt(8), Tokens: []string{"USDC"}, Pool: "aave-usdc"},
	}
}

func newEngine(t *testing.T, a adapter.ProtocolAdapter, safety *execution.SafetyController) *execution.Engine {
	t.Helper()
	registry := adapter.NewRegistry()
	registry.Register(types.ChainEthereum, types.ProtocolAave, a)
	if safety == nil {
		safety = execution.NewSafetyController(execution.DefaultSafetyConfig())
	}
	return execution.New(zap.NewNop(), registry, testBus(t), safety)
}

func TestExecuteSucceedsAndRecordsVolume(t *testing.T) {
	a := mock.NewProtocolAdapter()
	safety := execution.NewSafetyController(execution.DefaultSafetyConfig())
	engine := newEngine(t, a, safety)

	strat := yieldStrategy(10_000)
	result, err := engine.Execute(context.Background(), strat, yieldOpportunity())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(result.TxHashes) != 2 {
		t.Fatalf("expected approve+add_liquidity steps, got %d tx hashes", len(result.TxHashes))
	}

	_, total := safety.Snapshot("user-1")
	if !total.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("expected recorded volume 10000, got %s", total)
	}
}

func TestExecuteRejectsExpiredOpportunity(t *testing.T) {
	a := mock.NewProtocolAdapter()
	engine := newEngine(t, a, nil)

	strat := yieldStrategy(10_000)
	opp := yieldOpportunity()
	opp.ExpiresAt = opp.DiscoveredAt.Add(time.Nanosecond)

	_, err := engine.Execute(context.Background(), strat, opp)
	if err == nil {
		t.Fatal("expected expired opportunity to be rejected")
	}
}

func TestExecuteRejectsMissingWallet(t *testing.T) {
	a := mock.NewProtocolAdapter()
	engine := newEngine(t, a, nil)

	strat := yieldStrategy(10_000)
	strat.WalletAddresses = map[types.ChainId]types.Address{}

	_, err := engine.Execute(context.Background(), strat, yieldOpportunity())
	if err == nil {
		t.Fatal("expected missing wallet address to be rejected")
	}
}

func TestExecuteRejectsBelowAPYThreshold(t *testing.T) {
	a := mock.NewProtocolAdapter()
	engine := newEngine(t, a, nil)

	strat := yieldStrategy(10_000)
	strat.Config.Kind.MinAPYThreshold = decimal.NewFromInt(20)

	_, err := engine.Execute(context.Background(), strat, yieldOpportunity())
	if err == nil {
		t.Fatal("expected below-threshold apy to be rejected")
	}
}

func TestExecuteRejectsGasExceedingLimit(t *testing.T) {
	a := mock.NewProtocolAdapter()
	a.GasEstimateUSD = 1000
	engine := newEngine(t, a, nil)

	strat := yieldStrategy(10_000)
	strat.Config.GasLimitUSD = decimal.NewFromInt(10)

	_, err := engine.Execute(context.Background(), strat, yieldOpportunity())
	if err == nil {
		t.Fatal("expected gas estimate exceeding gas_limit_usd to be rejected")
	}
}

func TestSafetyControllerRejectsAboveSingleExecutionCeiling(t *testing.T) {
	safety := execution.NewSafetyController(execution.SafetyConfig{
		MaxSingleExecutionUSD: decimal.NewFromInt(1000),
		MaxDailyVolumeUSD:     decimal.NewFromInt(1_000_000),
	})
	err := safety.CheckPreExecution(context.Background(), "user-1", decimal.NewFromInt(2000))
	if err == nil {
		t.Fatal("expected single execution ceiling to reject")
	}
}

func TestSafetyControllerAccumulatesDailyVolume(t *testing.T) {
	safety := execution.NewSafetyController(execution.SafetyConfig{
		MaxSingleExecutionUSD: decimal.NewFromInt(10_000),
		MaxDailyVolumeUSD:     decimal.NewFromInt(15_000),
	})
	if err := safety.CheckPreExecution(context.Background(), "user-1", decimal.NewFromInt(10_000)); err != nil {
		t.Fatalf("first execution should pass: %v", err)
	}
	safety.RecordExecution("user-1", decimal.NewFromInt(10_000))

	if err := safety.CheckPreExecution(context.Background(), "user-1", decimal.NewFromInt(8_000)); err == nil {
		t.Fatal("expected second execution to exceed rolling daily volume ceiling")
	}
}

func TestSafetyControllerRestoreSeedsVolume(t *testing.T) {
	safety := execution.NewSafetyController(execution.DefaultSafetyConfig())
	now := types.Now()
	safety.Restore("user-1", now, decimal.NewFromInt(400_000))

	windowStart, total := safety.Snapshot("user-1")
	if windowStart != now {
		t.Fatalf("expected restored window start %d, got %d", now, windowStart)
	}
	if !total.Equal(decimal.NewFromInt(400_000)) {
		t.Fatalf("expected restored volume 400000, got %s", total)
	}

	err := safety.CheckPreExecution(context.Background(), "user-1", decimal.NewFromInt(200_000))
	if err == nil {
		t.Fatal("expected restored volume plus new amount to exceed max_daily_volume_usd")
	}
}
