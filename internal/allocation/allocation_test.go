package allocation_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/defrost-labs/strategy-engine/internal/allocation"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func candidate(id string, chain types.ChainId, protocol types.Protocol, returnPct, riskScore, liquidity int64) types.Opportunity {
	return types.Opportunity{
		ID:                id,
		Kind:              types.OpportunityYieldFarming,
		Chain:             chain,
		Protocol:          protocol,
		ExpectedReturnPct: decimal.NewFromInt(returnPct),
		RiskScore:         decimal.NewFromInt(riskScore),
		LiquidityScore:    decimal.NewFromInt(liquidity),
		YieldFarming:      &types.YieldFarmingDetails{APY: decimal.NewFromInt(returnPct), Tokens: []string{"USDC"}, Pool: "pool-" + id},
	}
}

func TestBuildAllocatesWithinCapitalAndRules(t *testing.T) {
	opt := allocation.New(types.DefaultAllocationRules())
	candidates := []types.Opportunity{
		candidate("opp-1", types.ChainEthereum, types.ProtocolAave, 12, 3, 8),
		candidate("opp-2", types.ChainArbitrum, types.ProtocolUniswapV3, 9, 4, 7),
		candidate("opp-3", types.ChainOptimism, types.ProtocolCurve, 7, 5, 6),
	}

	plan := opt.Build(decimal.NewFromInt(100_000), candidates)

	if plan.TotalAllocatedUSD.IsNegative() {
		t.Fatalf("total allocated must be non-negative, got %s", plan.TotalAllocatedUSD)
	}
	sum := decimal.Zero
	for _, a := range plan.Allocations {
		sum = sum.Add(a.AmountUSD)
		if a.AmountUSD.GreaterThan(decimal.NewFromInt(20_000)) {
			t.Fatalf("allocation %s of %s exceeds 20%% per-strategy cap", a.OpportunityID, a.AmountUSD)
		}
	}
	if !sum.Equal(plan.TotalAllocatedUSD) {
		t.Fatalf("sum of allocations %s does not match reported total %s", sum, plan.TotalAllocatedUSD)
	}
	if !plan.TotalAllocatedUSD.Add(plan.UnallocatedUSD).Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("allocated + unallocated must equal total capital, got %s + %s", plan.TotalAllocatedUSD, plan.UnallocatedUSD)
	}
}

func TestBuildSkipsBelowMinDeposit(t *testing.T) {
	opt := allocation.New(types.DefaultAllocationRules())
	tiny := candidate("opp-tiny", types.ChainEthereum, types.ProtocolAave, 6, 8, 6)
	plan := opt.Build(decimal.NewFromInt(200), []types.Opportunity{tiny})
	for _, a := range plan.Allocations {
		if a.AmountUSD.LessThan(types.DefaultAllocationRules().MinDepositUSD) {
			t.Fatalf("allocation %s of %s is below min deposit", a.OpportunityID, a.AmountUSD)
		}
	}
}

func TestKellyFractionClampedToUpperBound(t *testing.T) {
	opt := allocation.New(types.DefaultAllocationRules())
	rich := candidate("opp-rich", types.ChainEthereum, types.ProtocolAave, 50, 1, 9)
	plan := opt.Build(decimal.NewFromInt(1_000_000), []types.Opportunity{rich})
	if len(plan.Allocations) != 1 {
		t.Fatalf("expected exactly one allocation, got %d", len(plan.Allocations))
	}
	if plan.Allocations[0].KellyFraction.GreaterThan(decimal.NewFromFloat(0.1)) {
		t.Fatalf("kelly fraction %s exceeds the 0.1 ceiling", plan.Allocations[0].KellyFraction)
	}
}

func TestBridgeCostVariesByChainTier(t *testing.T) {
	l2Cost := allocation.BridgeCost(types.ChainArbitrum, decimal.NewFromInt(1000))
	exoticCost := allocation.BridgeCost(types.ChainBitcoin, decimal.NewFromInt(1000))
	if !l2Cost.LessThan(exoticCost) {
		t.Fatalf("expected L2 bridge cost %s to be less than exotic bridge cost %s", l2Cost, exoticCost)
	}
}

func TestCorrelationSelfIsOne(t *testing.T) {
	if !allocation.Correlation(types.ChainEthereum, types.ChainEthereum).Equal(decimal.NewFromInt(1)) {
		t.Fatal("expected self-correlation of 1")
	}
}
