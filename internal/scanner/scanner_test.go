package scanner_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/internal/adapter/mock"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/scanner"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func fastConfig() scanner.Config {
	cfg := scanner.DefaultConfig()
	cfg.Intervals = types.ScanIntervals{
		YieldFarmingSeconds:    0,
		ArbitrageSeconds:       0,
		LiquidityMiningSeconds: 0,
		RebalancingSeconds:     0,
	}
	return cfg
}

func TestScanMergesYieldAndArbitrageOpportunities(t *testing.T) {
	registry := adapter.NewRegistry()
	a := mock.NewProtocolAdapter()
	a.YieldOpportunities = []adapter.YieldOpportunityDTO{
		{Pool: "aave-usdc", Tokens: []string{"USDC"}, APYPct: 8.5, RiskScore: 2, LiquidityScore: 9, MaxDepositUSD: 500_000},
	}
	a.ArbitrageOpportunities = []adapter.ArbitrageOpportunityDTO{
		{Pair: "ETH/USDC", DexA: "uniswap", DexB: "sushiswap", ProfitPct: 1.2, RiskScore: 3},
	}
	registry.Register(types.ChainEthereum, types.ProtocolAave, a)

	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })

	s := scanner.New(zap.NewNop(), registry, bus, fastConfig())
	s.Start()
	t.Cleanup(s.Stop)

	opps := s.Scan(context.Background())
	if len(opps) != 2 {
		t.Fatalf("expected 2 opportunities, got %d: %+v", len(opps), opps)
	}

	var sawYield, sawArb bool
	for _, o := range opps {
		switch o.Kind {
		case types.OpportunityYieldFarming:
			sawYield = true
		case types.OpportunityArbitrage:
			sawArb = true
		}
	}
	if !sawYield || !sawArb {
		t.Fatalf("expected both kinds, got %+v", opps)
	}
}

func TestRepeatedScanReturnsConsistentCache(t *testing.T) {
	registry := adapter.NewRegistry()
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })

	s := scanner.New(zap.NewNop(), registry, bus, fastConfig())
	s.Start()
	t.Cleanup(s.Stop)

	ctx := context.Background()
	first := s.Scan(ctx)
	if first == nil {
		first = []types.Opportunity{}
	}
	second := s.Scan(ctx)
	if len(second) != len(first) {
		t.Fatalf("expected consistent cache read, got %d vs %d", len(first), len(second))
	}
}

func TestMergeExternalAddsToCache(t *testing.T) {
	registry := adapter.NewRegistry()
	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })

	s := scanner.New(zap.NewNop(), registry, bus, fastConfig())

	now := types.Now()
	s.MergeExternal([]types.Opportunity{{
		ID:                     "rebalance-1",
		Kind:                   types.OpportunityRebalancing,
		Chain:                  types.ChainPolygon,
		Protocol:               types.ProtocolUniswapV3,
		ExpectedReturnPct:      decimal.NewFromInt(2),
		RiskScore:              decimal.NewFromInt(1),
		LiquidityScore:         decimal.NewFromInt(5),
		DiscoveredAt:           now,
		ExpiresAt:              now.Add(60_000_000_000),
		Rebalancing: &types.RebalancingDetails{
			CurrentAllocation: map[string]decimal.Decimal{"polygon": decimal.NewFromInt(60)},
			TargetAllocation:  map[string]decimal.Decimal{"polygon": decimal.NewFromInt(40)},
		},
	}})

	top := s.Top(10)
	if len(top) != 1 {
		t.Fatalf("expected 1 merged opportunity, got %d", len(top))
	}
	if top[0].Kind != types.OpportunityRebalancing {
		t.Fatalf("expected rebalancing kind, got %s", top[0].Kind)
	}
}
