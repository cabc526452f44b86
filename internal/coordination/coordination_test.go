package coordination_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/coordination"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store := statestore.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)
	return store
}

func newStrategyConfig(chain types.ChainId, protocol types.Protocol, riskLevel int32) types.StrategyConfig {
	return types.StrategyConfig{
		Name:                     "s",
		Kind:                     types.StrategyKind{Tag: types.StrategyKindYieldFarming, MinAPYThreshold: decimal.NewFromInt(5)},
		TargetChains:             []types.ChainId{chain},
		TargetProtocols:          []types.Protocol{protocol},
		RiskLevel:                riskLevel,
		MaxAllocationUSD:         decimal.NewFromInt(1_000_000),
		ExecutionIntervalMinutes: 60,
	}
}

func TestRunPassResolvesResourceContention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s1, err := store.Create(ctx, "user-1", newStrategyConfig(types.ChainEthereum, types.ProtocolAave, 3), "s1")
	if err != nil {
		t.Fatalf("create s1: %v", err)
	}
	s2, err := store.Create(ctx, "user-1", newStrategyConfig(types.ChainEthereum, types.ProtocolAave, 3), "s2")
	if err != nil {
		t.Fatalf("create s2: %v", err)
	}

	now := types.Now()
	if err := store.Activate(ctx, s1.ID, decimal.NewFromInt(10_000), now.Add(30_000_000_000)); err != nil {
		t.Fatalf("activate s1: %v", err)
	}
	if err := store.Activate(ctx, s2.ID, decimal.NewFromInt(5_000), now.Add(35_000_000_000)); err != nil {
		t.Fatalf("activate s2: %v", err)
	}

	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })

	engine := coordination.New(zap.NewNop(), store, bus, types.DefaultCoordinationRules())
	engine.Start()
	t.Cleanup(func() { _ = engine.Stop() })

	if err := engine.RunPass(ctx); err != nil {
		t.Fatalf("run pass: %v", err)
	}

	history := engine.History()
	if len(history) == 0 {
		t.Fatal("expected at least one recorded coordination action")
	}

	found := false
	for _, a := range history {
		if a.Kind == coordination.ConflictResourceContention {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a resource contention resolution in history, got %+v", history)
	}
}

func TestRunPassSkipsSingleStrategyUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "user-solo", newStrategyConfig(types.ChainEthereum, types.ProtocolAave, 3), "solo")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bus := events.NewEventBus(zap.NewNop(), events.DefaultConfig())
	bus.Start()
	t.Cleanup(func() { bus.Stop(0) })

	engine := coordination.New(zap.NewNop(), store, bus, types.DefaultCoordinationRules())
	engine.Start()
	t.Cleanup(func() { _ = engine.Stop() })

	if err := engine.RunPass(ctx); err != nil {
		t.Fatalf("run pass: %v", err)
	}
	if len(engine.History()) != 0 {
		t.Fatalf("expected no actions for a single-strategy user, got %+v", engine.History())
	}
}
