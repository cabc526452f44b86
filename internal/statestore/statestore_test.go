package statestore_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func runningStore(t *testing.T) *statestore.Store {
	t.Helper()
	store := statestore.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)
	return store
}

func validConfig() types.StrategyConfig {
	return types.StrategyConfig{
		Name:                     "test",
		Kind:                     types.StrategyKind{Tag: types.StrategyKindYieldFarming, MinAPYThreshold: decimal.NewFromInt(5)},
		TargetChains:             []types.ChainId{types.ChainEthereum},
		TargetProtocols:          []types.Protocol{types.ProtocolAave},
		RiskLevel:                3,
		MaxAllocationUSD:         decimal.NewFromInt(50_000),
		ExecutionIntervalMinutes: 60,
	}
}

func TestCreateStartsInCreatedStatus(t *testing.T) {
	store := runningStore(t)
	ctx := context.Background()

	strat, err := store.Create(ctx, "user-1", validConfig(), "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if strat.Status != types.StrategyStatusCreated {
		t.Fatalf("expected created status, got %s", strat.Status)
	}
	if !strat.AllocatedCapitalUSD.IsZero() {
		t.Fatalf("expected zero initial capital, got %s", strat.AllocatedCapitalUSD)
	}
}

func TestActivateRejectsCapitalAboveMaxAllocation(t *testing.T) {
	store := runningStore(t)
	ctx := context.Background()

	strat, err := store.Create(ctx, "user-1", validConfig(), "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = store.Activate(ctx, strat.ID, decimal.NewFromInt(100_000), types.Now())
	if err == nil {
		t.Fatal("expected activation over max allocation to fail")
	}
}

func TestFullLifecycleTransitions(t *testing.T) {
	store := runningStore(t)
	ctx := context.Background()

	strat, err := store.Create(ctx, "user-1", validConfig(), "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Activate(ctx, strat.ID, decimal.NewFromInt(10_000), types.Now()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, _ := store.Get(ctx, strat.ID)
	if got.Status != types.StrategyStatusActive {
		t.Fatalf("expected active after activate, got %s", got.Status)
	}

	if err := store.Pause(ctx, strat.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ = store.Get(ctx, strat.ID)
	if got.Status != types.StrategyStatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	if err := store.Resume(ctx, strat.ID, types.Now()); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := store.Stop(ctx, strat.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, _ = store.Get(ctx, strat.ID)
	if got.Status != types.StrategyStatusStopped {
		t.Fatalf("expected stopped, got %s", got.Status)
	}
	if !got.AllocatedCapitalUSD.IsZero() {
		t.Fatalf("expected capital to be zeroed on stop, got %s", got.AllocatedCapitalUSD)
	}
}

func TestStopFromCreatedIsRejected(t *testing.T) {
	store := runningStore(t)
	ctx := context.Background()

	strat, err := store.Create(ctx, "user-1", validConfig(), "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Stop(ctx, strat.ID); err == nil {
		t.Fatal("expected stop from created status to be rejected")
	}
}

func TestListUserOnlyReturnsOwnedStrategies(t *testing.T) {
	store := runningStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, "user-1", validConfig(), "s1"); err != nil {
		t.Fatalf("create s1: %v", err)
	}
	if _, err := store.Create(ctx, "user-2", validConfig(), "s2"); err != nil {
		t.Fatalf("create s2: %v", err)
	}

	strats := store.ListUser(ctx, "user-1")
	if len(strats) != 1 || strats[0].ID != "s1" {
		t.Fatalf("expected only user-1's strategy, got %+v", strats)
	}
}
