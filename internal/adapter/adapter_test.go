package adapter_test

import (
	"context"
	"testing"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/internal/adapter/mock"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func TestRegistryLookupMissReturnsFalse(t *testing.T) {
	registry := adapter.NewRegistry()
	if _, ok := registry.Lookup(types.ChainEthereum, types.ProtocolAave); ok {
		t.Fatal("expected lookup on empty registry to miss")
	}
}

func TestRegistryRegisterThenLookup(t *testing.T) {
	registry := adapter.NewRegistry()
	a := mock.NewProtocolAdapter()
	registry.Register(types.ChainEthereum, types.ProtocolAave, a)

	got, ok := registry.Lookup(types.ChainEthereum, types.ProtocolAave)
	if !ok || got != a {
		t.Fatalf("expected registered adapter back, got %v, %v", got, ok)
	}
	if _, ok := registry.Lookup(types.ChainPolygon, types.ProtocolAave); ok {
		t.Fatal("expected lookup on a different chain to miss")
	}
}

func TestRegistryRegisterOverwritesPriorAdapter(t *testing.T) {
	registry := adapter.NewRegistry()
	first := mock.NewProtocolAdapter()
	second := mock.NewProtocolAdapter()
	registry.Register(types.ChainEthereum, types.ProtocolAave, first)
	registry.Register(types.ChainEthereum, types.ProtocolAave, second)

	got, _ := registry.Lookup(types.ChainEthereum, types.ProtocolAave)
	if got != second {
		t.Fatal("expected second registration to win")
	}
}

func TestRegistryAllReturnsIndependentCopy(t *testing.T) {
	registry := adapter.NewRegistry()
	registry.Register(types.ChainEthereum, types.ProtocolAave, mock.NewProtocolAdapter())

	all := registry.All()
	all[adapter.Key{Chain: types.ChainPolygon, Protocol: types.ProtocolUniswapV3}] = mock.NewProtocolAdapter()

	if _, ok := registry.Lookup(types.ChainPolygon, types.ProtocolUniswapV3); ok {
		t.Fatal("mutating the map returned by All must not affect the registry")
	}
}

func TestMockProtocolAdapterSubmitIsIdempotentOnClientNonce(t *testing.T) {
	a := mock.NewProtocolAdapter()
	ctx := context.Background()

	first, err := a.Submit(ctx, types.ChainEthereum, nil, "nonce-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := a.Submit(ctx, types.ChainEthereum, nil, "nonce-1")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first != second {
		t.Fatalf("expected resubmission of the same client nonce to return the same tx hash, got %q vs %q", first, second)
	}
}

func TestMockProtocolAdapterSubmitFailsWhenConfigured(t *testing.T) {
	a := mock.NewProtocolAdapter()
	a.SubmitFails = true

	if _, err := a.Submit(context.Background(), types.ChainEthereum, nil, "nonce-1"); err == nil {
		t.Fatal("expected configured submit failure")
	}
}

func TestMockPriceFeedGetMissReturnsError(t *testing.T) {
	feed := mock.NewPriceFeed()
	if _, err := feed.Get(context.Background(), types.AssetKey{Symbol: "ETH"}); err == nil {
		t.Fatal("expected error for unset asset price")
	}

	feed.Set(types.AssetKey{Symbol: "ETH"}, adapter.Price{ValueUSD: 3000})
	price, err := feed.Get(context.Background(), types.AssetKey{Symbol: "ETH"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if price.ValueUSD != 3000 {
		t.Fatalf("expected 3000, got %v", price.ValueUSD)
	}
}

func TestMockStateStoreSaveThenLoad(t *testing.T) {
	store := mock.NewStateStore()
	ctx := context.Background()

	strat := types.NewActiveStrategy("strat-1", "user-1", types.StrategyConfig{Name: "x"})
	if err := store.SaveStrategy(ctx, strat); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.LoadStrategy(ctx, "strat-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ID != "strat-1" {
		t.Fatalf("expected strat-1, got %+v", loaded)
	}

	ids, err := store.LoadUserStrategies(ctx, "user-1")
	if err != nil {
		t.Fatalf("load user strategies: %v", err)
	}
	if len(ids) != 1 || ids[0] != "strat-1" {
		t.Fatalf("expected [strat-1], got %v", ids)
	}
}
