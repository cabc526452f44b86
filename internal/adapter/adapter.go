// Package adapter defines the capability interfaces the core consumes from
// chain/protocol plug-ins, price oracles, and persistent storage. The core
// never implements a chain RPC client, a bridge, or a DEX math library —
// those live outside this repository; this package only describes the
// boundary and provides a registry for looking an adapter up by
// (ChainId, Protocol).
package adapter

import (
	"context"

	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// Receipt is the terminal outcome of a submitted transaction.
type Receipt struct {
	Success     bool
	GasUsedUSD  float64
	BlockNumber uint64
}

// YieldOpportunityDTO is the wire shape a ProtocolAdapter returns for a
// candidate yield-farming position, before the scanner assembles it into a
// types.Opportunity envelope.
type YieldOpportunityDTO struct {
	Pool           string
	Tokens         []string
	APYPct         float64
	RiskScore      float64
	LiquidityScore float64
	MaxDepositUSD  float64
}

// ArbitrageOpportunityDTO is the wire shape for a candidate arbitrage leg
// pair.
type ArbitrageOpportunityDTO struct {
	Pair      string
	DexA      string
	DexB      string
	ProfitPct float64
	RiskScore float64
}

// ActionKind names the on-chain action being gas-estimated.
type ActionKind string

const (
	ActionKindApprove            ActionKind = "approve"
	ActionKindAddLiquidity        ActionKind = "add_liquidity"
	ActionKindSwap                ActionKind = "swap"
	ActionKindProvideLiquidity    ActionKind = "provide_liquidity"
	ActionKindBuy                 ActionKind = "buy"
)

// ProtocolAdapter is what every chain/protocol plug-in must provide. The
// core treats every call as asynchronous, fallible, and idempotent on retry
// of the same clientNonce (spec.md section 1).
type ProtocolAdapter interface {
	GetYieldOpportunities(ctx context.Context) ([]YieldOpportunityDTO, error)
	GetArbitrageOpportunities(ctx context.Context) ([]ArbitrageOpportunityDTO, error)
	EstimateGas(ctx context.Context, kind ActionKind, amountUSD float64) (float64, error)
	Submit(ctx context.Context, chain types.ChainId, signedTx []byte, clientNonce string) (txHash string, err error)
	AwaitReceipt(ctx context.Context, chain types.ChainId, txHash string, deadline types.UnixNano) (Receipt, error)
	GetTVL(ctx context.Context, pool string) (float64, error)
	GetAPY(ctx context.Context, pool string) (float64, error)
}

// Price is one price observation for an asset.
type Price struct {
	ValueUSD     float64
	ConfidencePct float64
	Source       string
	Ts           types.UnixNano
}

// AggregatedPrice blends several source prices for the same asset.
type AggregatedPrice struct {
	Mean         float64
	StdDev       float64
	SourcePrices []Price
}

// HistoricalPrice is one point on an asset's price history.
type HistoricalPrice struct {
	Ts    types.UnixNano
	Value float64
}

// Timeframe bounds a PriceFeed.History query.
type Timeframe struct {
	From types.UnixNano
	To   types.UnixNano
}

// PriceFeed is the capability the core consults for asset pricing. The core
// never calls an oracle directly; every price flows through this interface.
type PriceFeed interface {
	Get(ctx context.Context, asset types.AssetKey) (Price, error)
	GetAggregated(ctx context.Context, asset types.AssetKey) (AggregatedPrice, error)
	History(ctx context.Context, asset types.AssetKey, tf Timeframe) ([]HistoricalPrice, error)
}

// StateStore is the persistence capability the core consumes. The core
// carries its own in-memory authoritative state (internal/statestore) and
// uses this interface only to durably mirror it; semantics are
// last-writer-wins, with no transactions across keys.
type StateStore interface {
	LoadStrategy(ctx context.Context, id string) (*types.ActiveStrategy, error)
	SaveStrategy(ctx context.Context, s *types.ActiveStrategy) error
	LoadUserStrategies(ctx context.Context, userID string) ([]string, error)
}

// Key identifies a registered ProtocolAdapter by the (chain, protocol) pair
// it serves.
type Key struct {
	Chain    types.ChainId
	Protocol types.Protocol
}

// Registry holds every ProtocolAdapter the engine knows about, populated at
// startup. New protocols are added by registering an implementation; no
// core code changes (spec.md section 9).
type Registry struct {
	adapters map[Key]ProtocolAdapter
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Key]ProtocolAdapter)}
}

// Register installs adapter as the handler for (chain, protocol), replacing
// any prior registration.
func (r *Registry) Register(chain types.ChainId, protocol types.Protocol, a ProtocolAdapter) {
	r.adapters[Key{Chain: chain, Protocol: protocol}] = a
}

// Lookup returns the adapter registered for (chain, protocol), if any.
func (r *Registry) Lookup(chain types.ChainId, protocol types.Protocol) (ProtocolAdapter, bool) {
	a, ok := r.adapters[Key{Chain: chain, Protocol: protocol}]
	return a, ok
}

// All returns every registered (key, adapter) pair, for fan-out scans.
func (r *Registry) All() map[Key]ProtocolAdapter {
	out := make(map[Key]ProtocolAdapter, len(r.adapters))
	for k, v := range r.adapters {
		out[k] = v
	}
	return out
}
