package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StrategyKindTag is the closed tagged-variant discriminant for StrategyKind.
type StrategyKindTag string

const (
	StrategyKindYieldFarming    StrategyKindTag = "yield_farming"
	StrategyKindArbitrage       StrategyKindTag = "arbitrage"
	StrategyKindLiquidityMining StrategyKindTag = "liquidity_mining"
	StrategyKindRebalancing     StrategyKindTag = "rebalancing"
	StrategyKindDCA             StrategyKindTag = "dca"
	StrategyKindComposite       StrategyKindTag = "composite"
)

// primitiveStrategyKinds are the kinds a Composite sub-kind may reference.
// Composite itself is excluded: nesting is rejected at validation time.
var primitiveStrategyKinds = map[StrategyKindTag]bool{
	StrategyKindYieldFarming:    true,
	StrategyKindArbitrage:       true,
	StrategyKindLiquidityMining: true,
	StrategyKindRebalancing:     true,
	StrategyKindDCA:             true,
}

// CompositeSubKind is one weighted leg of a Composite strategy kind. SubKind
// must be a primitive kind; Composite-of-Composite is rejected by Validate.
type CompositeSubKind struct {
	Weight  decimal.Decimal `json:"weight"`
	SubKind StrategyKindTag `json:"subKind"`
}

// StrategyKind is the closed tagged variant over the five primitive kinds
// plus Composite, a weighted list of primitive sub-kinds at most one level
// deep. Per-kind thresholds (min APY, min profit pct) live alongside the
// kind they gate, mirroring the execution engine's per-kind pre-checks.
type StrategyKind struct {
	Tag StrategyKindTag `json:"tag"`

	MinAPYThreshold    decimal.Decimal `json:"minApyThreshold,omitempty"`
	MinProfitPct       decimal.Decimal `json:"minProfitPct,omitempty"`
	AmountPerExecution decimal.Decimal `json:"amountPerExecution,omitempty"`
	MaxSlippagePct     decimal.Decimal `json:"maxSlippagePct,omitempty"`
	StableReferenceAsset string        `json:"stableReferenceAsset,omitempty"`

	Composite []CompositeSubKind `json:"composite,omitempty"`
}

// Validate enforces the one-level-deep composite-nesting invariant at
// config-validation time (see SPEC_FULL.md open question E.3): the source
// enforced this only at execution time, which let an invalid config persist
// until it was first run.
func (k StrategyKind) Validate() error {
	if k.Tag == StrategyKindComposite {
		if len(k.Composite) == 0 {
			return fmt.Errorf("strategy kind composite: must have at least one sub-kind")
		}
		sum := decimal.Zero
		for _, sub := range k.Composite {
			if sub.SubKind == StrategyKindComposite {
				return fmt.Errorf("strategy kind composite: nested composite sub-kind is forbidden")
			}
			if !primitiveStrategyKinds[sub.SubKind] {
				return fmt.Errorf("strategy kind composite: unknown sub-kind %q", sub.SubKind)
			}
			sum = sum.Add(sub.Weight)
		}
		if !sum.Equal(decimal.NewFromInt(1)) {
			return fmt.Errorf("strategy kind composite: weights must sum to 1, got %s", sum)
		}
		return nil
	}
	if !primitiveStrategyKinds[k.Tag] {
		return fmt.Errorf("strategy kind: unknown tag %q", k.Tag)
	}
	return nil
}

// StrategyConfig is the user-supplied configuration for a strategy.
type StrategyConfig struct {
	Name                     string          `json:"name"`
	Kind                     StrategyKind    `json:"kind"`
	TargetChains             []ChainId       `json:"targetChains"`
	TargetProtocols          []Protocol      `json:"targetProtocols"`
	RiskLevel                int32           `json:"riskLevel"`
	MaxAllocationUSD         decimal.Decimal `json:"maxAllocationUsd"`
	MinReturnThreshold       decimal.Decimal `json:"minReturnThreshold"`
	ExecutionIntervalMinutes int64           `json:"executionIntervalMinutes"`
	GasLimitUSD              decimal.Decimal `json:"gasLimitUsd"`
	AutoCompound             bool            `json:"autoCompound"`
	StopLossPct              *decimal.Decimal `json:"stopLossPct,omitempty"`
	TakeProfitPct            *decimal.Decimal `json:"takeProfitPct,omitempty"`
}

// mutableConfigFields is the closed set of StrategyConfig fields an
// UpdateConfig operation may change post-activation (spec section 6).
var mutableConfigFields = map[string]bool{
	"max_allocation_usd":         true,
	"gas_limit_usd":              true,
	"stop_loss_pct":              true,
	"take_profit_pct":            true,
	"execution_interval_minutes": true,
}

// MutableConfigFieldAllowed reports whether field is one of the fields an
// UpdateConfig operation is permitted to change on an already-active
// strategy.
func MutableConfigFieldAllowed(field string) bool {
	return mutableConfigFields[field]
}

// Validate checks StrategyConfig invariants: a valid kind, non-negative
// allocation ceiling, non-empty target_chains (target_protocols is not
// checked), and positive interval.
func (c StrategyConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("strategy config: name required")
	}
	if err := c.Kind.Validate(); err != nil {
		return fmt.Errorf("strategy config %q: %w", c.Name, err)
	}
	if len(c.TargetChains) == 0 {
		return fmt.Errorf("strategy config %q: target_chains must not be empty", c.Name)
	}
	for _, ch := range c.TargetChains {
		if !ch.Valid() {
			return fmt.Errorf("strategy config %q: unknown chain %q", c.Name, ch)
		}
	}
	if c.RiskLevel < 1 || c.RiskLevel > 10 {
		return fmt.Errorf("strategy config %q: risk_level must be in [1,10], got %d", c.Name, c.RiskLevel)
	}
	if c.MaxAllocationUSD.IsNegative() {
		return fmt.Errorf("strategy config %q: max_allocation_usd must be >= 0", c.Name)
	}
	if c.ExecutionIntervalMinutes <= 0 {
		return fmt.Errorf("strategy config %q: execution_interval_minutes must be > 0", c.Name)
	}
	return nil
}
