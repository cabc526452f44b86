package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// cacheHardCap is the scanner's hard cache expiry window (spec section 4.1).
const cacheHardCap = 10 * time.Minute

// OpportunityKind is the closed tagged-variant discriminant for Opportunity.
type OpportunityKind string

const (
	OpportunityYieldFarming    OpportunityKind = "yield_farming"
	OpportunityArbitrage       OpportunityKind = "arbitrage"
	OpportunityLiquidityMining OpportunityKind = "liquidity_mining"
	OpportunityRebalancing     OpportunityKind = "rebalancing"
)

// YieldFarmingDetails is the variant payload for OpportunityYieldFarming.
type YieldFarmingDetails struct {
	APY    decimal.Decimal `json:"apy"`
	Tokens []string        `json:"tokens"`
	Pool   string          `json:"pool"`
}

// ArbitrageDetails is the variant payload for OpportunityArbitrage.
type ArbitrageDetails struct {
	ProfitPct decimal.Decimal `json:"profitPct"`
	Pair      string          `json:"pair"`
	DexPair   [2]string       `json:"dexPair"`
}

// LiquidityMiningDetails is the variant payload for OpportunityLiquidityMining.
type LiquidityMiningDetails struct {
	APR           decimal.Decimal `json:"apr"`
	RewardTokens  []string        `json:"rewardTokens"`
	Pool          string          `json:"pool"`
}

// RebalancingDetails is the variant payload for OpportunityRebalancing.
type RebalancingDetails struct {
	CurrentAllocation map[string]decimal.Decimal `json:"currentAllocation"`
	TargetAllocation  map[string]decimal.Decimal `json:"targetAllocation"`
}

// Opportunity is the closed tagged variant over the four discovery kinds,
// plus the common envelope shared by all of them. Exactly one of the
// Details fields is populated, selected by Kind; callers must switch
// exhaustively on Kind rather than probe the Details fields directly.
type Opportunity struct {
	ID                    string          `json:"id"`
	Kind                  OpportunityKind `json:"kind"`
	Chain                 ChainId         `json:"chain"`
	Protocol              Protocol        `json:"protocol"`
	ExpectedReturnPct     decimal.Decimal `json:"expectedReturnPct"`
	RiskScore             decimal.Decimal `json:"riskScore"`
	EstGasCostUSD         decimal.Decimal `json:"estGasCostUsd"`
	LiquidityScore        decimal.Decimal `json:"liquidityScore"`
	TimeSensitivityMinutes int64          `json:"timeSensitivityMinutes"`
	DiscoveredAt          UnixNano        `json:"discoveredAt"`
	ExpiresAt             UnixNano        `json:"expiresAt"`

	// MaxDepositUSD, Confidence, and PoolLiquidityUSD are consulted only by
	// the Cross-Chain Allocation Optimizer's Kelly sizing (spec.md section
	// 4.5); zero means "unconstrained"/"unknown" and the optimizer falls
	// back to a risk-score-derived estimate.
	MaxDepositUSD    decimal.Decimal `json:"maxDepositUsd"`
	Confidence       decimal.Decimal `json:"confidence"`
	PoolLiquidityUSD decimal.Decimal `json:"poolLiquidityUsd"`

	YieldFarming    *YieldFarmingDetails    `json:"yieldFarming,omitempty"`
	Arbitrage       *ArbitrageDetails       `json:"arbitrage,omitempty"`
	LiquidityMining *LiquidityMiningDetails `json:"liquidityMining,omitempty"`
	Rebalancing     *RebalancingDetails     `json:"rebalancing,omitempty"`
}

// Validate checks the envelope invariants from the data model: expiry must
// be strictly after discovery, expected return cannot be negative, and the
// Details payload selected by Kind must be present and exclusive.
func (o Opportunity) Validate() error {
	if !o.ExpiresAt.After(o.DiscoveredAt) {
		return fmt.Errorf("opportunity %s: expiresAt must be after discoveredAt", o.ID)
	}
	if o.ExpectedReturnPct.IsNegative() {
		return fmt.Errorf("opportunity %s: expectedReturnPct must be >= 0", o.ID)
	}
	switch o.Kind {
	case OpportunityYieldFarming:
		if o.YieldFarming == nil {
			return fmt.Errorf("opportunity %s: kind yield_farming missing details", o.ID)
		}
	case OpportunityArbitrage:
		if o.Arbitrage == nil {
			return fmt.Errorf("opportunity %s: kind arbitrage missing details", o.ID)
		}
	case OpportunityLiquidityMining:
		if o.LiquidityMining == nil {
			return fmt.Errorf("opportunity %s: kind liquidity_mining missing details", o.ID)
		}
	case OpportunityRebalancing:
		if o.Rebalancing == nil {
			return fmt.Errorf("opportunity %s: kind rebalancing missing details", o.ID)
		}
	default:
		return fmt.Errorf("opportunity %s: unknown kind %q", o.ID, o.Kind)
	}
	populated := 0
	for _, present := range []bool{o.YieldFarming != nil, o.Arbitrage != nil, o.LiquidityMining != nil, o.Rebalancing != nil} {
		if present {
			populated++
		}
	}
	if populated > 1 {
		return fmt.Errorf("opportunity %s: more than one details payload set", o.ID)
	}
	return nil
}

// Expired reports whether the opportunity has passed its expiry at asOf.
func (o Opportunity) Expired(asOf UnixNano) bool {
	return asOf.After(o.ExpiresAt)
}

// StaleByCache reports whether the opportunity exceeds the scanner's 10
// minute hard cache cap as of asOf, regardless of its own ExpiresAt.
func (o Opportunity) StaleByCache(asOf UnixNano) bool {
	return asOf.Sub(o.DiscoveredAt) > cacheHardCap
}
