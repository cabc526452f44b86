package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ServerConfig configures the API edge: HTTP routes, WebSocket upgrade, and
// the Prometheus metrics listener.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// DefaultServerConfig returns sane local-dev defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		WebSocketPath:  "/ws",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 500,
		EnableMetrics:  true,
		MetricsPort:    9090,
	}
}

// Filters gates which Opportunity entries survive into the scanner's
// ranked cache. Empty allow-lists mean "all allowed".
type Filters struct {
	MinReturn        decimal.Decimal `json:"minReturn"`
	MaxRiskScore     decimal.Decimal `json:"maxRiskScore"`
	MinLiquidityScore decimal.Decimal `json:"minLiquidityScore"`
	AllowedChains    []ChainId       `json:"allowedChains"`
	AllowedProtocols []Protocol      `json:"allowedProtocols"`
	MaxGasCostUSD    decimal.Decimal `json:"maxGasCostUsd"`
}

// Allows reports whether o passes this filter set.
func (f Filters) Allows(o Opportunity) bool {
	if o.ExpectedReturnPct.LessThan(f.MinReturn) {
		return false
	}
	if o.RiskScore.GreaterThan(f.MaxRiskScore) {
		return false
	}
	if o.LiquidityScore.LessThan(f.MinLiquidityScore) {
		return false
	}
	if o.EstGasCostUSD.GreaterThan(f.MaxGasCostUSD) {
		return false
	}
	if len(f.AllowedChains) > 0 && !containsChain(f.AllowedChains, o.Chain) {
		return false
	}
	if len(f.AllowedProtocols) > 0 && !containsProtocol(f.AllowedProtocols, o.Protocol) {
		return false
	}
	return true
}

func containsChain(list []ChainId, c ChainId) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsProtocol(list []Protocol, p Protocol) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

// ScanIntervals holds the per-kind polling cadence for the Opportunity
// Scanner's sub-scanners.
type ScanIntervals struct {
	YieldFarmingSeconds    int64 `json:"yieldFarmingSeconds" mapstructure:"yield_farming_seconds"`
	ArbitrageSeconds       int64 `json:"arbitrageSeconds" mapstructure:"arbitrage_seconds"`
	LiquidityMiningSeconds int64 `json:"liquidityMiningSeconds" mapstructure:"liquidity_mining_seconds"`
	RebalancingSeconds     int64 `json:"rebalancingSeconds" mapstructure:"rebalancing_seconds"`
}

// DefaultScanIntervals returns the spec-mandated default cadence.
func DefaultScanIntervals() ScanIntervals {
	return ScanIntervals{
		YieldFarmingSeconds:    300,
		ArbitrageSeconds:       30,
		LiquidityMiningSeconds: 600,
		RebalancingSeconds:     3600,
	}
}

// GlobalRiskLimits are process-wide ceilings enforced by the SafetyController
// and Risk Manager, independent of any single user or strategy.
type GlobalRiskLimits struct {
	MaxSingleExecutionUSD decimal.Decimal `json:"maxSingleExecutionUsd"`
	MaxDailyVolumeUSD     decimal.Decimal `json:"maxDailyVolumeUsd"`
	MaxMarketVolatility   decimal.Decimal `json:"maxMarketVolatility"`
	MinLiquidityScore     decimal.Decimal `json:"minLiquidityScore"`
}

// DefaultGlobalRiskLimits returns the spec-mandated defaults.
func DefaultGlobalRiskLimits() GlobalRiskLimits {
	return GlobalRiskLimits{
		MaxSingleExecutionUSD: decimal.NewFromInt(100_000),
		MaxDailyVolumeUSD:     decimal.NewFromInt(500_000),
		MaxMarketVolatility:   decimal.NewFromInt(7),
		MinLiquidityScore:     decimal.NewFromInt(6),
	}
}

// CoordinationRules parameterizes the Coordination Engine's conflict
// detection and resolution thresholds.
type CoordinationRules struct {
	ResourceContentionWindowSeconds int64           `json:"resourceContentionWindowSeconds"`
	ResourceContentionDelaySeconds  int64           `json:"resourceContentionDelaySeconds"`
	ExecutionTimingWindowSeconds    int64           `json:"executionTimingWindowSeconds"`
	ExecutionTimingSpreadSeconds    int64           `json:"executionTimingSpreadSeconds"`
	AllocationImbalanceHighPct      decimal.Decimal `json:"allocationImbalanceHighPct"`
	AllocationImbalanceLowPct       decimal.Decimal `json:"allocationImbalanceLowPct"`
	AllocationImbalanceShrinkFactor decimal.Decimal `json:"allocationImbalanceShrinkFactor"`
}

// DefaultCoordinationRules returns the spec-mandated defaults.
func DefaultCoordinationRules() CoordinationRules {
	return CoordinationRules{
		ResourceContentionWindowSeconds: 60,
		ResourceContentionDelaySeconds:  300,
		ExecutionTimingWindowSeconds:    120,
		ExecutionTimingSpreadSeconds:    180,
		AllocationImbalanceHighPct:      decimal.NewFromInt(40),
		AllocationImbalanceLowPct:       decimal.NewFromInt(5),
		AllocationImbalanceShrinkFactor: decimal.NewFromFloat(0.8),
	}
}

// UserRiskLimits are per-user ceilings enforced across all of a user's
// strategies.
type UserRiskLimits struct {
	MaxTotalAllocation       decimal.Decimal `json:"maxTotalAllocation"`
	MaxSingleStrategyShare   decimal.Decimal `json:"maxSingleStrategyShare"`
}

// DefaultUserRiskLimits returns the spec-mandated defaults.
func DefaultUserRiskLimits() UserRiskLimits {
	return UserRiskLimits{
		MaxTotalAllocation:     decimal.NewFromInt(1_000_000),
		MaxSingleStrategyShare: decimal.NewFromInt(25),
	}
}

// StrategyRiskLimits are per-strategy risk gate thresholds consulted by the
// Risk Manager's pre-execution check.
type StrategyRiskLimits struct {
	MaxRiskScore       decimal.Decimal `json:"maxRiskScore"`
	MaxConcentrationPct decimal.Decimal `json:"maxConcentrationPct"`
	MinLiquidityScore  decimal.Decimal `json:"minLiquidityScore"`
}

// DefaultStrategyRiskLimits returns the spec-mandated defaults.
func DefaultStrategyRiskLimits() StrategyRiskLimits {
	return StrategyRiskLimits{
		MaxRiskScore:        decimal.NewFromInt(10),
		MaxConcentrationPct: decimal.NewFromInt(25),
		MinLiquidityScore:   decimal.NewFromInt(6),
	}
}

// AllocationRules bounds the Cross-Chain Allocation Optimizer's greedy
// allocator: no single chain, protocol, strategy, or pool may absorb more
// than its configured share, and bridging costs cannot eat more than their
// configured fraction of total capital.
type AllocationRules struct {
	MaxChainSharePct    decimal.Decimal `json:"maxChainSharePct"`
	MaxProtocolSharePct decimal.Decimal `json:"maxProtocolSharePct"`
	MaxStrategySharePct decimal.Decimal `json:"maxStrategySharePct"`
	MaxPoolSharePct     decimal.Decimal `json:"maxPoolSharePct"`
	MaxBridgeCostRatio  decimal.Decimal `json:"maxBridgeCostRatio"`
	MinDepositUSD       decimal.Decimal `json:"minDepositUsd"`
	StopCapitalUSD      decimal.Decimal `json:"stopCapitalUsd"`
}

// DefaultAllocationRules returns the spec-mandated defaults.
func DefaultAllocationRules() AllocationRules {
	return AllocationRules{
		MaxChainSharePct:    decimal.NewFromInt(40),
		MaxProtocolSharePct: decimal.NewFromInt(30),
		MaxStrategySharePct: decimal.NewFromInt(20),
		MaxPoolSharePct:     decimal.NewFromInt(10),
		MaxBridgeCostRatio:  decimal.NewFromInt(3),
		MinDepositUSD:       decimal.NewFromInt(50),
		StopCapitalUSD:      decimal.NewFromInt(100),
	}
}
