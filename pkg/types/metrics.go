package types

import "github.com/shopspring/decimal"

// PerformanceMetrics is the rolling per-strategy performance summary
// maintained by the Performance Tracker and updated in-place on every
// ExecutionResult append.
type PerformanceMetrics struct {
	TotalExecutions      int64           `json:"totalExecutions"`
	SuccessfulExecutions int64           `json:"successfulExecutions"`
	TotalPnLUSD          decimal.Decimal `json:"totalPnlUsd"`
	ROIPct               decimal.Decimal `json:"roiPct"`
	SharpeRatio          decimal.Decimal `json:"sharpeRatio"`
	MaxDrawdownPct       decimal.Decimal `json:"maxDrawdownPct"`
	WinRatePct           decimal.Decimal `json:"winRatePct"`
	AvgExecutionSeconds  float64         `json:"avgExecutionSeconds"`
	TotalGasSpentUSD     decimal.Decimal `json:"totalGasSpentUsd"`
}

// RiskMetrics is the portfolio/strategy-level risk profile maintained by the
// Risk Manager.
type RiskMetrics struct {
	OverallScore   decimal.Decimal `json:"overallScore"`
	Concentration  decimal.Decimal `json:"concentration"`
	Volatility     decimal.Decimal `json:"volatility"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	Credit         decimal.Decimal `json:"credit"`
	SmartContract  decimal.Decimal `json:"smartContract"`
	Bridge         decimal.Decimal `json:"bridge"`
	Correlation    decimal.Decimal `json:"correlation"`
	VaR1d          decimal.Decimal `json:"var1d"`
	VaR7d          decimal.Decimal `json:"var7d"`
	VaR30d         decimal.Decimal `json:"var30d"`
	ExpectedShortfall decimal.Decimal `json:"expectedShortfall"`
	Beta           decimal.Decimal `json:"beta"`
	Sharpe         decimal.Decimal `json:"sharpe"`
	Sortino        decimal.Decimal `json:"sortino"`
}
