// Package performance implements the Performance Tracker (spec.md section
// 4.6): the authoritative append-only per-strategy execution history,
// derived risk/return metrics, attribution by chain/protocol/kind, a daily
// return series, and benchmark comparisons.
package performance

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// riskFreeRatePct is the fixed risk-free rate used by Sharpe/Sortino
// (spec.md section 4.6).
const riskFreeRatePct = 2.0

// secondsPerDay buckets executed_at into daily series entries.
const secondsPerDay = 86400

// Tracker maintains per-strategy attribution and daily-series state beyond
// what ActiveStrategy.PerformanceMetrics carries, and is the sole writer of
// ActiveStrategy.ExecutionHistory and PerformanceMetrics.
type Tracker struct {
	logger *zap.Logger
	store  *statestore.Store

	mu          sync.Mutex
	attribution map[string]*attributionIndex
}

type bucket struct {
	pnlPct decimal.Decimal
	count  int
}

type attributionIndex struct {
	byChain    map[types.ChainId]*bucket
	byProtocol map[types.Protocol]*bucket
	byKind     map[types.OpportunityKind]*bucket
	daily      map[int64]*dailyAccumulator
}

type dailyAccumulator struct {
	pnlUSD    decimal.Decimal
	volumeUSD decimal.Decimal
}

func newAttributionIndex() *attributionIndex {
	return &attributionIndex{
		byChain:    make(map[types.ChainId]*bucket),
		byProtocol: make(map[types.Protocol]*bucket),
		byKind:     make(map[types.OpportunityKind]*bucket),
		daily:      make(map[int64]*dailyAccumulator),
	}
}

// New builds a Tracker.
func New(logger *zap.Logger, store *statestore.Store) *Tracker {
	return &Tracker{logger: logger.Named("performance"), store: store, attribution: make(map[string]*attributionIndex)}
}

// perExecutionROI is the percentage return of a single execution relative
// to the capital it moved: r_i in spec.md section 4.6.
func perExecutionROI(r types.ExecutionResult) decimal.Decimal {
	if r.AmountUSD.IsZero() {
		return decimal.Zero
	}
	return r.ActualReturn.Div(r.AmountUSD).Mul(decimal.NewFromInt(100))
}

// RecordExecution appends result to the strategy's authoritative history,
// updates its PerformanceMetrics in place, and folds the execution into
// this tracker's attribution and daily-series indexes. opp supplies the
// chain/protocol/kind context ExecutionResult itself does not carry.
func (t *Tracker) RecordExecution(ctx context.Context, opp types.Opportunity, result types.ExecutionResult) error {
	err := t.store.Apply(ctx, result.StrategyID, func(s *types.ActiveStrategy) error {
		s.ExecutionHistory.Append(result)
		updateMetricsInPlace(s, result)
		return nil
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.attribution[result.StrategyID]
	if !ok {
		idx = newAttributionIndex()
		t.attribution[result.StrategyID] = idx
	}
	r := perExecutionROI(result)
	chainBucket, ok := idx.byChain[opp.Chain]
	if !ok {
		chainBucket = &bucket{}
		idx.byChain[opp.Chain] = chainBucket
	}
	chainBucket.pnlPct = chainBucket.pnlPct.Add(r)
	chainBucket.count++

	protocolBucket, ok := idx.byProtocol[opp.Protocol]
	if !ok {
		protocolBucket = &bucket{}
		idx.byProtocol[opp.Protocol] = protocolBucket
	}
	protocolBucket.pnlPct = protocolBucket.pnlPct.Add(r)
	protocolBucket.count++

	kindBucket, ok := idx.byKind[opp.Kind]
	if !ok {
		kindBucket = &bucket{}
		idx.byKind[opp.Kind] = kindBucket
	}
	kindBucket.pnlPct = kindBucket.pnlPct.Add(r)
	kindBucket.count++

	day := int64(result.ExecutedAt.Time().Unix()) / secondsPerDay
	acc, ok := idx.daily[day]
	if !ok {
		acc = &dailyAccumulator{}
		idx.daily[day] = acc
	}
	acc.pnlUSD = acc.pnlUSD.Add(result.ActualReturn)
	acc.volumeUSD = acc.volumeUSD.Add(result.AmountUSD)
	return nil
}

// updateMetricsInPlace applies the rolling counters spec.md section 4.6
// lists explicitly, plus the derived Sharpe/drawdown fields already carried
// on PerformanceMetrics, recomputed from the full history on every append.
func updateMetricsInPlace(s *types.ActiveStrategy, result types.ExecutionResult) {
	pm := &s.PerformanceMetrics
	pm.TotalExecutions++
	if result.Success {
		pm.SuccessfulExecutions++
	}
	pm.TotalPnLUSD = pm.TotalPnLUSD.Add(result.ActualReturn)
	pm.TotalGasSpentUSD = pm.TotalGasSpentUSD.Add(result.GasCostUSD)

	if s.AllocatedCapitalUSD.IsPositive() {
		pm.ROIPct = pm.TotalPnLUSD.Div(s.AllocatedCapitalUSD).Mul(decimal.NewFromInt(100))
	}
	if pm.TotalExecutions > 0 {
		pm.WinRatePct = decimal.NewFromInt(pm.SuccessfulExecutions).Div(decimal.NewFromInt(pm.TotalExecutions)).Mul(decimal.NewFromInt(100))
	}
	n := float64(pm.TotalExecutions)
	pm.AvgExecutionSeconds = (pm.AvgExecutionSeconds*(n-1) + result.DurationSeconds) / n

	derived := Derive(s.ExecutionHistory.Ordered())
	pm.SharpeRatio = derived.Sharpe
	pm.MaxDrawdownPct = derived.MaxDrawdownPct
}

// Derived is the spec.md section 4.6 series of return-series statistics.
type Derived struct {
	CumulativeROIPct decimal.Decimal
	MeanPct          decimal.Decimal
	StdDevPct        decimal.Decimal
	Sharpe           decimal.Decimal
	Sortino          decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
	Calmar           decimal.Decimal
}

// Derive computes the full return-series statistics from an ordered
// execution history.
func Derive(history []types.ExecutionResult) Derived {
	n := len(history)
	if n == 0 {
		return Derived{}
	}

	returns := make([]float64, n)
	cumulative := decimal.Zero
	for i, r := range history {
		roi := perExecutionROI(r)
		cumulative = cumulative.Add(roi)
		returns[i] = mustFloat(roi)
	}

	mean := sum(returns) / float64(n)
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n)
	stdDev := math.Sqrt(variance)

	downsideSumSq := 0.0
	for _, r := range returns {
		if r < 0 {
			downsideSumSq += r * r
		}
	}
	downsideDev := math.Sqrt(downsideSumSq / float64(n))

	sharpe := 0.0
	if stdDev > 0 {
		sharpe = (mean - riskFreeRatePct) / stdDev
	}
	sortino := 0.0
	if downsideDev > 0 {
		sortino = (mean - riskFreeRatePct) / downsideDev
	}

	maxDrawdown := maxDrawdownPct(returns)
	calmar := 0.0
	if maxDrawdown > 0 {
		calmar = mean / maxDrawdown
	}

	return Derived{
		CumulativeROIPct: cumulative,
		MeanPct:          decimal.NewFromFloat(mean),
		StdDevPct:        decimal.NewFromFloat(stdDev),
		Sharpe:           decimal.NewFromFloat(sharpe),
		Sortino:          decimal.NewFromFloat(sortino),
		MaxDrawdownPct:   decimal.NewFromFloat(maxDrawdown),
		Calmar:           decimal.NewFromFloat(calmar),
	}
}

// maxDrawdownPct tracks the running peak of the cumulative-return curve and
// returns the largest peak-to-current decline, as a percentage of the peak.
func maxDrawdownPct(returns []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDD := 0.0
	for _, r := range returns {
		cumulative += r
		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			dd := (peak - cumulative) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// AttributionRow is one flat, sorted attribution entry, suitable for a
// CSV-ready export surface (SPEC_FULL.md section D.4).
type AttributionRow struct {
	Dimension string
	Key       string
	PnLPct    decimal.Decimal
	Count     int
}

// Attribution returns the three partitions (by chain, by protocol, by
// kind) for strategyID as flat, sorted rows.
func (t *Tracker) Attribution(strategyID string) []AttributionRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.attribution[strategyID]
	if !ok {
		return nil
	}
	var rows []AttributionRow
	for k, b := range idx.byChain {
		rows = append(rows, AttributionRow{Dimension: "chain", Key: string(k), PnLPct: b.pnlPct, Count: b.count})
	}
	for k, b := range idx.byProtocol {
		rows = append(rows, AttributionRow{Dimension: "protocol", Key: string(k), PnLPct: b.pnlPct, Count: b.count})
	}
	for k, b := range idx.byKind {
		rows = append(rows, AttributionRow{Dimension: "kind", Key: string(k), PnLPct: b.pnlPct, Count: b.count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Dimension != rows[j].Dimension {
			return rows[i].Dimension < rows[j].Dimension
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

// DailyPoint is one entry in a strategy's daily return series.
type DailyPoint struct {
	Day              int64
	PnLPct           decimal.Decimal
	CumulativeReturn decimal.Decimal
}

// DailySeries returns strategyID's daily return series, ordered by day,
// with a running cumulative return.
func (t *Tracker) DailySeries(strategyID string) []DailyPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.attribution[strategyID]
	if !ok {
		return nil
	}
	days := make([]int64, 0, len(idx.daily))
	for d := range idx.daily {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	points := make([]DailyPoint, 0, len(days))
	cumulative := decimal.Zero
	for _, d := range days {
		acc := idx.daily[d]
		pnlPct := decimal.Zero
		if acc.volumeUSD.IsPositive() {
			pnlPct = acc.pnlUSD.Div(acc.volumeUSD).Mul(decimal.NewFromInt(100))
		}
		cumulative = cumulative.Add(pnlPct)
		points = append(points, DailyPoint{Day: d, PnLPct: pnlPct, CumulativeReturn: cumulative})
	}
	return points
}
