// Package allocation implements the Cross-Chain Allocation Optimizer
// (spec.md section 4.5): given a user's total capital and a list of
// candidate opportunities, it greedily Kelly-sizes an allocation across
// chains, protocols, and pools under the global allocation rules, then
// orders the accepted allocations for execution.
package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// maxKellyFraction and minKellyFraction bound the Kelly fraction computed
// per candidate (spec.md section 4.5, GLOSSARY).
var (
	minKellyFraction = decimal.Zero
	maxKellyFraction = decimal.NewFromFloat(0.1)
)

// Allocation is one accepted capital assignment within a plan.
type Allocation struct {
	OpportunityID string
	Chain         types.ChainId
	Protocol      types.Protocol
	AmountUSD     decimal.Decimal
	BridgeCostUSD decimal.Decimal
	KellyFraction decimal.Decimal
	OverallScore  decimal.Decimal
	ETASeconds    int64
}

// DiversificationMetrics summarizes how spread out a plan's allocations are
// across chains and protocols.
type DiversificationMetrics struct {
	ChainHHI    decimal.Decimal
	ProtocolHHI decimal.Decimal
	ChainCount  int
	ProtocolCount int
}

// Plan is the optimizer's output: accepted allocations, capital accounted
// for, and a cost-adjusted execution ordering (spec.md section 4.5).
type Plan struct {
	Allocations         []Allocation
	TotalAllocatedUSD   decimal.Decimal
	UnallocatedUSD      decimal.Decimal
	TotalBridgeCostsUSD decimal.Decimal
	WeightedAPYPct      decimal.Decimal
	Diversification     DiversificationMetrics
	// RiskMetrics carries only the fields this optimizer can derive from the
	// plan itself (concentration, a correlation proxy); VaR and expected
	// shortfall require full portfolio context and are left to
	// internal/risk.Manager.PortfolioMetrics once the plan is applied.
	RiskMetrics types.RiskMetrics
	Timeline    []TimelineStep
}

// TimelineStep is one entry in the plan's execution-ordered timeline.
type TimelineStep struct {
	OpportunityID string
	ETASeconds    int64
}

// Optimizer builds allocation plans for a fixed rule set.
type Optimizer struct {
	rules types.AllocationRules
}

// New builds an Optimizer.
func New(rules types.AllocationRules) *Optimizer {
	return &Optimizer{rules: rules}
}

// candidateScore ranks candidates the same way the scanner does, so the
// optimizer's "descending overall_score" ordering matches what produced the
// candidate list in the first place.
func candidateScore(o types.Opportunity) decimal.Decimal {
	timeBonus := decimal.Zero
	switch {
	case o.TimeSensitivityMinutes < 30:
		timeBonus = decimal.NewFromInt(10)
	case o.TimeSensitivityMinutes < 60:
		timeBonus = decimal.NewFromInt(5)
	}
	return o.ExpectedReturnPct.Mul(decimal.NewFromFloat(0.4)).
		Add(decimal.NewFromInt(10).Sub(o.RiskScore).Mul(decimal.NewFromFloat(3.0))).
		Add(o.LiquidityScore.Mul(decimal.NewFromFloat(0.2))).
		Add(timeBonus)
}

// confidence derives a Kelly-sizing confidence when the candidate did not
// carry one: higher risk score lowers confidence.
func confidence(o types.Opportunity) decimal.Decimal {
	if o.Confidence.IsPositive() {
		return o.Confidence
	}
	return decimal.NewFromInt(10).Sub(o.RiskScore).Div(decimal.NewFromInt(10))
}

// kellyFraction computes f = (p*r - (1-p))/r, clamped to [0, 0.1].
func kellyFraction(p, r decimal.Decimal) decimal.Decimal {
	if r.IsZero() {
		return decimal.Zero
	}
	f := p.Mul(r).Sub(decimal.NewFromInt(1).Sub(p)).Div(r)
	if f.LessThan(minKellyFraction) {
		return minKellyFraction
	}
	if f.GreaterThan(maxKellyFraction) {
		return maxKellyFraction
	}
	return f
}

// tracker accumulates spend against the rule caps as candidates are accepted.
type tracker struct {
	totalCapital decimal.Decimal
	remaining    decimal.Decimal
	byChain      map[types.ChainId]decimal.Decimal
	byProtocol   map[types.Protocol]decimal.Decimal
}

func newTracker(totalCapital decimal.Decimal) *tracker {
	return &tracker{
		totalCapital: totalCapital,
		remaining:    totalCapital,
		byChain:      make(map[types.ChainId]decimal.Decimal),
		byProtocol:   make(map[types.Protocol]decimal.Decimal),
	}
}

func (t *tracker) chainRemainingCap(chain types.ChainId, rules types.AllocationRules) decimal.Decimal {
	chainCap := t.totalCapital.Mul(rules.MaxChainSharePct).Div(decimal.NewFromInt(100))
	return chainCap.Sub(t.byChain[chain])
}

func (t *tracker) protocolRemainingCap(protocol types.Protocol, rules types.AllocationRules) decimal.Decimal {
	protocolCap := t.totalCapital.Mul(rules.MaxProtocolSharePct).Div(decimal.NewFromInt(100))
	return protocolCap.Sub(t.byProtocol[protocol])
}

func (t *tracker) strategyCap(rules types.AllocationRules) decimal.Decimal {
	return t.totalCapital.Mul(rules.MaxStrategySharePct).Div(decimal.NewFromInt(100))
}

func (t *tracker) record(a Allocation) {
	t.remaining = t.remaining.Sub(a.AmountUSD)
	t.byChain[a.Chain] = t.byChain[a.Chain].Add(a.AmountUSD)
	t.byProtocol[a.Protocol] = t.byProtocol[a.Protocol].Add(a.AmountUSD)
}

// Build runs the greedy Kelly-sized algorithm from spec.md section 4.5 over
// candidates, bounded by totalCapital and the optimizer's rules.
func (o *Optimizer) Build(totalCapital decimal.Decimal, candidates []types.Opportunity) Plan {
	sorted := make([]types.Opportunity, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return candidateScore(sorted[i]).GreaterThan(candidateScore(sorted[j]))
	})

	t := newTracker(totalCapital)
	var allocations []Allocation
	totalBridge := decimal.Zero
	weightedAPYNumerator := decimal.Zero

	for _, cand := range sorted {
		if t.remaining.LessThan(o.rules.StopCapitalUSD) {
			break
		}

		poolCap := decimal.NewFromInt(1 << 30)
		if cand.PoolLiquidityUSD.IsPositive() {
			poolCap = cand.PoolLiquidityUSD.Mul(o.rules.MaxPoolSharePct).Div(decimal.NewFromInt(100))
		}
		maxDeposit := cand.MaxDepositUSD
		if maxDeposit.IsZero() {
			maxDeposit = t.remaining
		}

		upperBound := minOf(
			t.remaining,
			t.chainRemainingCap(cand.Chain, o.rules),
			t.protocolRemainingCap(cand.Protocol, o.rules),
			t.strategyCap(o.rules),
			maxDeposit,
			poolCap,
		)
		if upperBound.IsNegative() || upperBound.IsZero() {
			continue
		}

		p := confidence(cand)
		r := cand.ExpectedReturnPct.Div(decimal.NewFromInt(100))
		f := kellyFraction(p, r)
		if f.IsZero() {
			continue
		}

		tentative := minOf(upperBound, totalCapital.Mul(f))
		if tentative.LessThan(o.rules.MinDepositUSD) {
			continue
		}

		bridgeCost := BridgeCost(cand.Chain, tentative)
		if totalBridge.Add(bridgeCost).GreaterThan(totalCapital.Mul(o.rules.MaxBridgeCostRatio).Div(decimal.NewFromInt(100))) {
			continue
		}

		alloc := Allocation{
			OpportunityID: cand.ID,
			Chain:         cand.Chain,
			Protocol:      cand.Protocol,
			AmountUSD:     tentative,
			BridgeCostUSD: bridgeCost,
			KellyFraction: f,
			OverallScore:  candidateScore(cand),
			ETASeconds:    etaFor(cand.Chain),
		}
		allocations = append(allocations, alloc)
		t.record(alloc)
		totalBridge = totalBridge.Add(bridgeCost)
		weightedAPYNumerator = weightedAPYNumerator.Add(cand.ExpectedReturnPct.Mul(tentative))
	}

	orderedByExecution := make([]Allocation, len(allocations))
	copy(orderedByExecution, allocations)
	sort.Slice(orderedByExecution, func(i, j int) bool {
		return costAdjustedScore(orderedByExecution[i]).GreaterThan(costAdjustedScore(orderedByExecution[j]))
	})

	totalAllocated := decimal.Zero
	for _, a := range allocations {
		totalAllocated = totalAllocated.Add(a.AmountUSD)
	}

	weightedAPY := decimal.Zero
	if totalAllocated.IsPositive() {
		weightedAPY = weightedAPYNumerator.Div(totalAllocated)
	}

	timeline := make([]TimelineStep, len(orderedByExecution))
	for i, a := range orderedByExecution {
		timeline[i] = TimelineStep{OpportunityID: a.OpportunityID, ETASeconds: a.ETASeconds}
	}

	div := diversification(allocations)
	return Plan{
		Allocations:         orderedByExecution,
		TotalAllocatedUSD:   totalAllocated,
		UnallocatedUSD:      totalCapital.Sub(totalAllocated),
		TotalBridgeCostsUSD: totalBridge,
		WeightedAPYPct:      weightedAPY,
		Diversification:     div,
		RiskMetrics:         types.RiskMetrics{Concentration: div.ChainHHI, Correlation: averagePairwiseCorrelation(allocations)},
		Timeline:            timeline,
	}
}

// costAdjustedScore re-sorts accepted allocations by overall_score minus
// bridge_cost/amount (spec.md section 4.5, "execution order").
func costAdjustedScore(a Allocation) decimal.Decimal {
	if a.AmountUSD.IsZero() {
		return a.OverallScore
	}
	return a.OverallScore.Sub(a.BridgeCostUSD.Div(a.AmountUSD))
}

func minOf(values ...decimal.Decimal) decimal.Decimal {
	min := values[0]
	for _, v := range values[1:] {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}

// averagePairwiseCorrelation is the mean ChainCorrelation across every
// distinct pair of chains touched by the plan's allocations, used as this
// port's correlation-risk proxy (SPEC_FULL.md section D.3).
func averagePairwiseCorrelation(allocations []Allocation) decimal.Decimal {
	chains := make([]types.ChainId, 0, len(allocations))
	seen := make(map[types.ChainId]bool)
	for _, a := range allocations {
		if !seen[a.Chain] {
			seen[a.Chain] = true
			chains = append(chains, a.Chain)
		}
	}
	if len(chains) < 2 {
		return decimal.Zero
	}
	sum := decimal.Zero
	pairs := 0
	for i := 0; i < len(chains); i++ {
		for j := i + 1; j < len(chains); j++ {
			sum = sum.Add(Correlation(chains[i], chains[j]))
			pairs++
		}
	}
	return sum.Div(decimal.NewFromInt(int64(pairs)))
}

func diversification(allocations []Allocation) DiversificationMetrics {
	total := decimal.Zero
	byChain := make(map[types.ChainId]decimal.Decimal)
	byProtocol := make(map[types.Protocol]decimal.Decimal)
	for _, a := range allocations {
		total = total.Add(a.AmountUSD)
		byChain[a.Chain] = byChain[a.Chain].Add(a.AmountUSD)
		byProtocol[a.Protocol] = byProtocol[a.Protocol].Add(a.AmountUSD)
	}
	if total.IsZero() {
		return DiversificationMetrics{}
	}
	chainHHI := decimal.Zero
	for _, v := range byChain {
		share := v.Div(total)
		chainHHI = chainHHI.Add(share.Mul(share))
	}
	protocolHHI := decimal.Zero
	for _, v := range byProtocol {
		share := v.Div(total)
		protocolHHI = protocolHHI.Add(share.Mul(share))
	}
	return DiversificationMetrics{
		ChainHHI:      chainHHI,
		ProtocolHHI:   protocolHHI,
		ChainCount:    len(byChain),
		ProtocolCount: len(byProtocol),
	}
}
