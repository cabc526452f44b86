package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/pkg/strategyerr"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// defaultStableReference names the default stable reference asset. No plan
// builder reads it: Rebalancing plan steps carry only a chain and an amount.
const defaultStableReference = "USDC"

// buildPlan translates (strategy, opportunity) into an ordered transaction
// plan and the opportunity's expected return, per the per-kind formulas in
// spec.md section 4.2. Nested composites are rejected defense-in-depth,
// even though config validation should already have refused them
// (SPEC_FULL.md section E.3).
func (e *Engine) buildPlan(strat *types.ActiveStrategy, opp types.Opportunity) ([]step, decimal.Decimal, error) {
	return e.buildPlanFor(strat.Config.Kind, strat.AllocatedCapitalUSD, opp, 0)
}

func (e *Engine) buildPlanFor(kind types.StrategyKind, capital decimal.Decimal, opp types.Opportunity, depth int) ([]step, decimal.Decimal, error) {
	switch kind.Tag {
	case types.StrategyKindYieldFarming:
		return planYieldFarming(capital, opp)
	case types.StrategyKindArbitrage:
		return planArbitrage(capital, opp, kind)
	case types.StrategyKindRebalancing:
		return planRebalancing(capital, opp, kind)
	case types.StrategyKindLiquidityMining:
		return planLiquidityMining(capital, opp)
	case types.StrategyKindDCA:
		return planDCA(capital, kind)
	case types.StrategyKindComposite:
		if depth > 0 {
			return nil, decimal.Zero, strategyerr.New(strategyerr.KindInvariant, "nested composite strategy kind rejected at execution time")
		}
		return e.planComposite(kind, capital, opp)
	default:
		return nil, decimal.Zero, strategyerr.New(strategyerr.KindInvariant, fmt.Sprintf("unknown strategy kind %q", kind.Tag))
	}
}

// planYieldFarming: for each pool token, approve(spender=pool, amount) then
// add_liquidity. Daily return = amount * apy/365/100.
func planYieldFarming(capital decimal.Decimal, opp types.Opportunity) ([]step, decimal.Decimal, error) {
	if opp.YieldFarming == nil {
		return nil, decimal.Zero, strategyerr.New(strategyerr.KindInvariant, "yield farming opportunity missing details")
	}
	var plan []step
	for range opp.YieldFarming.Tokens {
		plan = append(plan, step{action: adapter.ActionKindApprove, chain: opp.Chain, amountUSD: capital})
	}
	plan = append(plan, step{action: adapter.ActionKindAddLiquidity, chain: opp.Chain, amountUSD: capital})
	dailyReturn := capital.Mul(opp.YieldFarming.APY).Div(decimal.NewFromInt(365 * 100))
	return plan, dailyReturn, nil
}

// planArbitrage: swap(dex_a, quote->base) then swap(dex_b, base->quote).
// Actual return = amount * profit_pct/100.
func planArbitrage(capital decimal.Decimal, opp types.Opportunity, kind types.StrategyKind) ([]step, decimal.Decimal, error) {
	if opp.Arbitrage == nil {
		return nil, decimal.Zero, strategyerr.New(strategyerr.KindInvariant, "arbitrage opportunity missing details")
	}
	plan := []step{
		{action: adapter.ActionKindSwap, chain: opp.Chain, amountUSD: capital},
		{action: adapter.ActionKindSwap, chain: opp.Chain, amountUSD: capital},
	}
	ret := capital.Mul(opp.Arbitrage.ProfitPct).Div(decimal.NewFromInt(100))
	return plan, ret, nil
}

// planRebalancing: for each (asset, target_pct) with |target-current|>1%,
// emit one swap of |delta|*total_value against the stable reference asset.
// Rebalancing emits no expected return.
func planRebalancing(capital decimal.Decimal, opp types.Opportunity, kind types.StrategyKind) ([]step, decimal.Decimal, error) {
	if opp.Rebalancing == nil {
		return nil, decimal.Zero, strategyerr.New(strategyerr.KindInvariant, "rebalancing opportunity missing details")
	}
	onePct := decimal.NewFromFloat(0.01)
	var plan []step
	for asset, target := range opp.Rebalancing.TargetAllocation {
		current := opp.Rebalancing.CurrentAllocation[asset]
		delta := target.Sub(current).Abs()
		if delta.GreaterThan(onePct) {
			amount := delta.Mul(capital)
			plan = append(plan, step{action: adapter.ActionKindSwap, chain: opp.Chain, amountUSD: amount})
		}
	}
	return plan, decimal.Zero, nil
}

// planLiquidityMining: split capital 50/50 across the pool pair, then
// provide_liquidity. Expected monthly return = amount * apr/100/12.
func planLiquidityMining(capital decimal.Decimal, opp types.Opportunity) ([]step, decimal.Decimal, error) {
	if opp.LiquidityMining == nil {
		return nil, decimal.Zero, strategyerr.New(strategyerr.KindInvariant, "liquidity mining opportunity missing details")
	}
	half := capital.Div(decimal.NewFromInt(2))
	plan := []step{
		{action: adapter.ActionKindProvideLiquidity, chain: opp.Chain, amountUSD: half},
		{action: adapter.ActionKindProvideLiquidity, chain: opp.Chain, amountUSD: half},
	}
	monthlyReturn := capital.Mul(opp.LiquidityMining.APR).Div(decimal.NewFromInt(1200))
	return plan, monthlyReturn, nil
}

// planDCA: single buy(target_token, min(amount_per_execution, allocated_capital)).
// Expected return = 0.
func planDCA(capital decimal.Decimal, kind types.StrategyKind) ([]step, decimal.Decimal, error) {
	amount := kind.AmountPerExecution
	if amount.IsZero() || amount.GreaterThan(capital) {
		amount = capital
	}
	plan := []step{{action: adapter.ActionKindBuy, amountUSD: amount}}
	return plan, decimal.Zero, nil
}

// planComposite recursively builds a plan for each weighted sub-strategy,
// with sub_capital = weight*allocated_capital, then concatenates the steps
// and sums the weighted expected return.
func (e *Engine) planComposite(kind types.StrategyKind, capital decimal.Decimal, opp types.Opportunity) ([]step, decimal.Decimal, error) {
	var plan []step
	totalReturn := decimal.Zero
	for _, sub := range kind.Composite {
		subCapital := sub.Weight.Mul(capital)
		subKind := types.StrategyKind{Tag: sub.SubKind, MinAPYThreshold: kind.MinAPYThreshold, MinProfitPct: kind.MinProfitPct, AmountPerExecution: kind.AmountPerExecution}
		subPlan, subReturn, err := e.buildPlanFor(subKind, subCapital, opp, 1)
		if err != nil {
			return nil, decimal.Zero, err
		}
		plan = append(plan, subPlan...)
		totalReturn = totalReturn.Add(subReturn)
	}
	return plan, totalReturn, nil
}
