// Package execution implements the Execution Engine (spec.md section 4.2):
// it carries out one opportunity for one strategy to a terminal state,
// emitting a single types.ExecutionResult, and the SafetyController that
// gates it on capital and volume ceilings.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/pkg/strategyerr"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// maxStepRetries is the transient-error retry ceiling (spec.md section 4.2).
const maxStepRetries = 3

// stepHardTimeout is the per-step hard deadline; the full-plan soft
// deadline is computed from the opportunity's time sensitivity.
const stepHardTimeout = 60 * time.Second

// Engine drives opportunities to a terminal ExecutionResult.
type Engine struct {
	logger   *zap.Logger
	registry *adapter.Registry
	bus      *events.EventBus
	safety   *SafetyController
}

// New builds an Engine.
func New(logger *zap.Logger, registry *adapter.Registry, bus *events.EventBus, safety *SafetyController) *Engine {
	return &Engine{logger: logger.Named("execution"), registry: registry, bus: bus, safety: safety}
}

// step is one idempotent leg of a transaction plan.
type step struct {
	action      adapter.ActionKind
	chain       types.ChainId
	amountUSD   decimal.Decimal
	clientNonce string
}

// Execute carries out one opportunity for one strategy, validating
// pre-conditions in the order spec.md section 4.2 mandates, then driving
// the per-kind transaction plan to a terminal ExecutionResult.
func (e *Engine) Execute(ctx context.Context, strat *types.ActiveStrategy, opp types.Opportunity) (types.ExecutionResult, error) {
	now := types.Now()
	e.bus.Publish(events.NewExecutionStartedEvent(strat.ID, opp.ID))

	if err := e.preConditions(now, strat, opp); err != nil {
		return types.ExecutionResult{}, err
	}

	plan, expectedReturn, err := e.buildPlan(strat, opp)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	estGas, err := e.estimateTotalGas(ctx, opp.Protocol, plan)
	if err != nil {
		return types.ExecutionResult{}, strategyerr.Wrap(strategyerr.KindAdapterTransient, "gas estimation failed", err)
	}
	if estGas.GreaterThan(strat.Config.GasLimitUSD) {
		return types.ExecutionResult{}, strategyerr.New(strategyerr.KindGasExceeded, fmt.Sprintf("estimated gas %s exceeds limit %s", estGas, strat.Config.GasLimitUSD))
	}

	for _, chain := range touchedChains(strat, opp) {
		if _, ok := strat.WalletAddresses[chain]; !ok {
			return types.ExecutionResult{}, strategyerr.New(strategyerr.KindMissingWallet, fmt.Sprintf("no wallet address on file for chain %s", chain))
		}
	}

	if err := e.safety.CheckPreExecution(ctx, strat.UserID, strat.AllocatedCapitalUSD); err != nil {
		return types.ExecutionResult{}, err
	}

	deadline := now.Add(planDeadline(opp))
	start := time.Now()
	result, execErr := e.runPlan(ctx, strat, opp, plan, expectedReturn, deadline)
	result.DurationSeconds = time.Since(start).Seconds()

	e.safety.RecordExecution(strat.UserID, strat.AllocatedCapitalUSD)
	e.bus.Publish(events.NewExecutionCompletedEvent(result))
	return result, execErr
}

// preConditions validates, in spec-mandated order, the checks that can run
// before a plan exists: opportunity expiry, strategy/opportunity kind match,
// and the return/profit threshold. The gas-ceiling check (needs a built
// plan) and the wallet-presence check run later in Execute, in that order,
// to preserve the spec's check-4-before-check-5 ordering.
func (e *Engine) preConditions(now types.UnixNano, strat *types.ActiveStrategy, opp types.Opportunity) error {
	if opp.Expired(now) {
		return strategyerr.New(strategyerr.KindOpportunityExpired, fmt.Sprintf("opportunity %s expired at %d, now %d", opp.ID, opp.ExpiresAt, now))
	}
	if !kindMatches(strat.Config.Kind.Tag, opp.Kind) {
		return strategyerr.New(strategyerr.KindKindMismatch, fmt.Sprintf("strategy kind %s does not accept opportunity kind %s", strat.Config.Kind.Tag, opp.Kind))
	}
	if err := e.checkThreshold(strat.Config.Kind, opp); err != nil {
		return err
	}
	return nil
}

func kindMatches(stratKind types.StrategyKindTag, oppKind types.OpportunityKind) bool {
	if stratKind == types.StrategyKindComposite {
		return true // composites dispatch per sub-kind when building the plan
	}
	return string(stratKind) == string(oppKind) || (stratKind == types.StrategyKindDCA)
}

func (e *Engine) checkThreshold(kind types.StrategyKind, opp types.Opportunity) error {
	switch opp.Kind {
	case types.OpportunityYieldFarming:
		if opp.YieldFarming.APY.LessThan(kind.MinAPYThreshold) {
			return strategyerr.New(strategyerr.KindBelowThreshold, fmt.Sprintf("apy %s below min_apy_threshold %s", opp.YieldFarming.APY, kind.MinAPYThreshold))
		}
	case types.OpportunityArbitrage:
		if opp.Arbitrage.ProfitPct.LessThan(kind.MinProfitPct) {
			return strategyerr.New(strategyerr.KindBelowThreshold, fmt.Sprintf("profit_pct %s below min_profit_pct %s", opp.Arbitrage.ProfitPct, kind.MinProfitPct))
		}
	}
	return nil
}

func touchedChains(strat *types.ActiveStrategy, opp types.Opportunity) []types.ChainId {
	return []types.ChainId{opp.Chain}
}

// planDeadline is min(time_sensitivity_minutes*60s, 600s) (spec.md section 4.2).
func planDeadline(opp types.Opportunity) time.Duration {
	d := time.Duration(opp.TimeSensitivityMinutes) * time.Minute
	if d > 10*time.Minute {
		return 10 * time.Minute
	}
	return d
}

func newClientNonce(executionID string, stepIdx int) string {
	return fmt.Sprintf("%s-%d", executionID, stepIdx)
}

// runStep executes one plan step with retry on transient errors, up to
// maxStepRetries, reusing the same client nonce across attempts so adapters
// can de-duplicate. An error typed as a non-transient StrategyError is
// returned at once without retry; untyped adapter errors are retried.
func (e *Engine) runStep(ctx context.Context, a adapter.ProtocolAdapter, s step) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxStepRetries; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, stepHardTimeout)
		txHash, err := a.Submit(stepCtx, s.chain, nil, s.clientNonce)
		cancel()
		if err == nil {
			return txHash, nil
		}
		lastErr = err
		if se, ok := err.(*strategyerr.StrategyError); ok && !strategyerr.RetryableTransient(se.Kind) {
			return "", err
		}
		e.logger.Warn("transaction step failed, retrying", zap.String("chain", string(s.chain)), zap.Int("attempt", attempt), zap.Error(err))
	}
	return "", strategyerr.Wrap(strategyerr.KindAdapterTransient, "step failed after retries", lastErr)
}

// runPlan submits every step of plan in order and assembles the terminal
// ExecutionResult. A deadline exceeded mid-plan cancels remaining in-flight
// adapter calls but does not abort already-submitted on-chain transactions
// (spec.md section 5).
func (e *Engine) runPlan(ctx context.Context, strat *types.ActiveStrategy, opp types.Opportunity, plan []step, expectedReturn decimal.Decimal, deadline types.UnixNano) (types.ExecutionResult, error) {
	executionID := uuid.NewString()
	planCtx, cancel := context.WithDeadline(ctx, deadline.Time())
	defer cancel()

	var txHashes []string
	var gasTotal decimal.Decimal
	amount := decimal.Zero
	if len(plan) > 0 {
		amount = plan[len(plan)-1].amountUSD
	}

	for i, s := range plan {
		s.clientNonce = newClientNonce(executionID, i)
		a, ok := e.registry.Lookup(s.chain, opp.Protocol)
		if !ok {
			return e.failedResult(executionID, strat, opp, amount, expectedReturn, gasTotal, "no adapter registered for chain/protocol"), strategyerr.New(strategyerr.KindAdapterPermanent, "no adapter registered")
		}
		gasUSD, err := a.EstimateGas(planCtx, s.action, toFloat(s.amountUSD))
		if err == nil {
			gasTotal = gasTotal.Add(decimal.NewFromFloat(gasUSD))
		}

		txHash, err := e.runStep(planCtx, a, s)
		if err != nil {
			if planCtx.Err() != nil {
				return e.failedResult(executionID, strat, opp, amount, expectedReturn, gasTotal, "deadline exceeded"), strategyerr.New(strategyerr.KindCancelled, "plan deadline exceeded")
			}
			return e.failedResult(executionID, strat, opp, amount, expectedReturn, gasTotal, err.Error()), err
		}
		txHashes = append(txHashes, txHash)
	}

	result := types.ExecutionResult{
		ExecutionID:    executionID,
		StrategyID:     strat.ID,
		OpportunityID:  opp.ID,
		ActionType:     planActionType(plan),
		AmountUSD:      amount,
		ExpectedReturn: expectedReturn,
		ActualReturn:   expectedReturn,
		GasCostUSD:     gasTotal,
		Success:        true,
		TxHashes:       txHashes,
		ExecutedAt:     types.Now(),
	}
	return result, nil
}

func (e *Engine) failedResult(executionID string, strat *types.ActiveStrategy, opp types.Opportunity, amount, expectedReturn, gasTotal decimal.Decimal, reason string) types.ExecutionResult {
	return types.ExecutionResult{
		ExecutionID:    executionID,
		StrategyID:     strat.ID,
		OpportunityID:  opp.ID,
		AmountUSD:      amount,
		ExpectedReturn: expectedReturn,
		ActualReturn:   decimal.Zero,
		GasCostUSD:     gasTotal,
		Success:        false,
		Error:          &reason,
		ExecutedAt:     types.Now(),
	}
}

func planActionType(plan []step) types.ActionType {
	if len(plan) == 0 {
		return ""
	}
	return types.ActionType(plan[len(plan)-1].action)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// estimateTotalGas sums per-step gas estimates using the deterministic
// formula: base estimate * size factor * current chain gas price. The base
// estimate and chain price come from the adapter's EstimateGas; the size
// factor max(1, amount_usd/10_000) is applied here.
func (e *Engine) estimateTotalGas(ctx context.Context, protocol types.Protocol, plan []step) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, s := range plan {
		a, ok := e.registry.Lookup(s.chain, protocol)
		if !ok {
			continue
		}
		gasUSD, err := a.EstimateGas(ctx, s.action, toFloat(s.amountUSD))
		if err != nil {
			return decimal.Zero, err
		}
		sizeFactor := decimal.NewFromInt(1)
		if s.amountUSD.GreaterThan(decimal.NewFromInt(10_000)) {
			sizeFactor = s.amountUSD.Div(decimal.NewFromInt(10_000))
		}
		total = total.Add(decimal.NewFromFloat(gasUSD).Mul(sizeFactor))
	}
	return total, nil
}
