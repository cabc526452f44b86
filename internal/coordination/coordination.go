// Package coordination implements the Coordination Engine (spec.md section
// 4.3): for every user running two or more strategies, it detects and
// resolves inter-strategy conflicts, then layers on portfolio-level
// optimization suggestions, each applied as a diff through the state
// store's single mutation channel.
package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/internal/workers"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// historyCap bounds the coordination action ring buffer (spec.md section 4.3).
const historyCap = 1000

// ConflictKind is the closed set of inter-strategy conflicts this engine
// detects.
type ConflictKind string

const (
	ConflictResourceContention  ConflictKind = "resource_contention"
	ConflictExecutionTiming     ConflictKind = "execution_timing"
	ConflictAllocationImbalance ConflictKind = "allocation_imbalance"
)

// Action records one resolution or optimization suggestion applied during a
// pass, kept in the engine's ring buffer for statistics.
type Action struct {
	ID         string
	UserID     string
	Kind       ConflictKind
	StrategyID string
	Detail     string
	AppliedAt  types.UnixNano
}

// Engine runs one detect-resolve-optimize pass at a time across every
// user's strategy group.
type Engine struct {
	logger *zap.Logger
	store  *statestore.Store
	bus    *events.EventBus
	pool   *workers.Pool
	rules  types.CoordinationRules

	mu      sync.Mutex
	history []Action
}

// New builds an Engine.
func New(logger *zap.Logger, store *statestore.Store, bus *events.EventBus, rules types.CoordinationRules) *Engine {
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("coordination"))
	return &Engine{logger: logger.Named("coordination"), store: store, bus: bus, pool: pool, rules: rules}
}

// Start begins the engine's worker pool.
func (e *Engine) Start() { e.pool.Start() }

// Stop drains the engine's worker pool.
func (e *Engine) Stop() error { return e.pool.Stop() }

// RunPass groups active strategies by user and processes every group of
// size >= 2 concurrently through the worker pool (spec.md section 4.3,
// "high-level loop").
func (e *Engine) RunPass(ctx context.Context) error {
	all := e.store.ListAll(ctx)
	byUser := make(map[string][]types.ActiveStrategy)
	for _, s := range all {
		if s.Status != types.StrategyStatusActive {
			continue
		}
		byUser[s.UserID] = append(byUser[s.UserID], s)
	}

	var wg sync.WaitGroup
	for userID, group := range byUser {
		if len(group) < 2 {
			continue
		}
		userID, group := userID, group
		wg.Add(1)
		if err := e.pool.SubmitFunc(func() error {
			defer wg.Done()
			e.processGroup(ctx, userID, group)
			return nil
		}); err != nil {
			wg.Done()
			e.logger.Warn("coordination pass dropped a user group, pool saturated", zap.String("user_id", userID), zap.Error(err))
		}
	}
	wg.Wait()
	return nil
}

// processGroup carries out one user's detect -> resolve -> optimize pass.
func (e *Engine) processGroup(ctx context.Context, userID string, group []types.ActiveStrategy) {
	for _, conflict := range detectConflicts(group, e.rules) {
		e.resolve(ctx, conflict)
	}
	for _, suggestion := range portfolioOptimizations(group) {
		e.recordSuggestion(userID, suggestion)
	}
}

// conflict is an internal detection result, paired down to what resolve
// needs to act on it.
type conflict struct {
	kind        ConflictKind
	userID      string
	strategyID  string
	detail      string
}

// detectConflicts finds every ResourceContention, ExecutionTiming, and
// AllocationImbalance conflict within one user's strategy group, using the
// exact thresholds from spec.md section 4.3. ResourceContention always
// targets the first strategy of a pair and ExecutionTiming the second, so a
// pair within both windows never gets the same strategy double-delayed.
func detectConflicts(group []types.ActiveStrategy, rules types.CoordinationRules) []conflict {
	var conflicts []conflict
	userID := ""
	if len(group) > 0 {
		userID = group[0].UserID
	}

	for i := 0; i < len(group); i++ {
		for j := i + 1; j < len(group); j++ {
			a, b := group[i], group[j]
			if a.NextExecutionTS == nil || b.NextExecutionTS == nil {
				continue
			}
			deltaSeconds := a.NextExecutionTS.Sub(*b.NextExecutionTS).Seconds()
			if deltaSeconds < 0 {
				deltaSeconds = -deltaSeconds
			}

			if sameChainProtocol(a, b) && deltaSeconds <= float64(rules.ResourceContentionWindowSeconds) {
				conflicts = append(conflicts, conflict{
					kind: ConflictResourceContention, userID: userID, strategyID: a.ID,
					detail: fmt.Sprintf("contends with %s for the same chain/protocol within %ds", b.ID, rules.ResourceContentionWindowSeconds),
				})
			}
			if sameChain(a, b) && deltaSeconds <= float64(rules.ExecutionTimingWindowSeconds) {
				conflicts = append(conflicts, conflict{
					kind: ConflictExecutionTiming, userID: userID, strategyID: b.ID,
					detail: fmt.Sprintf("scheduled within %ds of %s on the same chain", rules.ExecutionTimingWindowSeconds, a.ID),
				})
			}
		}
	}

	totalAllocation := decimal.Zero
	for _, s := range group {
		totalAllocation = totalAllocation.Add(s.AllocatedCapitalUSD)
	}
	if totalAllocation.IsPositive() {
		for _, s := range group {
			share := s.AllocatedCapitalUSD.Div(totalAllocation).Mul(decimal.NewFromInt(100))
			if share.GreaterThan(rules.AllocationImbalanceHighPct) && hasUnderweightPeer(s, group, totalAllocation, rules.AllocationImbalanceLowPct) {
				conflicts = append(conflicts, conflict{
					kind: ConflictAllocationImbalance, userID: userID, strategyID: s.ID,
					detail: fmt.Sprintf("holds %s%% of user allocation while a peer holds under %s%%", share, rules.AllocationImbalanceLowPct),
				})
			}
		}
	}
	return conflicts
}

func sameChainProtocol(a, b types.ActiveStrategy) bool {
	return sameSet(a.Config.TargetChains, b.Config.TargetChains) && sameProtocolOverlap(a, b)
}

func sameChain(a, b types.ActiveStrategy) bool {
	for _, ca := range a.Config.TargetChains {
		for _, cb := range b.Config.TargetChains {
			if ca == cb {
				return true
			}
		}
	}
	return false
}

func sameProtocolOverlap(a, b types.ActiveStrategy) bool {
	for _, pa := range a.Config.TargetProtocols {
		for _, pb := range b.Config.TargetProtocols {
			if pa == pb {
				return true
			}
		}
	}
	return false
}

func sameSet(a, b []types.ChainId) bool {
	for _, ca := range a {
		for _, cb := range b {
			if ca == cb {
				return true
			}
		}
	}
	return false
}

func hasUnderweightPeer(s types.ActiveStrategy, group []types.ActiveStrategy, total, lowPct decimal.Decimal) bool {
	for _, peer := range group {
		if peer.ID == s.ID {
			continue
		}
		share := peer.AllocatedCapitalUSD.Div(total).Mul(decimal.NewFromInt(100))
		if share.LessThan(lowPct) {
			return true
		}
	}
	return false
}

// resolve applies the spec-mandated fix for one detected conflict through
// the state store's single mutation channel, then records and publishes it.
func (e *Engine) resolve(ctx context.Context, c conflict) {
	var detail string
	var err error

	switch c.kind {
	case ConflictResourceContention:
		detail = fmt.Sprintf("delayed next execution by %ds: %s", e.rules.ResourceContentionDelaySeconds, c.detail)
		err = e.store.Apply(ctx, c.strategyID, func(s *types.ActiveStrategy) error {
			if s.NextExecutionTS == nil {
				return nil
			}
			delayed := s.NextExecutionTS.Add(secondsToDuration(e.rules.ResourceContentionDelaySeconds))
			s.NextExecutionTS = &delayed
			return nil
		})
	case ConflictExecutionTiming:
		detail = fmt.Sprintf("spread next execution by %ds: %s", e.rules.ExecutionTimingSpreadSeconds, c.detail)
		err = e.store.Apply(ctx, c.strategyID, func(s *types.ActiveStrategy) error {
			if s.NextExecutionTS == nil {
				return nil
			}
			spread := s.NextExecutionTS.Add(secondsToDuration(e.rules.ExecutionTimingSpreadSeconds))
			s.NextExecutionTS = &spread
			return nil
		})
	case ConflictAllocationImbalance:
		detail = fmt.Sprintf("shrank allocation by factor %s: %s", e.rules.AllocationImbalanceShrinkFactor, c.detail)
		err = e.store.Apply(ctx, c.strategyID, func(s *types.ActiveStrategy) error {
			s.AllocatedCapitalUSD = s.AllocatedCapitalUSD.Mul(e.rules.AllocationImbalanceShrinkFactor)
			return nil
		})
	}

	if err != nil {
		e.logger.Warn("failed to apply coordination resolution", zap.String("strategy_id", c.strategyID), zap.Error(err))
		return
	}
	e.record(Action{ID: uuid.NewString(), UserID: c.userID, Kind: c.kind, StrategyID: c.strategyID, Detail: detail, AppliedAt: types.Now()})
	e.bus.Publish(events.NewCoordinationActionEvent(c.userID, string(c.kind), detail))
}

func (e *Engine) recordSuggestion(userID string, s suggestion) {
	action := Action{ID: uuid.NewString(), UserID: userID, StrategyID: s.strategyID, Detail: s.detail, AppliedAt: types.Now()}
	e.record(action)
	e.bus.Publish(events.NewCoordinationActionEvent(userID, s.kind, s.detail))
}

func (e *Engine) record(a Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, a)
	if len(e.history) > historyCap {
		e.history = e.history[len(e.history)-historyCap:]
	}
}

// History returns a copy of the ring buffer's current contents.
func (e *Engine) History() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, len(e.history))
	copy(out, e.history)
	return out
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// suggestion is a portfolio-optimization recommendation from one of the
// five strategies in spec.md section 4.3. The engine records and publishes
// these as Actions but, unlike conflict resolutions, does not apply them
// automatically: they are surfaced for the user or an autonomous policy to
// act on.
type suggestion struct {
	kind       string
	strategyID string
	detail     string
}

// portfolioOptimizations computes the five portfolio-level suggestions
// from spec.md section 4.3 for one user's strategy group.
func portfolioOptimizations(group []types.ActiveStrategy) []suggestion {
	var suggestions []suggestion
	suggestions = append(suggestions, riskParitySuggestions(group)...)
	suggestions = append(suggestions, meanReversionSuggestions(group)...)
	suggestions = append(suggestions, momentumSuggestions(group)...)
	suggestions = append(suggestions, diversificationSuggestions(group)...)
	suggestions = append(suggestions, sharpeSuggestions(group)...)
	return suggestions
}

func totalAllocationOf(group []types.ActiveStrategy) decimal.Decimal {
	total := decimal.Zero
	for _, s := range group {
		total = total.Add(s.AllocatedCapitalUSD)
	}
	return total
}

// riskParitySuggestions: target share of a strategy = risk_level / sum of
// risk_levels; suggest a shift when actual share differs by more than 5%.
func riskParitySuggestions(group []types.ActiveStrategy) []suggestion {
	total := totalAllocationOf(group)
	if total.IsZero() {
		return nil
	}
	riskSum := int64(0)
	for _, s := range group {
		riskSum += int64(s.Config.RiskLevel)
	}
	if riskSum == 0 {
		return nil
	}
	var out []suggestion
	for _, s := range group {
		target := decimal.NewFromInt(int64(s.Config.RiskLevel)).Div(decimal.NewFromInt(riskSum)).Mul(decimal.NewFromInt(100))
		current := s.AllocatedCapitalUSD.Div(total).Mul(decimal.NewFromInt(100))
		if current.Sub(target).Abs().GreaterThan(decimal.NewFromInt(5)) {
			out = append(out, suggestion{kind: "risk_parity", strategyID: s.ID, detail: fmt.Sprintf("current share %s%% vs risk-parity target %s%%", current, target)})
		}
	}
	return out
}

// meanReversionSuggestions: if |recent_roi - long_term_avg| > 10%, suggest
// an opposing shift.
func meanReversionSuggestions(group []types.ActiveStrategy) []suggestion {
	var out []suggestion
	for _, s := range group {
		recent, longTerm := recentAndLongTermROI(s)
		delta := recent.Sub(longTerm)
		if delta.Abs().GreaterThan(decimal.NewFromInt(10)) {
			direction := "decrease"
			if delta.IsNegative() {
				direction = "increase"
			}
			out = append(out, suggestion{kind: "mean_reversion", strategyID: s.ID, detail: fmt.Sprintf("suggest %s allocation: recent roi %s%% vs long-term %s%%", direction, recent, longTerm)})
		}
	}
	return out
}

func recentAndLongTermROI(s types.ActiveStrategy) (recent, longTerm decimal.Decimal) {
	history := s.ExecutionHistory.Ordered()
	if len(history) == 0 {
		return decimal.Zero, decimal.Zero
	}
	sum := decimal.Zero
	for _, r := range history {
		sum = sum.Add(r.ActualReturn)
	}
	longTerm = sum.Div(decimal.NewFromInt(int64(len(history))))

	window := history
	if len(window) > 5 {
		window = window[len(window)-5:]
	}
	recentSum := decimal.Zero
	for _, r := range window {
		recentSum = recentSum.Add(r.ActualReturn)
	}
	recent = recentSum.Div(decimal.NewFromInt(int64(len(window))))
	return recent, longTerm
}

// momentumSuggestions: score = (roi-5)/10 + (win_rate-50)/100; >0.7 means
// increase, <-0.5 means decrease.
func momentumSuggestions(group []types.ActiveStrategy) []suggestion {
	var out []suggestion
	for _, s := range group {
		roi := s.PerformanceMetrics.ROIPct
		winRate := s.PerformanceMetrics.WinRatePct
		score := roi.Sub(decimal.NewFromInt(5)).Div(decimal.NewFromInt(10)).
			Add(winRate.Sub(decimal.NewFromInt(50)).Div(decimal.NewFromInt(100)))
		switch {
		case score.GreaterThan(decimal.NewFromFloat(0.7)):
			out = append(out, suggestion{kind: "momentum", strategyID: s.ID, detail: fmt.Sprintf("momentum score %s, suggest increase", score)})
		case score.LessThan(decimal.NewFromFloat(-0.5)):
			out = append(out, suggestion{kind: "momentum", strategyID: s.ID, detail: fmt.Sprintf("momentum score %s, suggest decrease", score)})
		}
	}
	return out
}

// diversificationSuggestions flags a group where a single chain exceeds 60%
// or a single protocol exceeds 50% of the group's strategies.
func diversificationSuggestions(group []types.ActiveStrategy) []suggestion {
	chainCount := make(map[types.ChainId]int)
	protocolCount := make(map[types.Protocol]int)
	for _, s := range group {
		for _, c := range s.Config.TargetChains {
			chainCount[c]++
		}
		for _, p := range s.Config.TargetProtocols {
			protocolCount[p]++
		}
	}
	var out []suggestion
	n := decimal.NewFromInt(int64(len(group)))
	for chain, count := range chainCount {
		if decimal.NewFromInt(int64(count)).Div(n).GreaterThan(decimal.NewFromFloat(0.6)) {
			out = append(out, suggestion{kind: "diversification", detail: fmt.Sprintf("chain %s present in over 60%% of strategies", chain)})
		}
	}
	for protocol, count := range protocolCount {
		if decimal.NewFromInt(int64(count)).Div(n).GreaterThan(decimal.NewFromFloat(0.5)) {
			out = append(out, suggestion{kind: "diversification", detail: fmt.Sprintf("protocol %s present in over 50%% of strategies", protocol)})
		}
	}
	return out
}

// sharpeSuggestions: a strategy with Sharpe > portfolio Sharpe + 0.3 gets an
// increase suggestion; < portfolio Sharpe - 0.5 gets a decrease suggestion.
func sharpeSuggestions(group []types.ActiveStrategy) []suggestion {
	portfolioSharpe := decimal.Zero
	for _, s := range group {
		portfolioSharpe = portfolioSharpe.Add(s.PerformanceMetrics.SharpeRatio)
	}
	portfolioSharpe = portfolioSharpe.Div(decimal.NewFromInt(int64(len(group))))

	var out []suggestion
	for _, s := range group {
		switch {
		case s.PerformanceMetrics.SharpeRatio.GreaterThan(portfolioSharpe.Add(decimal.NewFromFloat(0.3))):
			out = append(out, suggestion{kind: "sharpe", strategyID: s.ID, detail: fmt.Sprintf("sharpe %s exceeds portfolio %s by > 0.3, suggest increase", s.PerformanceMetrics.SharpeRatio, portfolioSharpe)})
		case s.PerformanceMetrics.SharpeRatio.LessThan(portfolioSharpe.Sub(decimal.NewFromFloat(0.5))):
			out = append(out, suggestion{kind: "sharpe", strategyID: s.ID, detail: fmt.Sprintf("sharpe %s trails portfolio %s by > 0.5, suggest decrease", s.PerformanceMetrics.SharpeRatio, portfolioSharpe)})
		}
	}
	return out
}
