package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionHistoryCap is the ring buffer capacity mandated by the data
// model for ActiveStrategy.ExecutionHistory.
const ExecutionHistoryCap = 1000

// ActiveStrategy is one user's running strategy instance. The Strategy
// State Store is its exclusive owner; every other component receives a
// short-lived borrowed snapshot or applies diffs through the store's single
// mutation channel (see internal/statestore).
type ActiveStrategy struct {
	ID                 string                   `json:"id"`
	UserID             string                   `json:"userId"`
	Config             StrategyConfig           `json:"config"`
	Status             StrategyStatus           `json:"status"`
	AllocatedCapitalUSD decimal.Decimal         `json:"allocatedCapitalUsd"`
	WalletAddresses    map[ChainId]Address       `json:"walletAddresses"`
	NextExecutionTS    *UnixNano                 `json:"nextExecutionTs,omitempty"`
	LastRebalanceTS    *UnixNano                 `json:"lastRebalanceTs,omitempty"`
	ExecutionHistory   *ExecutionHistory         `json:"-"`
	PerformanceMetrics PerformanceMetrics        `json:"performanceMetrics"`
	RiskMetrics        RiskMetrics               `json:"riskMetrics"`
}

// NewActiveStrategy constructs a strategy in the Created state: validated
// config, zero capital, no schedule.
func NewActiveStrategy(id, userID string, config StrategyConfig) *ActiveStrategy {
	return &ActiveStrategy{
		ID:                  id,
		UserID:              userID,
		Config:              config,
		Status:              StrategyStatusCreated,
		AllocatedCapitalUSD: decimal.Zero,
		WalletAddresses:     make(map[ChainId]Address),
		ExecutionHistory:    NewExecutionHistory(ExecutionHistoryCap),
	}
}

// CheckInvariants validates the structural invariants from the data model
// (section 3) that must hold for any ActiveStrategy at rest: non-negative,
// capped allocation; Stopped implies no scheduled execution; an Active
// strategy with interval k must have its next execution within (now, now +
// 2k minutes] immediately after every execution (checked by callers that
// have just rescheduled, via NextExecutionWithinWindow).
func (s *ActiveStrategy) CheckInvariants() error {
	if s.AllocatedCapitalUSD.IsNegative() {
		return fmt.Errorf("strategy %s: allocated capital must be >= 0", s.ID)
	}
	if s.AllocatedCapitalUSD.GreaterThan(s.Config.MaxAllocationUSD) {
		return fmt.Errorf("strategy %s: allocated capital %s exceeds max_allocation_usd %s", s.ID, s.AllocatedCapitalUSD, s.Config.MaxAllocationUSD)
	}
	if (s.Status == StrategyStatusStopped || s.Status == StrategyStatusCreated) && s.NextExecutionTS != nil {
		return fmt.Errorf("strategy %s: %s strategy must not have a scheduled execution", s.ID, s.Status)
	}
	return nil
}

// NextExecutionWithinWindow reports whether NextExecutionTS falls within
// (now, now + 2*interval] as required for an Active strategy right after a
// reschedule.
func (s *ActiveStrategy) NextExecutionWithinWindow(now UnixNano) bool {
	if s.NextExecutionTS == nil {
		return false
	}
	next := *s.NextExecutionTS
	windowEnd := now.Add(time.Duration(2*s.Config.ExecutionIntervalMinutes) * time.Minute)
	return next.After(now) && !next.After(windowEnd)
}
