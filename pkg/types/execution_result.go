package types

import "github.com/shopspring/decimal"

// ActionType names the concrete on-chain action an execution step performs,
// used in ExecutionResult for attribution and in gas estimation lookups.
type ActionType string

const (
	ActionApprove         ActionType = "approve"
	ActionAddLiquidity    ActionType = "add_liquidity"
	ActionSwap            ActionType = "swap"
	ActionProvideLiquidity ActionType = "provide_liquidity"
	ActionBuy             ActionType = "buy"
)

// ExecutionResult is the immutable, append-only record of one attempt to
// carry out an opportunity for a strategy. Once appended to a strategy's
// history it is never mutated; the history is a fixed-capacity ring, so
// once it is full each append evicts the oldest record.
type ExecutionResult struct {
	ExecutionID     string          `json:"executionId"`
	StrategyID      string          `json:"strategyId"`
	OpportunityID   string          `json:"opportunityId"`
	ActionType      ActionType      `json:"actionType"`
	AmountUSD       decimal.Decimal `json:"amountUsd"`
	ExpectedReturn  decimal.Decimal `json:"expectedReturn"`
	ActualReturn    decimal.Decimal `json:"actualReturn"`
	GasCostUSD      decimal.Decimal `json:"gasCostUsd"`
	DurationSeconds float64         `json:"durationSeconds"`
	Success         bool            `json:"success"`
	Error           *string         `json:"error,omitempty"`
	TxHashes        []string        `json:"txHashes"`
	ExecutedAt      UnixNano        `json:"executedAt"`
}

// ExecutionHistory is a fixed-capacity ring buffer of ExecutionResult,
// ordered by ExecutedAt, matching the ActiveStrategy.execution_history
// ring<ExecutionResult, cap=1000> field from the data model.
type ExecutionHistory struct {
	cap   int
	items []ExecutionResult
	start int
}

// NewExecutionHistory constructs a ring buffer with the given capacity.
func NewExecutionHistory(cap int) *ExecutionHistory {
	return &ExecutionHistory{cap: cap, items: make([]ExecutionResult, 0, cap)}
}

// Append adds r to the ring, evicting the oldest entry once at capacity.
// Callers are responsible for ensuring r.ExecutedAt is monotonically
// increasing relative to the last appended entry (see invariant 4).
func (h *ExecutionHistory) Append(r ExecutionResult) {
	if len(h.items) < h.cap {
		h.items = append(h.items, r)
		return
	}
	h.items[h.start] = r
	h.start = (h.start + 1) % h.cap
}

// Len returns the number of entries currently held.
func (h *ExecutionHistory) Len() int {
	return len(h.items)
}

// Last returns the most recently appended entry, if any.
func (h *ExecutionHistory) Last() (ExecutionResult, bool) {
	if len(h.items) == 0 {
		return ExecutionResult{}, false
	}
	idx := (h.start + len(h.items) - 1) % h.cap
	if len(h.items) < h.cap {
		idx = len(h.items) - 1
	}
	return h.items[idx], true
}

// Ordered returns the ring's contents in ExecutedAt order, oldest first.
func (h *ExecutionHistory) Ordered() []ExecutionResult {
	out := make([]ExecutionResult, 0, len(h.items))
	if len(h.items) < h.cap {
		out = append(out, h.items...)
		return out
	}
	for i := 0; i < h.cap; i++ {
		out = append(out, h.items[(h.start+i)%h.cap])
	}
	return out
}

// Clone returns an independent copy of the ring buffer, so a borrowed
// snapshot can't observe appends made to the live buffer afterward.
func (h *ExecutionHistory) Clone() *ExecutionHistory {
	if h == nil {
		return nil
	}
	items := make([]ExecutionResult, len(h.items))
	copy(items, h.items)
	return &ExecutionHistory{cap: h.cap, items: items, start: h.start}
}
