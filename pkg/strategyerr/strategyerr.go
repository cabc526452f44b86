// Package strategyerr defines the closed error taxonomy shared by every
// component of the strategy engine (spec section 7). Every fallible write
// operation returns a *StrategyError (or nil); read operations are
// infallible beyond "not found", which is represented with Kind NotFound.
package strategyerr

import "fmt"

// Kind is the closed set of error categories and their propagation policy.
type Kind string

const (
	// KindInputValidation covers bad config or a bad user request. Surfaced
	// to the caller; the strategy is left unchanged.
	KindInputValidation Kind = "input_validation"

	// KindInsufficientCapital is raised on activation or execution.
	// Surfaced to the caller; on activation only, the strategy moves to Error.
	KindInsufficientCapital Kind = "insufficient_capital"

	// KindOpportunityExpired is an execution pre-check failure. Strategy
	// unchanged; not counted as a failure in performance metrics.
	KindOpportunityExpired Kind = "opportunity_expired"

	// KindBelowThreshold is an execution pre-check failure. Strategy
	// unchanged; not counted as a failure.
	KindBelowThreshold Kind = "below_threshold"

	// KindKindMismatch is an execution pre-check failure: the opportunity's
	// kind does not match the strategy's kind. Strategy unchanged; not
	// counted as a failure.
	KindKindMismatch Kind = "kind_mismatch"

	// KindGasExceeded is an execution pre-check failure. Surfaced to the
	// caller; strategy unchanged.
	KindGasExceeded Kind = "gas_exceeded"

	// KindMissingWallet is an execution pre-check failure: no wallet address
	// is on file for a chain the plan touches. Surfaced; strategy unchanged.
	KindMissingWallet Kind = "missing_wallet"

	// KindRiskLimitExceeded comes from the risk gate. Execution is blocked;
	// if it repeats three or more times in a row the strategy is paused.
	KindRiskLimitExceeded Kind = "risk_limit_exceeded"

	// KindAdapterTransient covers network errors, timeouts, rate limits.
	// Retried up to three times; if still failing, surfaced to the caller.
	KindAdapterTransient Kind = "adapter_transient"

	// KindAdapterPermanent covers reverts, bad input, stale oracle data.
	// Recorded as a failed ExecutionResult and counted in the failure rate.
	KindAdapterPermanent Kind = "adapter_permanent"

	// KindCancelled is raised on deadline expiry or a user-initiated stop.
	// Treated as a non-failure; state is recovered, not corrupted.
	KindCancelled Kind = "cancelled"

	// KindInvariant marks an internal bug. The driver pauses the offending
	// strategy, logs, and never retries automatically.
	KindInvariant Kind = "invariant"

	// KindNotFound is the sole failure mode of an otherwise-infallible read.
	KindNotFound Kind = "not_found"
)

// StrategyError is the discriminated error type returned by every fallible
// write operation in the engine: a machine-readable Kind plus a human
// message, and an optional wrapped cause.
type StrategyError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *StrategyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StrategyError) Unwrap() error {
	return e.Cause
}

// New builds a StrategyError with no wrapped cause.
func New(kind Kind, message string) *StrategyError {
	return &StrategyError{Kind: kind, Message: message}
}

// Wrap builds a StrategyError wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *StrategyError {
	return &StrategyError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *StrategyError of the given kind. Intended
// for use with errors.Is-style call sites that only care about the kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*StrategyError)
	return ok && se.Kind == kind
}

// IsFailure reports whether a kind should be counted toward a strategy's
// recent failure rate for the Risk Manager's post-execution check. Pre-check
// rejections (expired, below threshold, kind mismatch, cancelled) are
// explicitly excluded per the propagation table.
func IsFailure(kind Kind) bool {
	switch kind {
	case KindOpportunityExpired, KindBelowThreshold, KindKindMismatch, KindCancelled:
		return false
	case KindAdapterPermanent, KindAdapterTransient, KindInvariant:
		return true
	default:
		return false
	}
}

// RetryableTransient reports whether kind should be retried by the
// execution engine's transaction-step retry policy.
func RetryableTransient(kind Kind) bool {
	return kind == KindAdapterTransient
}
