package types

// StrategyStatus is the closed lifecycle state of an ActiveStrategy.
type StrategyStatus string

const (
	StrategyStatusCreated StrategyStatus = "created"
	StrategyStatusActive  StrategyStatus = "active"
	StrategyStatusPaused  StrategyStatus = "paused"
	StrategyStatusStopped StrategyStatus = "stopped"
	StrategyStatusError   StrategyStatus = "error"
)

// transitions is the closed set of user-initiated lifecycle edges.
//
//	Created -> Active -> {Paused <-> Active} -> Stopped
//
// The Risk Manager may additionally force Active -> Paused (emergency stop)
// or Active -> Error, outside this user-initiated table.
var transitions = map[StrategyStatus]map[StrategyStatus]bool{
	StrategyStatusCreated: {StrategyStatusActive: true},
	StrategyStatusActive:  {StrategyStatusPaused: true, StrategyStatusStopped: true},
	StrategyStatusPaused:  {StrategyStatusActive: true, StrategyStatusStopped: true},
	StrategyStatusStopped: {},
	StrategyStatusError:   {},
}

// CanTransition reports whether a user-initiated transition from -> to is
// permitted. Forced transitions (emergency stop, Invariant errors) bypass
// this check; they are applied directly by the Risk Manager and driver.
func CanTransition(from, to StrategyStatus) bool {
	return transitions[from][to]
}
