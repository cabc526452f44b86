// Package statestore implements the Strategy State Store: the single
// process-wide owner of every types.ActiveStrategy (spec.md section 3,
// "Ownership"). Every other component either takes a short-lived borrowed
// snapshot via Get/List, or requests a write by sending a Mutation through
// the store's single channel — there is exactly one goroutine (Run) that
// ever mutates the underlying map, so lifecycle invariants are enforced in
// one place.
package statestore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/pkg/strategyerr"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// Mutation is a single diff requested against one strategy. Fn receives a
// pointer to the live strategy (already copied for isolation by the time
// Fn runs is not guaranteed — Fn must only read/write through the pointer
// it's given, never retain it past return) and returns an error to abort
// the mutation without applying partial changes.
type Mutation struct {
	StrategyID string
	Fn         func(s *types.ActiveStrategy) error
	done       chan error
}

// Store is the authoritative in-memory map of strategies. Construct with
// New and start its driver loop with Run before issuing any Apply calls.
type Store struct {
	logger *zap.Logger

	strategies map[string]*types.ActiveStrategy
	byUser     map[string]map[string]bool

	mutations chan Mutation
	snapshots chan snapshotRequest
	creates   chan createRequest
}

type snapshotRequest struct {
	userID string
	all    bool
	result chan []types.ActiveStrategy
}

type createRequest struct {
	strategy *types.ActiveStrategy
	result   chan struct{}
}

// New builds an empty store. Call Run in a goroutine before use.
func New(logger *zap.Logger) *Store {
	return &Store{
		logger:     logger.Named("statestore"),
		strategies: make(map[string]*types.ActiveStrategy),
		byUser:     make(map[string]map[string]bool),
		mutations:  make(chan Mutation, 256),
		snapshots:  make(chan snapshotRequest, 256),
		creates:    make(chan createRequest, 256),
	}
}

// Run is the store's single driver loop: it is the only goroutine that ever
// writes to the strategies map. It returns when ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	s.logger.Info("state store driver starting")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("state store driver stopping")
			return
		case m := <-s.mutations:
			s.applyMutation(m)
		case r := <-s.snapshots:
			s.serveSnapshot(r)
		case c := <-s.creates:
			s.applyCreate(c)
		}
	}
}

func (s *Store) applyCreate(c createRequest) {
	strat := c.strategy
	s.strategies[strat.ID] = strat
	if s.byUser[strat.UserID] == nil {
		s.byUser[strat.UserID] = make(map[string]bool)
	}
	s.byUser[strat.UserID][strat.ID] = true
	close(c.result)
}

func (s *Store) applyMutation(m Mutation) {
	strat, ok := s.strategies[m.StrategyID]
	if !ok {
		m.done <- strategyerr.New(strategyerr.KindNotFound, fmt.Sprintf("strategy %s not found", m.StrategyID))
		return
	}
	before := cloneStrategy(strat)
	if strat.WalletAddresses != nil {
		before.WalletAddresses = make(map[types.ChainId]types.Address, len(strat.WalletAddresses))
		for chain, addr := range strat.WalletAddresses {
			before.WalletAddresses[chain] = addr
		}
	}
	if err := m.Fn(strat); err != nil {
		*strat = before
		m.done <- err
		return
	}
	if err := strat.CheckInvariants(); err != nil {
		*strat = before
		m.done <- strategyerr.Wrap(strategyerr.KindInvariant, "mutation violated strategy invariants", err)
		return
	}
	m.done <- nil
}

func (s *Store) serveSnapshot(r snapshotRequest) {
	var out []types.ActiveStrategy
	if r.all {
		out = make([]types.ActiveStrategy, 0, len(s.strategies))
		for _, strat := range s.strategies {
			out = append(out, cloneStrategy(strat))
		}
	} else {
		ids := s.byUser[r.userID]
		out = make([]types.ActiveStrategy, 0, len(ids))
		for id := range ids {
			out = append(out, cloneStrategy(s.strategies[id]))
		}
	}
	r.result <- out
}

// cloneStrategy copies strat by value and clones its ExecutionHistory ring
// buffer, so a snapshot is fully isolated from later mutations of the live
// strategy rather than sharing the buffer through a borrowed pointer.
func cloneStrategy(strat *types.ActiveStrategy) types.ActiveStrategy {
	out := *strat
	out.ExecutionHistory = strat.ExecutionHistory.Clone()
	return out
}

// Create registers a new strategy in the Created lifecycle state: validated
// config, zero capital, no schedule. Returns an *strategyerr.StrategyError
// with KindInputValidation if the config is invalid.
func (s *Store) Create(ctx context.Context, userID string, config types.StrategyConfig, id string) (*types.ActiveStrategy, error) {
	if err := config.Validate(); err != nil {
		return nil, strategyerr.Wrap(strategyerr.KindInputValidation, "invalid strategy config", err)
	}
	strat := types.NewActiveStrategy(id, userID, config)
	result := make(chan struct{})
	select {
	case s.creates <- createRequest{strategy: strat, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-result:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return strat, nil
}

// Get returns a short-lived, isolated snapshot of the strategy, or
// (types.ActiveStrategy{}, false) if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (types.ActiveStrategy, bool) {
	result := make(chan []types.ActiveStrategy, 1)
	s.snapshots <- snapshotRequest{all: true, result: result}
	for _, strat := range <-result {
		if strat.ID == id {
			return strat, true
		}
	}
	return types.ActiveStrategy{}, false
}

// ListUser returns a snapshot of every strategy owned by userID.
func (s *Store) ListUser(ctx context.Context, userID string) []types.ActiveStrategy {
	result := make(chan []types.ActiveStrategy, 1)
	s.snapshots <- snapshotRequest{userID: userID, result: result}
	return <-result
}

// ListAll returns a snapshot of every strategy in the store.
func (s *Store) ListAll(ctx context.Context) []types.ActiveStrategy {
	result := make(chan []types.ActiveStrategy, 1)
	s.snapshots <- snapshotRequest{all: true, result: result}
	return <-result
}

// Apply funnels fn through the single mutation channel, blocking until the
// driver goroutine has applied it (or rejected it without mutating state).
func (s *Store) Apply(ctx context.Context, strategyID string, fn func(s *types.ActiveStrategy) error) error {
	done := make(chan error, 1)
	select {
	case s.mutations <- Mutation{StrategyID: strategyID, Fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Activate transitions Created -> Active, supplying initial capital and
// scheduling the first execution. Capital above max_allocation_usd fails
// with KindInsufficientCapital and moves the strategy to Error.
func (s *Store) Activate(ctx context.Context, strategyID string, capital decimal.Decimal, nextExecution types.UnixNano) error {
	if capital.IsNegative() {
		return strategyerr.New(strategyerr.KindInputValidation, "activation capital must be >= 0")
	}
	err := s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		if !types.CanTransition(strat.Status, types.StrategyStatusActive) {
			return strategyerr.New(strategyerr.KindInputValidation, fmt.Sprintf("cannot activate strategy in status %s", strat.Status))
		}
		if capital.GreaterThan(strat.Config.MaxAllocationUSD) {
			return strategyerr.New(strategyerr.KindInsufficientCapital, "activation capital exceeds max_allocation_usd")
		}
		strat.AllocatedCapitalUSD = capital
		strat.Status = types.StrategyStatusActive
		ts := nextExecution
		strat.NextExecutionTS = &ts
		return nil
	})
	if strategyerr.Is(err, strategyerr.KindInsufficientCapital) {
		if ferr := s.ForceError(ctx, strategyID, err.Error()); ferr != nil {
			s.logger.Error("failed to move strategy to error after activation", zap.Error(ferr))
		}
	}
	return err
}

// Pause transitions Active -> Paused at the owning user's request (or under
// the Risk Manager's forced-pause path, via ForcePause).
func (s *Store) Pause(ctx context.Context, strategyID string) error {
	return s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		if !types.CanTransition(strat.Status, types.StrategyStatusPaused) {
			return strategyerr.New(strategyerr.KindInputValidation, fmt.Sprintf("cannot pause strategy in status %s", strat.Status))
		}
		strat.Status = types.StrategyStatusPaused
		strat.NextExecutionTS = nil
		return nil
	})
}

// Resume transitions Paused -> Active, rescheduling the next execution.
func (s *Store) Resume(ctx context.Context, strategyID string, nextExecution types.UnixNano) error {
	return s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		if !types.CanTransition(strat.Status, types.StrategyStatusActive) {
			return strategyerr.New(strategyerr.KindInputValidation, fmt.Sprintf("cannot resume strategy in status %s", strat.Status))
		}
		strat.Status = types.StrategyStatusActive
		ts := nextExecution
		strat.NextExecutionTS = &ts
		return nil
	})
}

// Stop transitions {Active,Paused} -> Stopped. Terminal: capital is
// considered withdrawn by the caller before invoking Stop.
func (s *Store) Stop(ctx context.Context, strategyID string) error {
	return s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		if !types.CanTransition(strat.Status, types.StrategyStatusStopped) {
			return strategyerr.New(strategyerr.KindInputValidation, fmt.Sprintf("cannot stop strategy in status %s", strat.Status))
		}
		strat.Status = types.StrategyStatusStopped
		strat.NextExecutionTS = nil
		strat.AllocatedCapitalUSD = decimal.Zero
		return nil
	})
}

// ForcePause is the Risk Manager's emergency-stop path: Active -> Paused
// bypassing the normal user-initiated transition table.
func (s *Store) ForcePause(ctx context.Context, strategyID, reason string) error {
	return s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		if strat.Status != types.StrategyStatusActive {
			return strategyerr.New(strategyerr.KindInputValidation, fmt.Sprintf("cannot force-pause strategy in status %s", strat.Status))
		}
		s.logger.Warn("forced pause", zap.String("strategy_id", strategyID), zap.String("reason", reason))
		strat.Status = types.StrategyStatusPaused
		strat.NextExecutionTS = nil
		return nil
	})
}

// ForceError is the driver's path for an Invariant violation: the strategy
// is parked in Error and never auto-retried (spec.md section 7).
func (s *Store) ForceError(ctx context.Context, strategyID, reason string) error {
	return s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		s.logger.Error("strategy forced to error state", zap.String("strategy_id", strategyID), zap.String("reason", reason))
		strat.Status = types.StrategyStatusError
		strat.NextExecutionTS = nil
		return nil
	})
}

// UpdateConfig applies a partial update restricted to the mutable field set
// (spec.md section 6).
func (s *Store) UpdateConfig(ctx context.Context, strategyID string, fields map[string]interface{}) error {
	for field := range fields {
		if !types.MutableConfigFieldAllowed(field) {
			return strategyerr.New(strategyerr.KindInputValidation, fmt.Sprintf("field %q is not mutable post-activation", field))
		}
	}
	return s.Apply(ctx, strategyID, func(strat *types.ActiveStrategy) error {
		if v, ok := fields["max_allocation_usd"]; ok {
			strat.Config.MaxAllocationUSD = v.(decimal.Decimal)
		}
		if v, ok := fields["gas_limit_usd"]; ok {
			strat.Config.GasLimitUSD = v.(decimal.Decimal)
		}
		if v, ok := fields["stop_loss_pct"]; ok {
			d := v.(decimal.Decimal)
			strat.Config.StopLossPct = &d
		}
		if v, ok := fields["take_profit_pct"]; ok {
			d := v.(decimal.Decimal)
			strat.Config.TakeProfitPct = &d
		}
		if v, ok := fields["execution_interval_minutes"]; ok {
			strat.Config.ExecutionIntervalMinutes = v.(int64)
		}
		return nil
	})
}
