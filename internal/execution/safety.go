package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/defrost-labs/strategy-engine/pkg/strategyerr"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// SafetyConfig carries the SafetyController's ceilings (spec.md section 4.2).
type SafetyConfig struct {
	MaxSingleExecutionUSD decimal.Decimal
	MaxDailyVolumeUSD     decimal.Decimal
}

// DefaultSafetyConfig returns the spec-mandated defaults.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxSingleExecutionUSD: decimal.NewFromInt(100_000),
		MaxDailyVolumeUSD:     decimal.NewFromInt(500_000),
	}
}

type userVolume struct {
	windowStart types.UnixNano
	totalUSD    decimal.Decimal
}

// SafetyController exclusively owns the per-user rolling daily-volume
// counters (spec.md section 5, "Shared resources"). The rolling window
// resets on a monotonic daily boundary; counts are expected to be restored
// from the state store's persisted blob on process restart via Restore.
type SafetyController struct {
	config SafetyConfig

	mu     sync.Mutex
	volume map[string]*userVolume
}

// NewSafetyController builds a controller with the given config.
func NewSafetyController(config SafetyConfig) *SafetyController {
	return &SafetyController{config: config, volume: make(map[string]*userVolume)}
}

// Restore seeds a user's rolling volume counter, for use when rehydrating
// from persisted state after a restart.
func (c *SafetyController) Restore(userID string, windowStart types.UnixNano, totalUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume[userID] = &userVolume{windowStart: windowStart, totalUSD: totalUSD}
}

func dailyBoundary(ts types.UnixNano) types.UnixNano {
	t := ts.Time().UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return types.UnixNano(start.UnixNano())
}

// CheckPreExecution enforces the single-execution and rolling 24h volume
// ceilings before an execution is allowed to proceed.
func (c *SafetyController) CheckPreExecution(ctx context.Context, userID string, amountUSD decimal.Decimal) error {
	if amountUSD.GreaterThan(c.config.MaxSingleExecutionUSD) {
		return strategyerr.New(strategyerr.KindRiskLimitExceeded, fmt.Sprintf("amount %s exceeds max_single_execution_usd %s", amountUSD, c.config.MaxSingleExecutionUSD))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := types.Now()
	boundary := dailyBoundary(now)
	v, ok := c.volume[userID]
	if !ok || v.windowStart.Before(boundary) {
		v = &userVolume{windowStart: boundary, totalUSD: decimal.Zero}
		c.volume[userID] = v
	}

	if v.totalUSD.Add(amountUSD).GreaterThan(c.config.MaxDailyVolumeUSD) {
		return strategyerr.New(strategyerr.KindRiskLimitExceeded, fmt.Sprintf("user %s would exceed max_daily_volume_usd %s", userID, c.config.MaxDailyVolumeUSD))
	}
	return nil
}

// RecordExecution adds amountUSD to the user's rolling volume counter.
// Called unconditionally after Execute attempts a plan, whether or not it
// ultimately succeeds, since the volume ceiling guards against burst
// attempts, not only successful ones.
func (c *SafetyController) RecordExecution(userID string, amountUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := types.Now()
	boundary := dailyBoundary(now)
	v, ok := c.volume[userID]
	if !ok || v.windowStart.Before(boundary) {
		v = &userVolume{windowStart: boundary, totalUSD: decimal.Zero}
		c.volume[userID] = v
	}
	v.totalUSD = v.totalUSD.Add(amountUSD)
}

// Snapshot returns the current rolling volume for userID, for persistence
// by the caller into the state store.
func (c *SafetyController) Snapshot(userID string) (windowStart types.UnixNano, totalUSD decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.volume[userID]
	if !ok {
		return 0, decimal.Zero
	}
	return v.windowStart, v.totalUSD
}
