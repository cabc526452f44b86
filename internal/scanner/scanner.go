// Package scanner implements the Opportunity Scanner (spec.md section 4.1):
// it polls the adapter registry on a per-kind cadence, filters and ranks the
// results, and maintains the shared opportunity cache that every other
// core component reads from.
package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/workers"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

const cacheHardCap = 10 * time.Minute

// Config bundles the scanner's tunables.
type Config struct {
	Intervals types.ScanIntervals
	Filters   types.Filters
}

// DefaultConfig returns the spec-mandated scan cadence with permissive
// filters (empty allow-lists mean "all allowed").
func DefaultConfig() Config {
	return Config{
		Intervals: types.DefaultScanIntervals(),
		Filters: types.Filters{
			MinReturn:         decimal.Zero,
			MaxRiskScore:      decimal.NewFromInt(10),
			MinLiquidityScore: decimal.Zero,
			MaxGasCostUSD:     decimal.NewFromInt(1_000_000),
		},
	}
}

// Stats is the scanner's supplemental per-kind statistics (grounded on
// original_source's ScanStatistics — not in spec.md's operation list but
// cheap and useful to carry forward per SPEC_FULL.md section D.1).
type Stats struct {
	LastScanAt     map[types.OpportunityKind]types.UnixNano
	SuccessCount   map[types.OpportunityKind]int64
	FailureCount   map[types.OpportunityKind]int64
	TotalFound     int64
}

type cacheEntry struct {
	opportunity types.Opportunity
	insertedAt  types.UnixNano
}

// Scanner maintains the shared opportunity cache. One Scanner instance is
// shared process-wide; the cache is single-writer (Scanner) / many-reader.
type Scanner struct {
	logger   *zap.Logger
	registry *adapter.Registry
	bus      *events.EventBus
	pool     *workers.Pool
	config   Config

	mu          sync.RWMutex
	cache       map[string]cacheEntry
	lastScan    map[types.OpportunityKind]types.UnixNano
	stats       Stats

	scanInFlight sync.Mutex
	scanning     bool
}

// New builds a Scanner. Call Start before the first Scan.
func New(logger *zap.Logger, registry *adapter.Registry, bus *events.EventBus, config Config) *Scanner {
	return &Scanner{
		logger:   logger.Named("scanner"),
		registry: registry,
		bus:      bus,
		pool:     workers.NewPool(logger.Named("scanner-pool"), workers.ScannerPoolConfig()),
		config:   config,
		cache:    make(map[string]cacheEntry),
		lastScan: make(map[types.OpportunityKind]types.UnixNano),
		stats: Stats{
			LastScanAt:   make(map[types.OpportunityKind]types.UnixNano),
			SuccessCount: make(map[types.OpportunityKind]int64),
			FailureCount: make(map[types.OpportunityKind]int64),
		},
	}
}

// Start launches the scanner's fan-out worker pool.
func (s *Scanner) Start() {
	s.pool.Start()
}

// Stop shuts the worker pool down.
func (s *Scanner) Stop() {
	_ = s.pool.Stop()
}

var allKinds = []types.OpportunityKind{
	types.OpportunityYieldFarming,
	types.OpportunityArbitrage,
	types.OpportunityLiquidityMining,
	types.OpportunityRebalancing,
}

// RebalanceInterval is the cadence at which a scheduled rebalance is due for
// an active strategy, reusing the rebalancing-kind scan cadence since no
// separate rebalance interval is configured.
func (s *Scanner) RebalanceInterval() time.Duration {
	return time.Duration(s.config.Intervals.RebalancingSeconds) * time.Second
}

func (s *Scanner) intervalFor(kind types.OpportunityKind) time.Duration {
	switch kind {
	case types.OpportunityYieldFarming:
		return time.Duration(s.config.Intervals.YieldFarmingSeconds) * time.Second
	case types.OpportunityArbitrage:
		return time.Duration(s.config.Intervals.ArbitrageSeconds) * time.Second
	case types.OpportunityLiquidityMining:
		return time.Duration(s.config.Intervals.LiquidityMiningSeconds) * time.Second
	case types.OpportunityRebalancing:
		return time.Duration(s.config.Intervals.RebalancingSeconds) * time.Second
	default:
		return time.Minute
	}
}

func (s *Scanner) dueKinds(now types.UnixNano) []types.OpportunityKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []types.OpportunityKind
	for _, kind := range allKinds {
		last, ok := s.lastScan[kind]
		if !ok || now.Sub(last) >= s.intervalFor(kind) {
			due = append(due, kind)
		}
	}
	return due
}

// Scan runs every kind-specific sub-scanner whose last-scan age exceeds its
// configured interval, merges results, applies filters, ranks, atomically
// swaps the affected cache entries, and returns the ranked list. If a scan
// is already in flight, it returns the current cache without starting a new
// one (backpressure, spec.md section 5).
func (s *Scanner) Scan(ctx context.Context) []types.Opportunity {
	if !s.scanInFlight.TryLock() {
		return s.Top(len(s.cache))
	}
	defer s.scanInFlight.Unlock()

	now := types.Now()
	due := s.dueKinds(now)
	if len(due) == 0 {
		return s.Top(len(s.cache))
	}

	var mu sync.Mutex
	var failedKinds []string
	found := 0
	var wg sync.WaitGroup

	for _, kind := range due {
		kind := kind
		wg.Add(1)
		submitErr := s.pool.SubmitFunc(func() error {
			defer wg.Done()
			opps, err := s.scanKind(ctx, kind)
			s.mu.Lock()
			s.lastScan[kind] = now
			s.mu.Unlock()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("sub-scanner failed", zap.String("kind", string(kind)), zap.Error(err))
				s.recordFailure(kind)
				failedKinds = append(failedKinds, string(kind))
				return nil // isolate failures; do not abort the scan
			}
			s.recordSuccess(kind, len(opps))
			s.mergeInto(now, opps)
			found += len(opps)
			return nil
		})
		if submitErr != nil {
			wg.Done()
			s.logger.Warn("scanner pool could not accept sub-scan", zap.String("kind", string(kind)), zap.Error(submitErr))
		}
	}
	wg.Wait()

	s.evictExpired(now)
	s.bus.Publish(events.NewScanCompletedEvent(found, failedKinds))

	return s.Top(len(s.cache))
}

// scanKind queries every registered adapter for one opportunity kind
// concurrently (golang.org/x/sync/errgroup), since adapter calls are
// independent network round-trips and a slow chain must not stall the
// others. The first adapter error aborts this kind's scan; callers treat
// that as this sub-scanner's isolated failure, not a fatal Scan error.
func (s *Scanner) scanKind(ctx context.Context, kind types.OpportunityKind) ([]types.Opportunity, error) {
	if kind == types.OpportunityLiquidityMining || kind == types.OpportunityRebalancing {
		// These kinds are derived from strategy state (current vs. target
		// allocation, pool pair liquidity) rather than polled fresh from an
		// adapter feed; they are produced by the Coordination Engine and
		// Allocation Optimizer respectively and merged via MergeExternal.
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var out []types.Opportunity

	for key, a := range s.registry.All() {
		key, a := key, a
		g.Go(func() error {
			switch kind {
			case types.OpportunityYieldFarming:
				dtos, err := a.GetYieldOpportunities(gctx)
				if err != nil {
					return err
				}
				mu.Lock()
				for _, dto := range dtos {
					out = append(out, yieldOpportunityFromDTO(key, dto))
				}
				mu.Unlock()
			case types.OpportunityArbitrage:
				dtos, err := a.GetArbitrageOpportunities(gctx)
				if err != nil {
					return err
				}
				mu.Lock()
				for _, dto := range dtos {
					out = append(out, arbitrageOpportunityFromDTO(key, dto))
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func yieldOpportunityFromDTO(key adapter.Key, dto adapter.YieldOpportunityDTO) types.Opportunity {
	now := types.Now()
	return types.Opportunity{
		ID:                     uuid.NewString(),
		Kind:                   types.OpportunityYieldFarming,
		Chain:                  key.Chain,
		Protocol:               key.Protocol,
		ExpectedReturnPct:      decimal.NewFromFloat(dto.APYPct),
		RiskScore:              decimal.NewFromFloat(dto.RiskScore),
		EstGasCostUSD:          decimal.Zero,
		LiquidityScore:         decimal.NewFromFloat(dto.LiquidityScore),
		TimeSensitivityMinutes: 60,
		DiscoveredAt:           now,
		ExpiresAt:              now.Add(cacheHardCap),
		YieldFarming: &types.YieldFarmingDetails{
			APY:    decimal.NewFromFloat(dto.APYPct),
			Tokens: dto.Tokens,
			Pool:   dto.Pool,
		},
	}
}

func arbitrageOpportunityFromDTO(key adapter.Key, dto adapter.ArbitrageOpportunityDTO) types.Opportunity {
	now := types.Now()
	return types.Opportunity{
		ID:                     uuid.NewString(),
		Kind:                   types.OpportunityArbitrage,
		Chain:                  key.Chain,
		Protocol:               key.Protocol,
		ExpectedReturnPct:      decimal.NewFromFloat(dto.ProfitPct),
		RiskScore:              decimal.NewFromFloat(dto.RiskScore),
		EstGasCostUSD:          decimal.Zero,
		LiquidityScore:         decimal.NewFromInt(5),
		TimeSensitivityMinutes: 15,
		DiscoveredAt:           now,
		ExpiresAt:              now.Add(10 * time.Minute),
		Arbitrage: &types.ArbitrageDetails{
			ProfitPct: decimal.NewFromFloat(dto.ProfitPct),
			Pair:      dto.Pair,
			DexPair:   [2]string{dto.DexA, dto.DexB},
		},
	}
}

// MergeExternal lets the Coordination Engine and Allocation Optimizer
// inject rebalancing/liquidity-mining candidates they derive from strategy
// state, since those two kinds are not polled directly from an adapter.
func (s *Scanner) MergeExternal(opps []types.Opportunity) {
	s.mergeInto(types.Now(), opps)
}

func (s *Scanner) mergeInto(now types.UnixNano, opps []types.Opportunity) {
	filtered := make([]types.Opportunity, 0, len(opps))
	for _, o := range opps {
		if err := o.Validate(); err != nil {
			s.logger.Debug("dropping invalid opportunity", zap.Error(err))
			continue
		}
		if !s.config.Filters.Allows(o) {
			continue
		}
		filtered = append(filtered, o)
	}

	s.mu.Lock()
	for _, o := range filtered {
		s.cache[o.ID] = cacheEntry{opportunity: o, insertedAt: now}
	}
	s.mu.Unlock()

	for _, o := range filtered {
		s.bus.Publish(events.NewOpportunityDiscoveredEvent(o))
	}
}

func (s *Scanner) evictExpired(now types.UnixNano) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.cache {
		if now.Sub(entry.insertedAt) > cacheHardCap {
			delete(s.cache, id)
		}
	}
}

func (s *Scanner) recordSuccess(kind types.OpportunityKind, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastScanAt[kind] = types.Now()
	s.stats.SuccessCount[kind]++
	s.stats.TotalFound += int64(count)
}

func (s *Scanner) recordFailure(kind types.OpportunityKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.FailureCount[kind]++
}

// Cached returns unexpired cache entries, optionally restricted to one
// kind. Non-blocking; reads do not evict (spec.md section 4.1).
func (s *Scanner) Cached(kind *types.OpportunityKind) []types.Opportunity {
	now := types.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Opportunity, 0, len(s.cache))
	for _, entry := range s.cache {
		if now.Sub(entry.insertedAt) > cacheHardCap {
			continue
		}
		if kind != nil && entry.opportunity.Kind != *kind {
			continue
		}
		out = append(out, entry.opportunity)
	}
	return out
}

// timeBonus is the ranking score's time-sensitivity term.
func timeBonus(tsm int64) decimal.Decimal {
	switch {
	case tsm < 30:
		return decimal.NewFromInt(10)
	case tsm < 60:
		return decimal.NewFromInt(5)
	default:
		return decimal.Zero
	}
}

// Score computes the deterministic, total-orderable ranking score (spec.md
// section 4.1): 0.4*return_pct + 3.0*(10-risk_score) + 0.2*liquidity_score + time_bonus.
func Score(o types.Opportunity) decimal.Decimal {
	returnTerm := o.ExpectedReturnPct.Mul(decimal.NewFromFloat(0.4))
	riskTerm := decimal.NewFromInt(10).Sub(o.RiskScore).Mul(decimal.NewFromFloat(3.0))
	liquidityTerm := o.LiquidityScore.Mul(decimal.NewFromFloat(0.2))
	return returnTerm.Add(riskTerm).Add(liquidityTerm).Add(timeBonus(o.TimeSensitivityMinutes))
}

// Top returns the cache sorted by descending composite score, ties broken
// by lower id, truncated to n entries.
func (s *Scanner) Top(n int) []types.Opportunity {
	all := s.Cached(nil)
	sort.Slice(all, func(i, j int) bool {
		si, sj := Score(all[i]), Score(all[j])
		if si.Equal(sj) {
			return all[i].ID < all[j].ID
		}
		return si.GreaterThan(sj)
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// StatsSnapshot returns a copy of the scanner's per-kind statistics.
func (s *Scanner) StatsSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Stats{
		LastScanAt:   make(map[types.OpportunityKind]types.UnixNano, len(s.stats.LastScanAt)),
		SuccessCount: make(map[types.OpportunityKind]int64, len(s.stats.SuccessCount)),
		FailureCount: make(map[types.OpportunityKind]int64, len(s.stats.FailureCount)),
		TotalFound:   s.stats.TotalFound,
	}
	for k, v := range s.stats.LastScanAt {
		out.LastScanAt[k] = v
	}
	for k, v := range s.stats.SuccessCount {
		out.SuccessCount[k] = v
	}
	for k, v := range s.stats.FailureCount {
		out.FailureCount[k] = v
	}
	return out
}
