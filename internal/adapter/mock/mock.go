// Package mock provides deterministic, in-memory test doubles for the
// adapter capability interfaces. Per spec.md section 9 ("mock vs real
// execution"), any mock belongs outside the core; this package is the one
// place that lives.
package mock

import (
	"context"
	"sync"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// ProtocolAdapter is a deterministic, configurable ProtocolAdapter double.
// Tests populate its fields directly; zero value returns empty/zero results.
type ProtocolAdapter struct {
	mu sync.Mutex

	YieldOpportunities    []adapter.YieldOpportunityDTO
	ArbitrageOpportunities []adapter.ArbitrageOpportunityDTO
	GasEstimateUSD        float64
	TVLUSD                float64
	APYPct                float64

	SubmitFails   bool
	SubmittedTxs  []string
	ReceiptSuccess bool
}

// NewProtocolAdapter builds an empty mock adapter.
func NewProtocolAdapter() *ProtocolAdapter {
	return &ProtocolAdapter{ReceiptSuccess: true}
}

func (m *ProtocolAdapter) GetYieldOpportunities(ctx context.Context) ([]adapter.YieldOpportunityDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.YieldOpportunityDTO(nil), m.YieldOpportunities...), nil
}

func (m *ProtocolAdapter) GetArbitrageOpportunities(ctx context.Context) ([]adapter.ArbitrageOpportunityDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.ArbitrageOpportunityDTO(nil), m.ArbitrageOpportunities...), nil
}

func (m *ProtocolAdapter) EstimateGas(ctx context.Context, kind adapter.ActionKind, amountUSD float64) (float64, error) {
	return m.GasEstimateUSD, nil
}

func (m *ProtocolAdapter) Submit(ctx context.Context, chain types.ChainId, signedTx []byte, clientNonce string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitFails {
		return "", errSubmitFailed
	}
	for _, tx := range m.SubmittedTxs {
		if tx == clientNonce {
			return "0xmock-" + tx, nil
		}
	}
	m.SubmittedTxs = append(m.SubmittedTxs, clientNonce)
	return "0xmock-" + clientNonce, nil
}

func (m *ProtocolAdapter) AwaitReceipt(ctx context.Context, chain types.ChainId, txHash string, deadline types.UnixNano) (adapter.Receipt, error) {
	return adapter.Receipt{Success: m.ReceiptSuccess, GasUsedUSD: m.GasEstimateUSD, BlockNumber: 1}, nil
}

func (m *ProtocolAdapter) GetTVL(ctx context.Context, pool string) (float64, error) {
	return m.TVLUSD, nil
}

func (m *ProtocolAdapter) GetAPY(ctx context.Context, pool string) (float64, error) {
	return m.APYPct, nil
}

var errSubmitFailed = &mockError{"mock adapter: submit failed"}

type mockError struct{ msg string }

func (e *mockError) Error() string { return e.msg }

// PriceFeed is a deterministic PriceFeed double keyed by asset.
type PriceFeed struct {
	mu     sync.Mutex
	Prices map[types.AssetKey]adapter.Price
}

// NewPriceFeed builds an empty mock price feed.
func NewPriceFeed() *PriceFeed {
	return &PriceFeed{Prices: make(map[types.AssetKey]adapter.Price)}
}

// Set installs a fixed price for an asset, for use by tests.
func (p *PriceFeed) Set(asset types.AssetKey, price adapter.Price) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prices[asset] = price
}

func (p *PriceFeed) Get(ctx context.Context, asset types.AssetKey) (adapter.Price, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.Prices[asset]
	if !ok {
		return adapter.Price{}, &mockError{"mock price feed: no price for " + asset.Symbol}
	}
	return price, nil
}

func (p *PriceFeed) GetAggregated(ctx context.Context, asset types.AssetKey) (adapter.AggregatedPrice, error) {
	price, err := p.Get(ctx, asset)
	if err != nil {
		return adapter.AggregatedPrice{}, err
	}
	return adapter.AggregatedPrice{Mean: price.ValueUSD, StdDev: 0, SourcePrices: []adapter.Price{price}}, nil
}

func (p *PriceFeed) History(ctx context.Context, asset types.AssetKey, tf adapter.Timeframe) ([]adapter.HistoricalPrice, error) {
	price, err := p.Get(ctx, asset)
	if err != nil {
		return nil, err
	}
	return []adapter.HistoricalPrice{{Ts: tf.To, Value: price.ValueUSD}}, nil
}

// StateStore is an in-memory StateStore double with last-writer-wins
// semantics, matching the real capability's contract.
type StateStore struct {
	mu         sync.Mutex
	strategies map[string]*types.ActiveStrategy
	byUser     map[string][]string
}

// NewStateStore builds an empty mock state store.
func NewStateStore() *StateStore {
	return &StateStore{strategies: make(map[string]*types.ActiveStrategy), byUser: make(map[string][]string)}
}

func (s *StateStore) LoadStrategy(ctx context.Context, id string) (*types.ActiveStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	return strat, nil
}

func (s *StateStore) SaveStrategy(ctx context.Context, strat *types.ActiveStrategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.strategies[strat.ID]; !exists {
		s.byUser[strat.UserID] = append(s.byUser[strat.UserID], strat.ID)
	}
	s.strategies[strat.ID] = strat
	return nil
}

func (s *StateStore) LoadUserStrategies(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.byUser[userID]...), nil
}
