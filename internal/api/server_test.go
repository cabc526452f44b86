package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/defrost-labs/strategy-engine/internal/api"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	store := statestore.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)

	config := types.DefaultServerConfig()
	srv := api.NewServer(zap.NewNop(), &config, api.Deps{Store: store})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func strategyConfigBody() []byte {
	cfg := types.StrategyConfig{
		Name:                     "test strategy",
		Kind:                     types.StrategyKind{Tag: types.StrategyKindYieldFarming, MinAPYThreshold: decimal.NewFromInt(5)},
		TargetChains:             []types.ChainId{types.ChainEthereum},
		TargetProtocols:          []types.Protocol{types.ProtocolAave},
		RiskLevel:                3,
		MaxAllocationUSD:         decimal.NewFromInt(100_000),
		ExecutionIntervalMinutes: 60,
	}
	body, _ := json.Marshal(map[string]interface{}{"userId": "user-1", "config": cfg})
	return body
}

func TestCreateAndGetStrategy(t *testing.T) {
	_, ts := setupTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/strategies", "application/json", bytes.NewReader(strategyConfigBody()))
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created types.ActiveStrategy
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created strategy: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a strategy id")
	}

	getResp, err := http.Get(ts.URL + "/api/v1/strategies/" + created.ID)
	if err != nil {
		t.Fatalf("get strategy: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestGetUnknownStrategyReturnsNotFound(t *testing.T) {
	_, ts := setupTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/strategies/does-not-exist")
	if err != nil {
		t.Fatalf("get strategy: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActivateLifecycle(t *testing.T) {
	_, ts := setupTestServer(t)

	createResp, err := http.Post(ts.URL+"/api/v1/strategies", "application/json", bytes.NewReader(strategyConfigBody()))
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	defer createResp.Body.Close()
	var created types.ActiveStrategy
	json.NewDecoder(createResp.Body).Decode(&created)

	activateBody, _ := json.Marshal(map[string]string{"capitalUsd": "1000"})
	activateResp, err := http.Post(ts.URL+"/api/v1/strategies/"+created.ID+"/activate", "application/json", bytes.NewReader(activateBody))
	if err != nil {
		t.Fatalf("activate strategy: %v", err)
	}
	defer activateResp.Body.Close()
	if activateResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", activateResp.StatusCode)
	}

	pauseResp, err := http.Post(ts.URL+"/api/v1/strategies/"+created.ID+"/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("pause strategy: %v", err)
	}
	defer pauseResp.Body.Close()
	if pauseResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", pauseResp.StatusCode)
	}
}

func TestOpportunitiesWithoutScannerReturnsEmpty(t *testing.T) {
	_, ts := setupTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/opportunities")
	if err != nil {
		t.Fatalf("get opportunities: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["count"].(float64) != 0 {
		t.Fatalf("expected zero opportunities without a scanner, got %v", body["count"])
	}
}

func TestAllocationPlanWithoutAllocatorIsUnavailable(t *testing.T) {
	_, ts := setupTestServer(t)
	resp, err := http.Post(ts.URL+"/api/v1/allocation/plan", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("allocation plan: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
