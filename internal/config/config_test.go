package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/defrost-labs/strategy-engine/internal/config"
)

func TestLoadFallsBackToDefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.Server.Port == 0 {
		t.Fatal("expected default server port to be set")
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("server:\n  port: 9999\nscan_intervals:\n  arbitrage_seconds: 10\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected overridden port 9999, got %d", cfg.Server.Port)
	}
	if cfg.ScanIntervals.ArbitrageSeconds != 10 {
		t.Fatalf("expected overridden arbitrage interval 10, got %d", cfg.ScanIntervals.ArbitrageSeconds)
	}
}

func TestLoadAppliesPerChainEnvOverrides(t *testing.T) {
	t.Setenv("ENGINE_RPC_ETHEREUM", "https://example.invalid/rpc")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Adapters.RPCEndpoints["ethereum"] != "https://example.invalid/rpc" {
		t.Fatalf("expected ethereum rpc endpoint override, got %q", cfg.Adapters.RPCEndpoints["ethereum"])
	}
}
