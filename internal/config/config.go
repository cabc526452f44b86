// Package config defines engine-wide configuration. Config is loaded from a
// YAML file (default: configs/config.yaml) with sensitive fields overridable
// via ENGINE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/defrost-labs/strategy-engine/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure; each nested block mirrors a *Rules/*Limits/*Intervals type in
// pkg/types so the on-disk shape matches the in-memory one field for field.
type Config struct {
	Server        types.ServerConfig         `mapstructure:"server"`
	ScanIntervals types.ScanIntervals        `mapstructure:"scan_intervals"`
	Filters       types.Filters              `mapstructure:"filters"`
	GlobalRisk    types.GlobalRiskLimits     `mapstructure:"global_risk"`
	Coordination  types.CoordinationRules    `mapstructure:"coordination"`
	UserRisk      types.UserRiskLimits       `mapstructure:"user_risk"`
	StrategyRisk  types.StrategyRiskLimits   `mapstructure:"strategy_risk"`
	Allocation    types.AllocationRules      `mapstructure:"allocation"`
	Adapters      AdaptersConfig             `mapstructure:"adapters"`
	Logging       LoggingConfig              `mapstructure:"logging"`
}

// AdaptersConfig holds per-chain RPC endpoints consulted by the adapter
// registry's live (non-mock) implementations. Keys are ChainId strings.
type AdaptersConfig struct {
	RPCEndpoints map[string]string `mapstructure:"rpc_endpoints"`
	APIKeys      map[string]string `mapstructure:"api_keys"`
}

// LoggingConfig controls the zap logger built by Load's caller.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the spec-mandated defaults for every nested block, so a
// caller can start from this and only override what config.yaml specifies.
func Default() Config {
	return Config{
		Server:        types.DefaultServerConfig(),
		ScanIntervals: types.DefaultScanIntervals(),
		GlobalRisk:    types.DefaultGlobalRiskLimits(),
		Coordination:  types.DefaultCoordinationRules(),
		UserRisk:      types.DefaultUserRiskLimits(),
		StrategyRisk:  types.DefaultStrategyRiskLimits(),
		Allocation:    types.DefaultAllocationRules(),
		Adapters:      AdaptersConfig{RPCEndpoints: map[string]string{}, APIKeys: map[string]string{}},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads config from a YAML file with env var overrides, falling back to
// Default()'s values for anything the file and environment leave unset. A
// missing file at path is not an error: the engine then runs on Default()
// plus the per-chain ENGINE_RPC_*/ENGINE_APIKEY_* variables; other ENGINE_*
// variables are only consulted when a config file was read.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	} else if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.TextUnmarshallerHookFunc())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for chain, key := range loadEnvMap("ENGINE_RPC_") {
		cfg.Adapters.RPCEndpoints[chain] = key
	}
	for chain, key := range loadEnvMap("ENGINE_APIKEY_") {
		cfg.Adapters.APIKeys[chain] = key
	}

	return &cfg, nil
}

// loadEnvMap collects <prefix><CHAIN>=value environment variables
// into a lowercased chain-id keyed map, letting operators set per-chain RPC
// endpoints and API keys without editing the YAML file.
func loadEnvMap(prefix string) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		chain := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		out[chain] = parts[1]
	}
	return out
}

// Validate checks invariants that the nested *Rules/*Limits types don't
// already enforce themselves at construction time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.ScanIntervals.YieldFarmingSeconds <= 0 {
		return fmt.Errorf("scan_intervals.yield_farming_seconds must be > 0")
	}
	if c.GlobalRisk.MaxSingleExecutionUSD.IsZero() {
		return fmt.Errorf("global_risk.max_single_execution_usd must be > 0")
	}
	if c.Allocation.MinDepositUSD.IsNegative() {
		return fmt.Errorf("allocation.min_deposit_usd must be >= 0")
	}
	return nil
}
