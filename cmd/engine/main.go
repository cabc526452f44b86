// Package main provides the entry point for the strategy engine: it wires
// the adapter registry, state store, scanner, execution engine, risk
// manager, coordination engine, allocation optimizer, performance tracker,
// event bus, metrics registry, and API server, then runs the scheduler loop
// until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/defrost-labs/strategy-engine/internal/adapter"
	"github.com/defrost-labs/strategy-engine/internal/adapter/mock"
	"github.com/defrost-labs/strategy-engine/internal/allocation"
	"github.com/defrost-labs/strategy-engine/internal/api"
	"github.com/defrost-labs/strategy-engine/internal/config"
	"github.com/defrost-labs/strategy-engine/internal/coordination"
	"github.com/defrost-labs/strategy-engine/internal/events"
	"github.com/defrost-labs/strategy-engine/internal/execution"
	"github.com/defrost-labs/strategy-engine/internal/metrics"
	"github.com/defrost-labs/strategy-engine/internal/performance"
	"github.com/defrost-labs/strategy-engine/internal/risk"
	"github.com/defrost-labs/strategy-engine/internal/scanner"
	"github.com/defrost-labs/strategy-engine/internal/statestore"
	"github.com/defrost-labs/strategy-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	useMockAdapters := flag.Bool("mock-adapters", true, "Register deterministic mock protocol adapters instead of live ones")
	flag.Parse()

	// A .env file is optional; real deployments set ENGINE_* env vars
	// directly and viper picks them up in config.Load.
	_ = godotenv.Load()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("starting strategy engine",
		zap.String("configPath", *configPath),
		zap.Int("apiPort", cfg.Server.Port),
		zap.Bool("mockAdapters", *useMockAdapters))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewEventBus(logger, events.DefaultConfig())
	bus.Start()

	store := statestore.New(logger)
	go store.Run(ctx)

	registry := adapter.NewRegistry()
	if *useMockAdapters {
		registerMockAdapters(registry)
	}

	metricsReg := metrics.New(logger)

	scan := scanner.New(logger, registry, bus, scanner.Config{Intervals: cfg.ScanIntervals, Filters: cfg.Filters})
	scan.Start()

	safety := execution.NewSafetyController(execution.SafetyConfig{
		MaxSingleExecutionUSD: cfg.GlobalRisk.MaxSingleExecutionUSD,
		MaxDailyVolumeUSD:     cfg.GlobalRisk.MaxDailyVolumeUSD,
	})
	engine := execution.New(logger, registry, bus, safety)

	riskConfig := risk.DefaultConfig()
	riskConfig.Global = cfg.GlobalRisk
	riskConfig.User = cfg.UserRisk
	riskConfig.Strategy = cfg.StrategyRisk
	riskManager := risk.New(logger, riskConfig, store, bus)

	coordinator := coordination.New(logger, store, bus, cfg.Coordination)
	coordinator.Start()

	allocator := allocation.New(cfg.Allocation)
	perf := performance.New(logger, store)

	server := api.NewServer(logger, &cfg.Server, api.Deps{
		Store:       store,
		Scanner:     scan,
		Allocator:   allocator,
		RiskManager: riskManager,
		Coordinator: coordinator,
		Performance: perf,
		Bus:         bus,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Server.EnableMetrics {
		go func() {
			if err := metricsReg.Serve(ctx, cfg.Server.MetricsPort); err != nil {
				logger.Error("metrics listener error", zap.Error(err))
			}
		}()
	}

	go runScheduler(ctx, logger, scan, engine, coordinator, store, metricsReg, riskManager, perf, allocator)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	logger.Info("strategy engine started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)))

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	scan.Stop()
	if err := coordinator.Stop(); err != nil {
		logger.Error("error stopping coordination engine", zap.Error(err))
	}
	bus.Stop(10 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	logger.Info("strategy engine stopped")
}

// runScheduler drives the scan -> coordinate -> risk-gate -> execute -> record
// loop every tick, since the scanner and coordination engine only expose a
// single pass each (Scan, RunPass) rather than owning their own ticker. Every
// execution result flows into the Performance Tracker and back through the
// Risk Manager's post-execution gate, and the allocation optimizer is
// re-invoked for any strategy whose rebalance interval has elapsed.
func runScheduler(ctx context.Context, logger *zap.Logger, scan *scanner.Scanner, engine *execution.Engine, coordinator *coordination.Engine, store *statestore.Store, metricsReg *metrics.Registry, riskManager *risk.Manager, perf *performance.Tracker, allocator *allocation.Optimizer) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opps := scan.Scan(ctx)
			metricsReg.EventBusQueueDepth.Set(float64(len(opps)))

			if err := coordinator.RunPass(ctx); err != nil {
				logger.Warn("coordination pass failed", zap.Error(err))
			}

			strategies := store.ListAll(ctx)
			userTotals := make(map[string]decimal.Decimal)
			for _, s := range strategies {
				userTotals[s.UserID] = userTotals[s.UserID].Add(s.AllocatedCapitalUSD)
			}

			for _, strat := range strategies {
				if strat.Status != types.StrategyStatusActive {
					continue
				}

				rebalanceIfDue(ctx, logger, store, allocator, scan, strat, opps)

				for _, opp := range opps {
					if riskManager != nil {
						if err := riskManager.CheckPreExecution(ctx, strat, opp, userTotals[strat.UserID]); err != nil {
							logger.Debug("execution rejected by risk manager", zap.String("strategyId", strat.ID), zap.Error(err))
							continue
						}
					}

					result, err := engine.Execute(ctx, &strat, opp)
					if result.ExecutionID != "" && perf != nil {
						if recErr := perf.RecordExecution(ctx, opp, result); recErr != nil {
							logger.Warn("failed to record execution", zap.String("strategyId", strat.ID), zap.Error(recErr))
						}
						if riskManager != nil {
							if updated, ok := store.Get(ctx, strat.ID); ok {
								if postErr := riskManager.CheckPostExecution(ctx, &updated); postErr != nil {
									logger.Warn("post-execution emergency stop", zap.String("strategyId", strat.ID), zap.Error(postErr))
								}
							}
						}
					}
					if err != nil {
						logger.Debug("execution skipped", zap.String("strategyId", strat.ID), zap.Error(err))
					}
				}
			}
		}
	}
}

// rebalanceIfDue re-invokes the allocation optimizer for strat once its
// rebalance interval has elapsed, mirroring the initial placement run at
// activation (spec.md section 4.5, "invoked on strategy activation and
// scheduled rebalances").
func rebalanceIfDue(ctx context.Context, logger *zap.Logger, store *statestore.Store, allocator *allocation.Optimizer, scan *scanner.Scanner, strat types.ActiveStrategy, candidates []types.Opportunity) {
	if allocator == nil {
		return
	}
	now := types.Now()
	if strat.LastRebalanceTS != nil && now.Sub(*strat.LastRebalanceTS) < scan.RebalanceInterval() {
		return
	}

	plan := allocator.Build(strat.AllocatedCapitalUSD, candidates)
	if err := store.Apply(ctx, strat.ID, func(s *types.ActiveStrategy) error {
		ts := now
		s.LastRebalanceTS = &ts
		return nil
	}); err != nil {
		logger.Warn("failed to stamp rebalance timestamp", zap.String("strategyId", strat.ID), zap.Error(err))
		return
	}
	logger.Info("allocation optimizer re-run for scheduled rebalance",
		zap.String("strategyId", strat.ID),
		zap.Int("acceptedAllocations", len(plan.Allocations)),
		zap.String("totalAllocatedUsd", plan.TotalAllocatedUSD.String()))
}

// registerMockAdapters wires a deterministic mock ProtocolAdapter for a fixed
// set of three chain/protocol pairs (Ethereum/Aave, Arbitrum/Aave,
// Polygon/UniswapV3), so the engine can run end-to-end without live RPC
// credentials. No other pair gets an adapter.
func registerMockAdapters(registry *adapter.Registry) {
	pairs := []struct {
		chain    types.ChainId
		protocol types.Protocol
	}{
		{types.ChainEthereum, types.ProtocolAave},
		{types.ChainArbitrum, types.ProtocolAave},
		{types.ChainPolygon, types.ProtocolUniswapV3},
	}
	for _, p := range pairs {
		registry.Register(p.chain, p.protocol, mock.NewProtocolAdapter())
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
