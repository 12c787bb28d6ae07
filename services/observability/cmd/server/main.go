package main

import (
	"context"
	"fmt"
	"os"

	"github.com/instantcocoa/naxos/pkg/cache"
	"github.com/instantcocoa/naxos/pkg/config"
	"github.com/instantcocoa/naxos/pkg/httputil"
	"github.com/instantcocoa/naxos/pkg/telemetry"
	"github.com/instantcocoa/naxos/services/observability"
)

const serviceName = "observability"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     serviceName,
		ServiceVersion:  cfg.Version,
		Environment:     cfg.Environment,
		OTLPEndpoint:    cfg.OTLPEndpoint,
		TracingEnabled:  cfg.TracingEnabled,
		TracingSampling: cfg.TracingSampling,
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tp.Shutdown(ctx)

	logger := tp.Logger()

	// Initialize stores, scoring, and service
	store := observability.NewMemoryStore()
	scores := observability.NewMemoryScoreStore()

	registry := observability.NewScorerRegistry()
	registry.Register(observability.ErrorRateScorer{})

	trigger := observability.NewScoringTrigger(store, scores, registry, logger)
	trigger.Timeout = cfg.ScoringTimeout

	svc := observability.NewService(store, scores, trigger, logger)

	if cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = cfg.RedisAddr
		client, err := cache.Connect(ctx, cacheCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer client.Close()
		svc.UseCache(client.WithLogger(logger).WithKeyPrefix(serviceName), cfg.CacheTTL)
		logger.Info("trace cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	serverCfg := httputil.DefaultServerConfig(cfg.HTTPPort, serviceName)
	serverCfg.TracingEnabled = cfg.TracingEnabled
	server := httputil.NewServer(serverCfg, logger)

	handler := observability.NewHandler(svc, logger)
	handler.Register(server.Router())

	logger.Info("starting observability service", "port", cfg.HTTPPort, "env", cfg.Environment)

	return server.Run(ctx)
}
