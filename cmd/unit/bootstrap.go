package main

import (
	"context"
	"fmt"

	"github.com/avast/labmanager-unit-vsphere/internal/cache"
	"github.com/avast/labmanager-unit-vsphere/internal/capabilities"
	"github.com/avast/labmanager-unit-vsphere/internal/config"
	"github.com/avast/labmanager-unit-vsphere/internal/hypervisor"
	"github.com/avast/labmanager-unit-vsphere/internal/logging"
	"github.com/avast/labmanager-unit-vsphere/internal/metrics"
	"github.com/avast/labmanager-unit-vsphere/internal/observability"
	"github.com/avast/labmanager-unit-vsphere/internal/queue"
	"github.com/avast/labmanager-unit-vsphere/internal/store"
	"github.com/redis/go-redis/v9"
)

// loadConfig layers coded defaults, --config (if given), and UNIT_* env
// overrides, in that priority order — the same three-layer shape
// LoadForEnv uses for the base/{env}.yaml pair, simplified to a single
// optional file for this CLI.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

// initObservability wires structured logging, tracing, and metrics from
// cfg. The returned shutdown func flushes the tracer provider and must
// run before the process exits.
func initObservability(ctx context.Context, cfg *config.Config) (shutdown func(), err error) {
	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	return func() { _ = observability.Shutdown(context.Background()) }, nil
}

// openRunner connects to Postgres, ensures the documents schema exists,
// and wraps it as a store.Runner. The returned closer releases the pool.
func openRunner(ctx context.Context, cfg *config.Config) (*store.TxRunner, func(), error) {
	st, err := store.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store.NewTxRunner(st.Database), func() { st.Database.Close() }, nil
}

// buildNotifier returns a Redis-backed Notifier when cfg.Redis is
// enabled (the form multi-process deployments need, since a worker
// binary and the HTTP intake process don't share memory), a
// ChannelNotifier for single-process standalone runs otherwise, and a
// NoopNotifier when neither applies (workers then fall back to polling).
func buildNotifier(cfg *config.Config, standalone bool) queue.Notifier {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		return queue.NewRedisNotifier(client)
	}
	if standalone {
		return queue.NewChannelNotifier()
	}
	return queue.NewNoopNotifier()
}

// buildCacheBackend returns a Redis-backed cache.Cache to mirror the
// Capabilities Cache snapshot across processes, or nil when Redis is
// disabled (the snapshot then lives only in the owning process's
// memory, which is fine for a single combined `serve` process).
func buildCacheBackend(cfg *config.Config) cache.Cache {
	if !cfg.Redis.Enabled {
		return nil
	}
	return cache.NewRedisCache(cache.RedisCacheConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, KeyPrefix: "unit:cache:"})
}

// buildCapabilities wires the Capabilities Cache the HTTP intake uses
// for deploy admission.
func buildCapabilities(cfg *config.Config, runner *store.TxRunner) *capabilities.Cache {
	return &capabilities.Cache{
		Runner:                  runner,
		Backend:                 buildCacheBackend(cfg),
		HostsFolderName:         cfg.Ticketing.HostsFolderName,
		SlotLimit:               cfg.Capabilities.SlotLimit,
		AllowedTemplates:        cfg.Labels.AllowedTemplates,
		CachingPeriod:           cfg.Capabilities.CachingPeriod,
		CachingEnabledThreshold: cfg.Capabilities.CachingEnabledThreshold,
	}
}

// buildAdapter returns the Hypervisor Adapter every worker/obtainer
// dispatches against. Only an in-memory fake ships by default — wiring
// a real vCenter client is a configuration-time extension, not
// something this command needs to decide.
func buildAdapter() hypervisor.Adapter {
	return hypervisor.NewFakeAdapter(nil)
}
