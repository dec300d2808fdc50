package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/crud"
	"github.com/pitabwire/dastyar/internal/definition"
	"github.com/pitabwire/dastyar/internal/jobs"
	"github.com/pitabwire/dastyar/internal/lookup"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/internal/transport"
	"github.com/pitabwire/dastyar/model"
)

// jobTable is the store table of submitted jobs. No definition declares it.
const jobTable = "n8n_job"

// loadDefinitions reads and validates every definition directory. All
// validation problems are reported together.
func loadDefinitions(cfg *config.Config) ([]model.EntityDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		return nil, err
	}
	verrs := definition.NewValidator([]string{lookup.SourceClients}, []string{jobTable}).Validate(defs)
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, fmt.Errorf("%d definition errors: %s", len(verrs), strings.Join(msgs, "; "))
	}
	return defs, nil
}

// openStore connects the PostgreSQL store, or an in-memory store when no
// database URL is configured. pg is nil for the memory store.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (st store.Store, pg *store.PGStore, err error) {
	if cfg.Database.URL == "" {
		logger.Warn("database url not configured, using in-memory store")
		return store.NewMemoryStore(), nil, nil
	}

	pg, err = store.NewPGStore(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return pg, pg, nil
}

// openRedis returns a client for the configured Redis, or nil when none is
// configured.
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func redisCheck(client *redis.Client) observability.HealthChecker {
	return observability.CheckFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// openBroker builds the job update broker selected by jobs.broker. The
// returned run function, when not nil, must be started to receive
// updates.
func openBroker(
	cfg *config.Config,
	pg *store.PGStore,
	rdb *redis.Client,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (broker jobs.Broker, run func(context.Context) error, check observability.HealthChecker, err error) {
	switch cfg.Jobs.Broker {
	case "memory", "":
		return jobs.NewMemoryBroker(logger, metrics), nil, nil, nil
	case "redis":
		if rdb == nil {
			return nil, nil, nil, errors.New("redis job broker: redis.addr not configured")
		}
		return jobs.NewRedisBroker(rdb, cfg.Jobs.Channel, logger, metrics), nil, redisCheck(rdb), nil
	case "postgres":
		if pg == nil {
			return nil, nil, nil, errors.New("postgres job broker: database.url not configured")
		}
		listener := jobs.NewPQListener(cfg.Database.URL, logger)
		b := jobs.NewPGBroker(pg, listener, cfg.Jobs.Channel, logger, metrics)
		return b, b.Run, observability.CheckFunc(func(context.Context) error { return listener.Ping() }), nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported job broker %q", cfg.Jobs.Broker)
	}
}

// openIdempotency returns the idempotency store, or nil when disabled.
func openIdempotency(cfg config.IdempotencyConfig, rdb *redis.Client, logger *zap.Logger) (crud.IdempotencyStore, observability.HealthChecker, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return crud.NewMemoryIdempotencyStore(), nil, nil
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("redis idempotency store: redis.addr not configured")
		}
		return crud.NewRedisIdempotencyStore(rdb), redisCheck(rdb), nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver %q", cfg.Driver)
	}
}

// openDenylist keeps revoked tokens in Redis when available, so logouts
// hold across replicas.
func openDenylist(rdb *redis.Client) transport.Denylist {
	if rdb != nil {
		return transport.NewRedisDenylist(rdb)
	}
	return transport.NewMemoryDenylist()
}
