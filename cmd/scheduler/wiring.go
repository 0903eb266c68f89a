package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/byrde/scheduler/internal/config"
	"github.com/byrde/scheduler/internal/logx"
	"github.com/byrde/scheduler/internal/store"
)

// app bundles the shared resources every subcommand that touches the
// database needs. Callers must call close() when done.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	pool  *pgxpool.Pool
	store *store.Store
	rdb   *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logx.New(cfg.AppEnv)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = int32(cfg.MaxThreads + 2)
	poolCfg.ConnConfig.ConnectTimeout = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	return &app{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		store: store.New(pool),
		rdb:   rdb,
	}, nil
}

// close releases every resource newApp acquired, aggregating whatever
// fails along the way rather than stopping at the first error — a
// closed Redis client shouldn't stop the pool or the log sync from
// running too.
func (a *app) close() error {
	var err error
	err = multierr.Append(err, a.rdb.Close())
	a.pool.Close()
	err = multierr.Append(err, a.log.Sync())
	return err
}
