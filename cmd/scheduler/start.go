package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/byrde/scheduler/internal/api"
	"github.com/byrde/scheduler/internal/broker/redispublisher"
	"github.com/byrde/scheduler/internal/broker/redissubscriber"
	"github.com/byrde/scheduler/internal/ingress"
	"github.com/byrde/scheduler/internal/pipeline"
	"github.com/byrde/scheduler/internal/polling"
	"github.com/byrde/scheduler/internal/registry"
	"github.com/byrde/scheduler/internal/shard"
	"github.com/byrde/scheduler/internal/store"
)

const scheduleChannel = "scheduler:schedule-requests"

func runStart(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil {
			a.log.Error("close failed", zap.Error(cerr))
		}
	}()

	if err := store.Migrate(a.cfg.DatabaseURL); err != nil {
		return err
	}

	reg := registry.New(a.store)
	submit := func(ctx context.Context, body []byte) (string, string, error) {
		req, err := ingress.DecodeRequest(body)
		if err != nil {
			return "", "", err
		}
		return reg.Submit(ctx, req)
	}

	publisher := redispublisher.New(a.rdb)
	leaseTimeout := time.Duration(a.cfg.LeaseTimeoutSeconds) * time.Second
	pipelineCfg := pipeline.DefaultConfig(leaseTimeout)
	pl := pipeline.New(a.store, publisher, pipelineCfg, a.log)

	router := shard.New(a.cfg.ShardCount)
	workerID, err := workerIdentity()
	if err != nil {
		return err
	}

	loop := polling.New(a.store, router, pl, polling.Config{
		WorkerID:        workerID,
		PollingInterval: time.Duration(a.cfg.PollingIntervalSeconds) * time.Second,
		BatchSize:       a.cfg.MaxThreads * 3,
		MaxThreads:      a.cfg.MaxThreads,
		LeaseTimeout:    leaseTimeout,
	}, a.log)

	httpServer := &http.Server{
		Addr:    ":" + a.cfg.APIPort,
		Handler: api.NewRouter(api.SubmitFunc(submit), a.store, pipelineCfg.PoisonThreshold, a.cfg.APIUsername, a.cfg.APIPassword, a.log),
	}

	sub := redissubscriber.New(a.rdb, scheduleChannel, func(ctx context.Context, body []byte) error {
		_, _, err := submit(ctx, body)
		return err
	}, a.log)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		loop.Run(gctx)
		return nil
	})

	group.Go(func() error {
		if err := refreshShardRouter(gctx, a.store, router, a.log); err != nil {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return sub.Run(gctx)
	})

	group.Go(func() error {
		ln, err := net.Listen("tcp", httpServer.Addr)
		if err != nil {
			return err
		}
		a.log.Info("http server listening", zap.String("addr", httpServer.Addr))
		errCh := make(chan error, 1)
		go func() { errCh <- httpServer.Serve(ln) }()
		select {
		case <-gctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		}
	})

	err = group.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// refreshShardRouter refreshes the Shard Router's worker-set view every
// 30s from the worker_heartbeats table.
func refreshShardRouter(ctx context.Context, st *store.Store, router *shard.Router, log *zap.Logger) error {
	const interval = 30 * time.Second
	const staleAfter = 2 * interval

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		workers, err := st.ListActiveWorkers(ctx, time.Now().UTC(), staleAfter)
		if err != nil {
			log.Error("shard router refresh failed", zap.Error(err))
		} else {
			router.SetWorkers(workers)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
