// Command acorled runs the gateway: HTTP front, shared registry, store
// reconciliation, and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"acorle/config"
	"acorle/gateway"
	"acorle/middleware"
	"acorle/registry"
	"acorle/server"
	"acorle/store"
	"acorle/syncer"
	"acorle/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway exited", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	var st store.Store
	if len(cfg.Etcd.Endpoints) != 0 {
		etcd, err := store.NewEtcd(cfg.Etcd.Endpoints)
		if err != nil {
			return fmt.Errorf("connecting to etcd: %w", err)
		}
		defer etcd.Close()
		st = etcd
		logger.Info("using etcd store", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	} else {
		st = store.NewMemory()
		logger.Warn("no etcd endpoints configured, using in-memory store")
	}

	reg := registry.New()
	gw := gateway.New(reg, st, transport.NewClient(cfg.UserAgent), logger, gateway.Options{
		DefaultWeight:     cfg.DefaultWeight,
		AntiReplaySeconds: cfg.AntiReplaySeconds,
	})

	middlewares := []middleware.Middleware{middleware.Recovery(logger)}
	if cfg.RateLimit.Enabled {
		middlewares = append(middlewares, middleware.RateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst))
	}
	middlewares = append(middlewares, middleware.Logging(logger))

	srv := server.New(gw, logger, server.Options{
		Addr:             cfg.Listen,
		MaxBodyBytes:     cfg.MaxBodyBytes,
		EnableStatistics: cfg.EnableStatistics,
		Middlewares:      middlewares,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sync := syncer.New(st, reg, time.Duration(cfg.SyncIntervalSeconds)*time.Second, logger)
	go sync.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("gateway listening", zap.String("addr", cfg.Listen))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
