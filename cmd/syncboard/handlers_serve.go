package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mitmirani09/syncboard/internal/api"
	"github.com/mitmirani09/syncboard/internal/compaction"
	"github.com/mitmirani09/syncboard/internal/config"
	"github.com/mitmirani09/syncboard/internal/db"
	"github.com/mitmirani09/syncboard/internal/discovery"
	"github.com/mitmirani09/syncboard/internal/metrics"
	"github.com/mitmirani09/syncboard/internal/ratelimit"
	"github.com/mitmirani09/syncboard/internal/ws"
)

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	logger.Info("starting syncboard", "version", version, "driver", cfg.Storage.Driver, "addr", cfg.Server.Addr())

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	m := metrics.New()

	hub := ws.NewHub(ws.Config{
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		MessageBurst:      cfg.RateLimit.MessageBurst,
		SendBuffer:        cfg.Server.SendBuffer,
	}, logger, m)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	compactor := compaction.New(store, compaction.Config{
		Interval:  cfg.Compaction.Interval,
		Threshold: cfg.Compaction.Threshold,
	}, logger, m)
	if cfg.Compaction.Enabled {
		compactor.Start()
		defer compactor.Stop()
	}

	limiters := ratelimit.NewClientLimiters(cfg.RateLimit.CommitsPerSecond, cfg.RateLimit.CommitBurst)
	defer limiters.Stop()

	if cfg.Discovery.Enabled {
		advertiser, err := discovery.Advertise(cfg.Discovery.Instance, cfg.Server.Port, logger)
		if err != nil {
			logger.Warn("mDNS advertisement unavailable", "error", err)
		} else {
			defer advertiser.Shutdown()
		}
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.New(hub, store, compactor, limiters, logger, m).Router(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		stopHub()
		<-hubDone
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	// Closing the hub drops the hijacked WebSocket sessions.
	stopHub()
	<-hubDone
	return nil
}

func openStore(cfg config.StorageConfig) (db.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return db.NewMemoryStore(), nil
	case config.DriverPostgres:
		pgConfig := db.DefaultPostgresConfig()
		pgConfig.MaxOpenConns = cfg.MaxConnections
		if pgConfig.MaxIdleConns > cfg.MaxConnections {
			pgConfig.MaxIdleConns = cfg.MaxConnections
		}
		store, err := db.NewPostgresStore(cfg.DSN, pgConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		store, err := db.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
