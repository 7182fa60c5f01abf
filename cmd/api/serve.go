package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"parley/api/internal/app"
	"parley/api/internal/metrics"
	"parley/api/internal/realtime"
)

func serveRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := commonRun()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tenantSet, err := buildTenants(cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := tenantSet.Close(); err != nil {
			logger.Warn("Closing tenant handles", zap.Error(err))
		}
	}()
	if cfg.WatchTenants {
		tenantSet.watch(ctx, logger)
	}

	hub := realtime.NewHub(cfg.FanoutBuffer, logger.Named("fanout"), m)
	defer hub.Close()

	service := app.NewService(tenantSet.manager, hub, logger.Named("service"), m)
	httpServer := app.NewHTTPServer(app.ServerOptions{
		Service:        service,
		Hub:            hub,
		Tenants:        tenantSet.manager,
		JWTSecret:      []byte(cfg.JWTSecret),
		CORSOrigin:     cfg.CORSOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger.Named("http"),
		Metrics:        m,
		Gatherer:       reg,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Parley API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown error", zap.Error(err))
	}
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE:  serveRun,
	}
}
