package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peerescrow/config"
	"peerescrow/observability/logging"
	telemetry "peerescrow/observability/otel"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to node configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service: "escrowd",
		Env:     cfg.Node.Environment,
		Level:   cfg.Node.LogLevel,
	})

	otelCfg := telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Node.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
	otelCfg.ApplyEnv()
	shutdownTelemetry, err := telemetry.Init(context.Background(), otelCfg)
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := newNode(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start escrow node", "error", err)
		os.Exit(1)
	}
	defer node.Close()

	srv := &http.Server{
		Addr:              cfg.Node.ListenAddress,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("escrow API listening",
			"addr", cfg.Node.ListenAddress,
			"storage", cfg.Node.StorageBackend,
			"faucet", cfg.Node.DevFaucet)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("escrow API server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	grace := time.Duration(cfg.Node.ShutdownSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("escrow node stopped")
}
