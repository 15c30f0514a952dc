package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WillKirkmanM/proxy/internal/config"
	"github.com/WillKirkmanM/proxy/internal/logging"
	"github.com/WillKirkmanM/proxy/internal/metrics"
	"github.com/WillKirkmanM/proxy/internal/proxy"
	"github.com/WillKirkmanM/proxy/internal/tracing"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatal(err)
	}
	cfg := config.GetInstance()

	logger := logging.New("cacheproxy", cfg.Debug)
	ctx := context.Background()

	shutdownTracing, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize tracing", err)
	}
	defer shutdownTracing(ctx)

	m := metrics.New()

	server, err := proxy.NewServer(cfg, logger, m)
	if err != nil {
		logger.Fatal(ctx, "failed to create proxy server", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info(ctx, "starting proxy server", slog.Int("port", cfg.Server.Port))
		if err := server.Start(runCtx); err != nil && err != context.Canceled {
			logger.Error(ctx, "server failed", err)
		}
	}()

	<-sigChan
	logger.Info(ctx, "received termination signal, shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "error during shutdown", err)
	}

	logger.Info(ctx, "proxy server stopped")
}
