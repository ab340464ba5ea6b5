package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlowell/bizsock/internal/bizcontext"
	"github.com/nlowell/bizsock/internal/config"
	"github.com/nlowell/bizsock/internal/connection"
	"github.com/nlowell/bizsock/internal/events"
	"github.com/nlowell/bizsock/internal/protocol"
	"github.com/nlowell/bizsock/internal/router"
	"github.com/nlowell/bizsock/internal/server"
	"github.com/nlowell/bizsock/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bizsockd.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bizsockd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Listen.Addr,
		"initial_context", cfg.Context.Initial,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Wire the core components
	bus := events.NewBus(logger)
	registry := connection.NewRegistry(bus, logger)
	rooms := connection.NewRooms(registry, logger)

	coordinator := bizcontext.NewCoordinator(registry, bus, logger)
	for _, label := range cfg.Context.Labels {
		coordinator.Register(label, newLoggingContext(label, logger))
	}
	if err := coordinator.Start(ctx, cfg.Context.Initial, cfg.Context.Options); err != nil {
		logger.Error("failed to activate initial context", "error", err)
		os.Exit(1)
	}

	routerCfg := router.Config{
		QueueCapacity: cfg.Router.QueueCapacity,
		RetryAttempts: cfg.Router.RetryAttempts,
		RetryDelay:    cfg.Router.RetryDelay,
	}
	rt := router.New(routerCfg, protocol.DefaultRegistry(), bus, logger)
	rt.Use(router.RateLimit(cfg.Router.RateLimit, cfg.Router.RateWindow))
	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	serverCfg := server.Config{
		InstanceID:   cfg.Instance.ID,
		Addr:         cfg.Listen.Addr,
		WSPath:       cfg.Listen.WSPath,
		WriteTimeout: cfg.Listen.WriteTimeout,
		ReadLimit:    cfg.Listen.ReadLimit,
		PingInterval: cfg.Liveness.PingInterval,
		PongTimeout:  cfg.Liveness.PongTimeout,
	}
	srv := server.New(serverCfg, registry, rooms, coordinator, rt, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	logger.Info("bizsockd running",
		"addr", cfg.Listen.Addr,
		"ws_path", cfg.Listen.WSPath,
		"contexts", coordinator.Labels(),
	)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop failed", "error", err)
	}
	if err := rt.Stop(shutdownCtx); err != nil {
		logger.Error("router stop failed", "error", err)
	}

	logger.Info("bizsockd stopped")
}
