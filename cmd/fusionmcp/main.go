package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getmanbill/fusion360-mcp/internal/bridge"
	"github.com/getmanbill/fusion360-mcp/internal/fusion"
	"github.com/getmanbill/fusion360-mcp/internal/logger"
	bridgeServer "github.com/getmanbill/fusion360-mcp/internal/server"
	"github.com/getmanbill/fusion360-mcp/pkg/config"
	"github.com/getmanbill/fusion360-mcp/pkg/snapshot"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override log level (DEBUG, INFO, WARN, ERROR)")
	port := flag.Int("port", 0, "Override listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	fmt.Println("fusionmcp - Fusion 360 scripting bridge")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := config.CreateSnapshotStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create snapshot store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close snapshot store: %v", err)
		}
	}()

	design := loadOrCreateDesign(ctx, store, cfg.Document.Name)

	registry := bridge.NewRegistry()
	service := fusion.NewService(design, store)
	service.RegisterHandlers(registry)

	dispatcher := bridge.NewDispatcher(registry, bridge.DispatcherConfig{
		CallTimeout:   cfg.Dispatcher.CallTimeout,
		SignalBuffer:  cfg.Dispatcher.SignalBuffer,
		SweepInterval: cfg.Dispatcher.SweepInterval,
	})

	srv := bridgeServer.New(bridgeServer.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		MaxConnections:    cfg.Server.MaxConnections,
		RequestsPerSecond: uint(cfg.Server.RequestsPerSecond),
		RequestBurst:      uint(cfg.Server.RequestBurst),
	}, dispatcher)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			logger.Error("Server error: %v", err)
			cancel()
		}
	}()

	// Wait for interrupt, then drain connections before stopping the loop.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			logger.Info("Received %v, shutting down...", sig)
		case <-ctx.Done():
			return
		}

		srv.Stop()
		waitForDrain(srv, cfg.Server.ShutdownTimeout)
		cancel()
	}()

	logger.Info("Bridge is running on %s:%d. Press Ctrl+C to stop.", cfg.Server.Host, cfg.Server.Port)

	// The main goroutine is the designated execution loop, standing in for
	// the host application's UI thread. All registered handlers run here.
	pump := bridge.NewPump(dispatcher)
	pump.Run(ctx)

	logger.Info("Shutdown complete")
}

func setupLogging(cfg *config.Config) error {
	logger.SetLevel(cfg.Logging.Level)

	switch cfg.Logging.Output {
	case "stdout", "":
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Logging.Output, err)
		}
		logger.SetOutput(f)
	}
	return nil
}

// loadOrCreateDesign resumes the last saved snapshot of the configured
// document, or starts fresh when none exists.
func loadOrCreateDesign(ctx context.Context, store snapshot.Store, name string) *fusion.Design {
	design, err := store.Load(ctx, name)
	if err == nil {
		logger.Info("Resumed document %s from snapshot (%d sketches, %d parameters)",
			name, len(design.Sketches), len(design.Parameters))
		return design
	}
	if !errors.Is(err, snapshot.ErrNotFound) {
		logger.Warn("Failed to load snapshot for %s, starting fresh: %v", name, err)
	}
	return fusion.NewDesign(name)
}

// waitForDrain gives in-flight connections a chance to finish before the
// execution loop stops.
func waitForDrain(srv *bridgeServer.BridgeServer, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for srv.ActiveConnections() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := srv.ActiveConnections(); n > 0 {
		logger.Warn("Shutdown timeout reached with %d connections still active", n)
	}
}
