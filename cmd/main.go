package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"panelhub/internal/api"
	"panelhub/internal/bindings"
	"panelhub/internal/config"
	"panelhub/internal/configstore"
	"panelhub/internal/manager"
	"panelhub/internal/plugins/homebridge"
	"panelhub/internal/poller"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	configPath := os.Getenv("HUB_CONFIG")
	if configPath == "" {
		configPath = "hub.yaml"
	}

	hubConfig, err := config.Load(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load hub config", zap.Error(err))
	}
	if portEnv := os.Getenv("HUB_PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			logger.Fatal("Invalid HUB_PORT", zap.String("value", portEnv))
		}
		hubConfig.Port = port
	}
	if dataDir := os.Getenv("HUB_DATA_DIR"); dataDir != "" {
		hubConfig.DataDir = dataDir
	}

	logger.Info("Starting Panel Hub",
		zap.Int("port", hubConfig.Port),
		zap.String("data_dir", hubConfig.DataDir))

	// Stores
	pluginConfigs := configstore.NewStore(
		filepath.Join(hubConfig.DataDir, "plugins.json"), logger)
	bindingStore := bindings.NewStore(
		filepath.Join(hubConfig.DataDir, "bindings.json"), logger)
	if err := bindingStore.Load(); err != nil {
		logger.Error("Failed to load bindings, starting empty", zap.Error(err))
	}

	// Plugin runtime
	registry := prometheus.NewRegistry()
	metrics := manager.NewMetrics(registry)
	mgr := manager.NewManager(pluginConfigs, metrics, logger)
	mgr.Register(homebridge.New(logger))

	ctx := context.Background()
	mgr.InitializeAll(ctx)

	// Panel socket and state poller
	hub := api.NewHub(logger)
	statePoller := poller.New(mgr, bindingStore, hub, hubConfig.PollInterval(), logger)
	statePoller.Start()

	// API server
	server := api.NewServer(mgr, bindingStore, hub, registry, logger, hubConfig.Port)
	server.Start()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	statePoller.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	mgr.ShutdownAll(shutdownCtx)
}
