// Package main implements the entry point for the bknd runtime. bknd is a
// pluggable application backend whose modules (server, data, auth, media,
// workflow) are driven entirely by versioned configuration persisted in a
// SQLite store.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bknd-io/bknd/eventbus"
	"github.com/bknd-io/bknd/module"
	"github.com/bknd-io/bknd/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "bknd"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	initial, err := loadInitialConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		if _, err := module.NewManager(initial, module.WithLogger(logger)); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	st, bus, metricsRegistry, cleanup, err := setupInfrastructure(ctx, cliCfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	mgr, err := bootEngine(ctx, cliCfg, initial, st, bus, metricsRegistry, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, cliCfg, mgr, metricsRegistry)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting bknd (pluggable application runtime)",
		"version", Version,
		"build_time", BuildTime,
		"db_path", cliCfg.DBPath,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadInitialConfig reads the optional configuration file. An empty path
// yields a nil tree, which boots every module on its schema defaults.
func loadInitialConfig(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return tree, nil
}

// setupInfrastructure opens the config store and creates the event bus and
// metrics registry. The returned cleanup closes everything in reverse order.
func setupInfrastructure(
	ctx context.Context,
	cliCfg *CLIConfig,
	logger *slog.Logger,
) (store.Store, eventbus.Bus, *prometheus.Registry, func(), error) {
	st, err := store.NewSQLiteStore(ctx, store.SQLiteConfig{Path: cliCfg.DBPath})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open config store: %w", err)
	}

	var bus eventbus.Bus
	var nc *nats.Conn
	if cliCfg.NATSURL != "" {
		slog.Info("Connecting to NATS", "url", cliCfg.NATSURL)
		nc, err = nats.Connect(cliCfg.NATSURL,
			nats.Name(appName),
			nats.Timeout(10*time.Second),
			nats.MaxReconnects(-1))
		if err != nil {
			_ = st.Close()
			return nil, nil, nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		bus = eventbus.NewNATSBus(nc, logger)
	} else {
		bus = eventbus.NewMemoryBus(logger)
	}

	metricsRegistry := prometheus.NewRegistry()

	cleanup := func() {
		if mb, ok := bus.(*eventbus.MemoryBus); ok {
			mb.Drain()
		}
		if nc != nil {
			nc.Close()
		}
		if err := st.Close(); err != nil {
			slog.Warn("config store close failed", "error", err)
		}
	}
	return st, bus, metricsRegistry, cleanup, nil
}

// bootEngine assembles the versioned manager and runs the boot sequence:
// fetch or bootstrap, migrate forward when behind, build all modules.
func bootEngine(
	ctx context.Context,
	cliCfg *CLIConfig,
	initial map[string]any,
	st store.Store,
	bus eventbus.Bus,
	metricsRegistry *prometheus.Registry,
	logger *slog.Logger,
) (*module.VersionedManager, error) {
	chain, err := migrations()
	if err != nil {
		return nil, fmt.Errorf("build migration chain: %w", err)
	}

	var db *sql.DB
	if ss, ok := st.(*store.SQLiteStore); ok {
		db = ss.DB()
	}

	opts := []module.VersionedOption{
		module.WithManagerOptions(
			module.WithLogger(logger),
			module.WithBus(bus),
			module.WithDB(db),
			module.WithMetrics(module.NewMetrics(metricsRegistry)),
		),
		module.WithRuntimeSecrets(secretsFromEnv()),
	}
	if cliCfg.ConfigVersion > 0 {
		opts = append(opts, module.WithProvidedVersion(cliCfg.ConfigVersion))
	}

	mgr, err := module.NewVersionedManager(initial, st, chain, opts...)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	if err := mgr.Build(ctx, module.BootOptions{}); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	slog.Info("Engine booted", "config_version", mgr.Version())
	return mgr, nil
}

// migrations declares the configuration migration chain. New steps are
// appended here with To = previous target + 1.
func migrations() (*module.Chain, error) {
	return module.NewChain(1)
}

// secretsFromEnv maps well-known environment variables onto secret paths.
// Values supplied here win over stored secrets and never touch the store.
func secretsFromEnv() map[string]string {
	mapping := map[string]string{
		"BKND_JWT_SECRET":           "auth.jwt.secret",
		"BKND_S3_ACCESS_KEY":        "media.adapter.access_key",
		"BKND_S3_SECRET_ACCESS_KEY": "media.adapter.secret_access_key",
	}
	secrets := make(map[string]string)
	for env, path := range mapping {
		if value := os.Getenv(env); value != "" {
			secrets[path] = value
		}
	}
	return secrets
}

// runWithSignalHandling serves HTTP and blocks until a shutdown signal
func runWithSignalHandling(
	ctx context.Context,
	cliCfg *CLIConfig,
	mgr *module.VersionedManager,
	metricsRegistry *prometheus.Registry,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	addr, err := listenAddr(cliCfg, mgr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           rootHandler(mgr, metricsRegistry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("bknd shutdown complete")
	return nil
}

// rootHandler mounts the module router at the root, the tooling endpoints
// under /system/, and the metrics endpoint.
func rootHandler(mgr *module.VersionedManager, metricsRegistry *prometheus.Registry) http.Handler {
	rc := mgr.Context()
	mux := http.NewServeMux()
	mux.Handle("/", rc.Router)
	mux.Handle("/system/", http.StripPrefix("/system", rc.Tools))
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	return mux
}

// listenAddr resolves the flag override or the server module configuration.
func listenAddr(cliCfg *CLIConfig, mgr *module.VersionedManager) (string, error) {
	if cliCfg.ListenAddr != "" {
		return cliCfg.ListenAddr, nil
	}

	mod, err := mgr.Module(module.KeyServer)
	if err != nil {
		return "", fmt.Errorf("resolve server module: %w", err)
	}
	cfg := mod.Config()

	host, _ := cfg["host"].(string)
	port := 8080
	switch v := cfg["port"].(type) {
	case float64:
		port = int(v)
	case int:
		port = v
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}
