package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	ConfigVersion   int
	DBPath          string
	NATSURL         string
	ListenAddr      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("BKND_CONFIG", ""),
		"Path to an initial configuration file, empty to boot from the store (env: BKND_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("BKND_CONFIG", ""),
		"Path to an initial configuration file, empty to boot from the store (env: BKND_CONFIG)")

	flag.IntVar(&cfg.ConfigVersion, "config-version",
		getEnvInt("BKND_CONFIG_VERSION", 0),
		"Treat the configuration file as complete and current at this version; 0 for partial mode (env: BKND_CONFIG_VERSION)")

	flag.StringVar(&cfg.DBPath, "db",
		getEnv("BKND_DB", "bknd.db"),
		"SQLite database path (env: BKND_DB)")

	flag.StringVar(&cfg.NATSURL, "nats",
		getEnv("BKND_NATS_URL", ""),
		"NATS server URL for the event bus, empty for in-process events (env: BKND_NATS_URL)")

	flag.StringVar(&cfg.ListenAddr, "listen",
		getEnv("BKND_LISTEN", ""),
		"Listen address override, empty to use the server module configuration (env: BKND_LISTEN)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("BKND_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BKND_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("BKND_LOG_FORMAT", "json"),
		"Log format: json, text (env: BKND_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("BKND_DEBUG", false),
		"Enable debug mode (env: BKND_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("BKND_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: BKND_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate the configuration file and exit")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.Validate && cfg.ConfigPath == "" {
		return fmt.Errorf("-validate requires -config")
	}
	if cfg.ConfigVersion != 0 && cfg.ConfigPath == "" {
		return fmt.Errorf("-config-version requires -config")
	}
	if cfg.ConfigVersion < 0 {
		return fmt.Errorf("invalid config version: %d", cfg.ConfigVersion)
	}

	if cfg.DBPath == "" {
		return fmt.Errorf("database path is required")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Pluggable Application Runtime

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Boot from an existing store
  %s --db=/var/lib/bknd/bknd.db

  # First boot with an initial configuration subset
  %s --config=/etc/bknd/config.json --db=/var/lib/bknd/bknd.db

  # Run with a complete, store-bypassing configuration
  %s --config=/etc/bknd/config.json --config-version=1

  # Run with a NATS-backed event bus and debug logging
  %s --nats=nats://localhost:4222 --log-level=debug --log-format=text

  # Validate a configuration file only
  %s --config=/etc/bknd/config.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
