package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Listen          string
	MetricsListen   string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("LOOKUPKIT_CONFIG", "lookupd.yaml"),
		"Path to configuration file, JSON or YAML (env: LOOKUPKIT_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("LOOKUPKIT_CONFIG", "lookupd.yaml"),
		"Path to configuration file (env: LOOKUPKIT_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("LOOKUPKIT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: LOOKUPKIT_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LOOKUPKIT_LOG_FORMAT", defaultLogFormat()),
		"Log format: json, text (env: LOOKUPKIT_LOG_FORMAT)")
	fs.StringVar(&cfg.Listen, "listen",
		getEnv("LOOKUPKIT_LISTEN", ""),
		"Master endpoint listen address, overrides server.listen (env: LOOKUPKIT_LISTEN)")
	fs.StringVar(&cfg.MetricsListen, "metrics",
		getEnv("LOOKUPKIT_METRICS", ""),
		"Separate metrics listen address, overrides metrics.listen (env: LOOKUPKIT_METRICS)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("LOOKUPKIT_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: LOOKUPKIT_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}
	if !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printUsage(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - lookup master and replica daemon

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Serve the lookups of a config file
  %s -config /etc/lookupkit/lookupd.yaml

  # Check a config file
  %s -config lookupd.yaml -validate

  # Debug logging on a terminal
  %s -log-level debug -log-format text

Version: %s
`, appName, appName, appName, Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
