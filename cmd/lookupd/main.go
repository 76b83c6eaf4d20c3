// Package main implements lookupd, a daemon that loads lookups from their
// sources, serves them to replicas over HTTP and keeps replicas in sync
// with their masters.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/lookupkit/config"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "lookupd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath, "lookups", len(cfg.Lookups))
		return nil
	}

	logger.Info("Starting lookupd", "config_path", cli.ConfigPath, "lookups", len(cfg.Lookups))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, cli.ShutdownTimeout)
	if err != nil {
		return err
	}
	if err := a.run(ctx); err != nil {
		return err
	}
	logger.Info("Lookupd stopped")
	return nil
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cli.ConfigPath, err)
	}
	if cli.Listen != "" {
		cfg.Server.Listen = cli.Listen
	}
	if cli.MetricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = cli.MetricsListen
	}
	return cfg, nil
}
