// Copyright 2026 The Gridline Authors
// SPDX-License-Identifier: Apache-2.0

// gridline-auth-service is the Gridline authentication and
// authorization coordinator daemon. It owns the credential policy
// file, watches it for edits, authenticates connection attempts on
// behalf of the platform router, and serves the administrative API on
// a local Unix socket and over the bus RPC surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/gridline-foundation/gridline/auth"
	"github.com/gridline-foundation/gridline/lib/clock"
	"github.com/gridline-foundation/gridline/lib/config"
	"github.com/gridline-foundation/gridline/lib/policy"
	"github.com/gridline-foundation/gridline/lib/policy/policyfile"
	"github.com/gridline-foundation/gridline/lib/service"
	"github.com/gridline-foundation/gridline/lib/version"
	"github.com/gridline-foundation/gridline/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		policyPath  string
		allowAny    bool
		showVersion bool
	)

	pflag.StringVar(&configPath, "config", "", "path to gridline.yaml (defaults to GRIDLINE_CONFIG)")
	pflag.StringVar(&socketPath, "socket", "", "Unix socket path (overrides config)")
	pflag.StringVar(&policyPath, "policy-file", "", "credential policy file path (overrides config)")
	pflag.BoolVar(&allowAny, "allow-any", false, "admit every credential without a policy entry (development only)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("gridline-auth-service %s\n", version.Full())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if socketPath != "" {
		cfg.Auth.SocketPath = socketPath
	}
	if policyPath != "" {
		cfg.Auth.PolicyFile = policyPath
	}
	if allowAny {
		cfg.Auth.AllowAny = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Auth.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	store, err := policyfile.Open(cfg.Auth.PolicyFile, logger)
	if err != nil {
		return fmt.Errorf("opening policy file: %w", err)
	}

	clk := clock.Real()

	// The coordinator attaches to the node-local bus as the platform
	// auth identity. Agents on this node reach its RPC surface through
	// the router; remote administration goes through the Unix socket.
	bus := messaging.NewMemoryBus()

	coordinator, err := auth.New(auth.Options{
		Store:    store,
		AllowAny: cfg.Auth.AllowAny,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initializing coordinator: %w", err)
	}
	conn := bus.Connect(policy.IdentityAuth, coordinator.BusHandler())
	coordinator.AttachBus(conn)

	if cfg.Auth.AllowAny {
		logger.Warn("allow_any is enabled; every credential will be admitted")
	}

	// Reload on policy file edits. The store's own persists also land
	// here; the fingerprint check skips reloads for bytes we already
	// have.
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- policyfile.Watch(ctx, cfg.Auth.PolicyFile, cfg.WatchDebounceDuration(), clk, logger, func() {
			if onDisk, err := policyfile.FingerprintPath(cfg.Auth.PolicyFile); err == nil && onDisk == store.Fingerprint() {
				return
			}
			if err := coordinator.Reload(ctx); err != nil {
				logger.Error("policy reload failed", "error", err)
			}
		})
	}()

	socketServer := service.NewSocketServer(cfg.Auth.SocketPath, logger)
	registerActions(socketServer, coordinator, store, logger)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("auth service running",
		"socket", cfg.Auth.SocketPath,
		"policy_file", cfg.Auth.PolicyFile,
		"version", version.Short(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	if err := <-watchDone; err != nil {
		logger.Error("policy file watch error", "error", err)
	}
	return nil
}

// logLevel maps the config's log level string to a slog level. The
// config is validated before this runs.
func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
