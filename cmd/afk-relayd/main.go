// Copyright 2026 The AFK Code Authors
// SPDX-License-Identifier: Apache-2.0

// Afk-relayd is the session relay daemon. It bridges interactive
// terminal sessions running on this machine to remote observers in
// near real time.
//
// The daemon hosts three listeners:
//
//   - a Unix socket where local host processes announce session
//     lifecycle and receive input (--host-socket)
//   - a TCP listener terminating the observer and network-host
//     WebSocket paths plus GET /health (--listen)
//   - per-session transcript trackers that tail the announced log
//     directories and publish classified events
//
// All state is in memory; on restart, hosts re-announce their sessions
// and observers reconnect and resubscribe.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/clharman/afk-code/hostapi"
	"github.com/clharman/afk-code/lib/auth"
	"github.com/clharman/afk-code/lib/clock"
	"github.com/clharman/afk-code/lib/config"
	"github.com/clharman/afk-code/relay"
	"github.com/clharman/afk-code/transcript"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "afk-relayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("afk-relayd", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML config file")
	listen := flags.String("listen", "", "TCP listen address (overrides config)")
	hostSocket := flags.String("host-socket", "", "host Unix socket path (overrides config)")
	tokenFile := flags.String("token-file", "", "bearer token file (overrides config)")
	ownerUser := flags.String("owner-user", "", "user ID owning local host connections (overrides config)")
	pollInterval := flags.Duration("poll-interval", 0, "transcript poll backstop interval (overrides config)")
	logLevel := flags.String("log-level", "", "debug, info, warn, or error (overrides config)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	configuration := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		configuration = loaded
	}
	if *listen != "" {
		configuration.Listen = *listen
	}
	if *hostSocket != "" {
		configuration.HostSocket = *hostSocket
	}
	if *tokenFile != "" {
		configuration.TokenFile = *tokenFile
	}
	if *ownerUser != "" {
		configuration.OwnerUser = *ownerUser
	}
	if *pollInterval != 0 {
		configuration.PollInterval = *pollInterval
	}
	if *logLevel != "" {
		configuration.LogLevel = *logLevel
	}
	if err := configuration.Validate(); err != nil {
		return err
	}
	if configuration.OwnerUser == "" {
		return fmt.Errorf("owner user is required (--owner-user or owner_user in config)")
	}

	logger := newLogger(configuration.LogLevel)

	tokens := auth.NewService()
	if configuration.TokenFile != "" {
		if err := tokens.LoadTokenFile(configuration.TokenFile); err != nil {
			return err
		}
	} else {
		logger.Warn("no token file configured; no observer can authenticate")
	}

	registry := relay.NewRegistry(logger)
	supervisor := transcript.NewSupervisor(
		relay.NewTrackerSink(registry), clock.Real(), configuration.PollInterval, logger)
	defer supervisor.Close()
	sessions := relay.NewSessions(registry, supervisor, clock.Real(), logger)

	server := relay.NewServer(relay.ServerConfig{
		Address:         configuration.Listen,
		Registry:        registry,
		Sessions:        sessions,
		Tokens:          tokens,
		Logger:          logger,
		ShutdownTimeout: 10 * time.Second,
	})
	endpoint := hostapi.NewEndpoint(
		configuration.HostSocket, registry, sessions, configuration.OwnerUser, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- server.Serve(ctx) }()
	go func() { errs <- endpoint.Serve(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// One listener failing takes the daemon down; cancel the
			// other so both drain.
			cancel()
		}
	}
	logger.Info("relay daemon stopped")
	return firstErr
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
}
