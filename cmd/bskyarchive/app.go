package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bskyarchive/pkg/auth"
	"bskyarchive/pkg/bsky"
	"bskyarchive/pkg/config"
	"bskyarchive/pkg/logger"
	"bskyarchive/pkg/ratelimit"
	"bskyarchive/pkg/ui"
)

// loadConfig adds the global flags to flags, loads the configuration and
// initializes the global logger. It exits on failure.
func loadConfig(flags map[string]interface{}) *config.Config {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	switch {
	case logLevel != "":
		flags["log-level"] = logLevel
	case verbose:
		flags["log-level"] = "debug"
	case quiet:
		flags["log-level"] = "error"
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		fatal("Failed to load configuration", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		fatal("Failed to initialize logger", err)
	}
	return cfg
}

func newManager(cfg *config.Config) *auth.Manager {
	manager, err := auth.NewManager(cfg.Sessions.TokensPath)
	if err != nil {
		fatal("Failed to initialize credential manager", err)
	}
	return manager
}

func newConnector(cfg *config.Config) *auth.Connector {
	return auth.NewConnector(newManager(cfg), clientFactory(cfg), logger.GetLogger())
}

// clientFactory builds unauthenticated clients from cfg
func clientFactory(cfg *config.Config) func() *bsky.Client {
	log := logger.GetLogger()
	return func() *bsky.Client {
		return bsky.NewClientFromConfig(cfg, log)
	}
}

func newGate(cfg *config.Config) *ratelimit.Gate {
	gate, err := ratelimit.NewGate(cfg.RateLimit.StateFile, cfg.RateLimit.MinInterval, cfg.RateLimit.MaxInterval,
		ratelimit.WithLogger(logger.GetLogger()))
	if err != nil {
		fatal("Failed to open download cooldown state", err)
	}
	return gate
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// normalizeHandle accepts "@alice.bsky.social" as well as the bare handle
func normalizeHandle(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

func fatal(msg string, err error) {
	if err != nil {
		ui.PrintError(msg, err)
	} else {
		ui.PrintError(msg)
	}
	os.Exit(1)
}
