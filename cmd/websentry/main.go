// Command websentry runs the security monitoring engine as a
// standalone service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"websentry/internal/config"
	"websentry/internal/logging"
	"websentry/internal/monitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	m, err := monitor.New(cfg)
	if err != nil {
		slog.Error("failed to build security monitor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	cancel()
	m.Stop()

	stats := m.Stats()
	slog.Info("final statistics",
		"total_events", stats.Store.TotalEvents,
		"blocked_ips", stats.Store.BlockedIPs,
		"locked_users", stats.Store.LockedUsers,
		"alerts", stats.Alerts)
}
