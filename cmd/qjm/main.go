// Command qjm serves the quantified judgement combat model over HTTP and MCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/qjm/internal/app"
	"github.com/MrWong99/qjm/internal/config"
	"github.com/MrWong99/qjm/internal/mcp/mcpserver"
	"github.com/MrWong99/qjm/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Duration("watch", 5*time.Second, "config file poll interval; 0 disables hot reload")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "qjm: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "qjm: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("qjm starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{app.WithLevelVar(level)}
	if *watch > 0 {
		opts = append(opts, app.WithConfigWatch(*configPath, *watch))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Stdout belongs to the MCP stdio transport.
	if !(cfg.MCP.Enabled && cfg.MCP.Transport == mcpserver.TransportStdio) {
		printStartupSummary(os.Stdout, cfg)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║           qjm startup summary         ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Listen addr", cfg.Server.ListenAddr)
	printRow(w, "Scenario", orNone(cfg.Scenario.Name))
	printRow(w, "Store", string(cfg.Store.Backend))
	if cfg.MCP.Enabled {
		mcp := string(cfg.MCP.Transport)
		if cfg.MCP.Transport == mcpserver.TransportHTTP {
			mcp += " " + cfg.MCP.Path
		}
		printRow(w, "MCP", mcp)
	} else {
		printRow(w, "MCP", "(disabled)")
	}
	printRow(w, "Metrics", cfg.Telemetry.MetricsPath)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", key, value)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
