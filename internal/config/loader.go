package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/qjm/internal/mcp/mcpserver"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	d := &cfg.Data
	for _, f := range []struct {
		dst *string
		sub string
	}{
		{&d.TablesDir, "tables"},
		{&d.WeaponsDir, "weapons"},
		{&d.VehiclesDir, "vehicles"},
		{&d.LINDir, "lin"},
		{&d.TOEDir, "toe"},
		{&d.ScenariosDir, "scenarios"},
	} {
		if *f.dst == "" {
			*f.dst = filepath.Join(DefaultDataDir, f.sub)
		}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.MCP.Transport == "" {
		cfg.MCP.Transport = mcpserver.TransportHTTP
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Scenario
	if n := cfg.Scenario.Name; n != "" && (!filepath.IsLocal(n) || strings.ContainsAny(n, `/\`)) {
		errs = append(errs, fmt.Errorf("scenario.name %q must be a plain directory name", n))
	}

	// Store
	switch cfg.Store.Backend {
	case "", StoreNone, StoreMemory:
	case StorePostgres:
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	case StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case StoreFallback:
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the fallback backend"))
		}
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the fallback backend"))
		}
	default:
		slog.Warn("unknown store backend; it must be registered before start", "backend", cfg.Store.Backend)
	}
	if b := cfg.Store.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("store.breaker values must not be negative"))
	}

	// MCP
	if cfg.MCP.Transport != "" && !cfg.MCP.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mcp.transport %q is invalid; valid values: http, stdio", cfg.MCP.Transport))
	}
	if cfg.MCP.Enabled && cfg.MCP.Transport == mcpserver.TransportHTTP && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}
	if cfg.MCP.Enabled && cfg.MCP.Path == cfg.Telemetry.MetricsPath {
		errs = append(errs, fmt.Errorf("mcp.path and telemetry.metrics_path both use %q", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}
