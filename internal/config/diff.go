package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScenarioChanged is set when scenario.name or scenario.seed differ.
	ScenarioChanged bool

	// DataChanged is set when any data directory differs. The catalogs and
	// tables are rebuilt and the scenario reloaded.
	DataChanged bool

	// RestartRequired lists the changed sections that only take effect after
	// a restart.
	RestartRequired []string
}

// Reload reports whether the scenario or its data must be reloaded.
func (d ConfigDiff) Reload() bool { return d.ScenarioChanged || d.DataChanged }

// Empty reports whether no setting changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.Reload() && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ScenarioChanged = old.Scenario != new.Scenario
	d.DataChanged = old.Data != new.Data

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.ShutdownTimeout != new.Server.ShutdownTimeout ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
