package config

// ServerConfig holds configuration for the kernsim monitor server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.kernsim/kernsim.db, ":memory:" for testing)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// RunConfig holds configuration for a single scenario run.
type RunConfig struct {
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database to record the run into ("" disables recording)
	MLFQS     bool   // Force the multi-level feedback queue scheduler on
	MaxTicks  int64  // Hard tick limit overriding the scenario (0 keeps the scenario's)
}

// DefaultRunConfig returns sensible defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		LogLevel:  "info",
		LogFormat: "text",
	}
}
