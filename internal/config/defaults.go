package config

// NewDefaults returns a Config populated with prodigy's built-in defaults,
// used when no prodigy.toml is found.
func NewDefaults() *Config {
	return &Config{
		Map: MapDefaults{
			MaxParallel:  5,
			MaxRetries:   2,
			AgentTimeout: "30m",
		},
		Checkpoint: CheckpointConfig{
			ItemInterval:     10,
			DurationInterval: "60s",
			MaxCheckpoints:   10,
			Compression:      "none",
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Addr:    ":8080",
		},
		Agents: map[string]AgentConfig{
			"claude": {Command: "claude"},
		},
	}
}
