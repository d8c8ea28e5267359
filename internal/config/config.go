// Package config loads the per-project defaults file, prodigy.toml,
// described in SPEC_FULL.md's ambient stack section: project-wide
// defaults layered under the per-workflow settings in the YAML workflow
// file itself.
package config

// Config is the top-level structure mapping to prodigy.toml.
type Config struct {
	Project    ProjectConfig          `toml:"project"`
	Map        MapDefaults            `toml:"map"`
	Checkpoint CheckpointConfig       `toml:"checkpoint"`
	Dashboard  DashboardConfig        `toml:"dashboard"`
	Agents     map[string]AgentConfig `toml:"agents"`
}

// AgentConfig maps to one [agents.<name>] section: the CLI adapter a
// step's `claude:` field is actually dispatched to, and the model/effort
// it's invoked with. The section name selects the adapter (claude, codex,
// or gemini); [project] default_agent picks which one backs unqualified
// AI steps when more than one is configured.
type AgentConfig struct {
	Command        string `toml:"command"`
	Model          string `toml:"model"`
	Effort         string `toml:"effort"`
	PromptTemplate string `toml:"prompt_template"`
	AllowedTools   string `toml:"allowed_tools"`
}

// ProjectConfig maps to the [project] section of prodigy.toml.
type ProjectConfig struct {
	Name            string `toml:"name"`
	DefaultWorkflow string `toml:"default_workflow"`
	Repo            string `toml:"repo"`
	DefaultAgent    string `toml:"default_agent"`
}

// MapDefaults maps to the [map] section. The values are parsed but not
// applied at run time: the coordinator takes max_parallel, max_retries and
// agent_timeout only from the workflow's own `map:` block.
type MapDefaults struct {
	MaxParallel  int    `toml:"max_parallel"`
	MaxRetries   int    `toml:"max_retries"`
	AgentTimeout string `toml:"agent_timeout"`
}

// CheckpointConfig maps to the [checkpoint] section. Only MaxCheckpoints
// (the store's retention count) and Compression are read; ItemInterval,
// DurationInterval and MaxAge are parsed but not applied, and the
// coordinator's CheckpointPolicy comes from the run and resume commands.
type CheckpointConfig struct {
	ItemInterval     int    `toml:"item_interval"`
	DurationInterval string `toml:"duration_interval"`
	MaxCheckpoints   int    `toml:"max_checkpoints"`
	MaxAge           string `toml:"max_age"`
	Compression      string `toml:"compression"`
}

// DashboardConfig maps to the [dashboard] section.
type DashboardConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Redis   string `toml:"redis"`
}
