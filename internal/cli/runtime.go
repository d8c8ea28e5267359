package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvusmr/prodigy/internal/agent"
	"github.com/corvusmr/prodigy/internal/agentrun"
	"github.com/corvusmr/prodigy/internal/checkpoint"
	"github.com/corvusmr/prodigy/internal/config"
	"github.com/corvusmr/prodigy/internal/dlq"
	"github.com/corvusmr/prodigy/internal/events"
	"github.com/corvusmr/prodigy/internal/logging"
	"github.com/corvusmr/prodigy/internal/session"
	"github.com/corvusmr/prodigy/internal/storepaths"
	"github.com/corvusmr/prodigy/internal/workspace"
)

// runtime bundles the durable stores and execution capabilities every
// job-running or job-inspecting subcommand needs, built once from the
// resolved on-disk layout and project configuration.
type runtime struct {
	Layout      storepaths.Layout
	Config      *config.Config
	Checkpoints *checkpoint.FileStore
	Sessions    *session.FileStore
	DLQ         *dlq.FileStore
}

// newRuntime resolves storepaths.Layout (honoring --path), loads
// prodigy.toml if present, and constructs the durable stores with the
// configured compression and retention policy.
func newRuntime(path string) (*runtime, error) {
	layout, err := resolveLayout(path)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	compression, err := parseCompression(cfg.Checkpoint.Compression)
	if err != nil {
		return nil, err
	}

	retention := checkpoint.RetentionPolicy{KeepFinal: true}
	if cfg.Checkpoint.MaxCheckpoints > 0 {
		n := cfg.Checkpoint.MaxCheckpoints
		retention.MaxCheckpoints = &n
	}

	cps, err := checkpoint.NewFileStore(checkpoint.FileStoreOptions{
		Dir:            layout.Checkpoints(""),
		Compression:    compression,
		ValidateOnLoad: true,
		Retention:      retention,
	})
	if err != nil {
		return nil, err
	}

	sess, err := session.NewFileStore(layout.Sessions())
	if err != nil {
		return nil, err
	}

	dlqStore, err := dlq.NewFileStore(filepath.Join(layout.Base, "dlq"))
	if err != nil {
		return nil, err
	}

	return &runtime{Layout: layout, Config: cfg, Checkpoints: cps, Sessions: sess, DLQ: dlqStore}, nil
}

func resolveLayout(path string) (storepaths.Layout, error) {
	if path != "" {
		return storepaths.NewAt(path), nil
	}
	return storepaths.New()
}

func loadConfig(dir string) (*config.Config, error) {
	found := flagConfig
	if found == "" {
		if dir == "" {
			dir = "."
		}
		var err error
		found, err = config.FindConfigFile(dir)
		if err != nil {
			return nil, err
		}
	}
	if found == "" {
		return config.NewDefaults(), nil
	}
	cfg, _, err := config.LoadFromFile(found)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseCompression(name string) (checkpoint.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return checkpoint.CompressionNone, nil
	case "gzip":
		return checkpoint.CompressionGzip, nil
	case "zstd":
		return checkpoint.CompressionZstd, nil
	case "lz4":
		return checkpoint.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("cli: unknown checkpoint compression %q", name)
	}
}

// newManager wires the Agent Manager with a real git-worktree workspace
// provider, a shell command runner, and the AI executor selected by
// cfg.Project.DefaultAgent (or "claude" when unset) from cfg.Agents.
func newManager(repoDir, jobID string, layout storepaths.Layout, cfg *config.Config) (*agentrun.Manager, error) {
	ws, err := workspace.NewGitProvider(layout.Worktrees(filepath.Base(repoDir), jobID))
	if err != nil {
		return nil, err
	}

	logger := logging.New("agentrun")
	backend, acfg := selectAgent(cfg)
	ai := agentrun.NewAgentAIExecutor(backend, acfg.Model, acfg.Effort)

	return agentrun.NewManager(ws, &agentrun.ShellRunner{}, ai, logger), nil
}

// selectAgent builds the agent.Agent backing AI steps from cfg.Agents,
// keyed by cfg.Project.DefaultAgent (default "claude"). Every known adapter
// is registered in an agent.Registry, each configured from its own
// [agents.<name>] section, so Get(name) returns an adapter already wired
// with that section's model/effort/allowed-tools. An unrecognized name
// falls back to a bare claude adapter so a project without an [agents]
// table, or a typo'd DefaultAgent, still runs (with acfg.Command set to the
// unrecognized name itself, surfacing the mistake in CheckPrerequisites'
// "not found" error rather than silently running claude).
func selectAgent(cfg *config.Config) (agent.Agent, config.AgentConfig) {
	name := "claude"
	if cfg != nil && cfg.Project.DefaultAgent != "" {
		name = cfg.Project.DefaultAgent
	}

	logger := logging.New("agentrun")
	registry := agent.NewRegistry()
	known := map[string]config.AgentConfig{
		"claude": {Command: "claude"},
		"codex":  {Command: "codex"},
		"gemini": {Command: "gemini"},
	}
	if cfg != nil {
		for n, c := range cfg.Agents {
			if _, ok := known[n]; ok {
				known[n] = c
			}
		}
	}
	for n, c := range known {
		aconf := toAgentConfig(c)
		switch n {
		case "codex":
			_ = registry.Register(agent.NewCodexAgent(aconf, logger))
		case "gemini":
			_ = registry.Register(agent.NewGeminiAgent(aconf))
		default:
			_ = registry.Register(agent.NewClaudeAgent(aconf, logger))
		}
	}

	if a, err := registry.Get(name); err == nil {
		return a, known[name]
	}

	acfg := config.AgentConfig{Command: name}
	return agent.NewClaudeAgent(toAgentConfig(acfg), logger), acfg
}

// toAgentConfig maps a config.AgentConfig section onto the agent package's
// own AgentConfig, which the adapters consume directly.
func toAgentConfig(acfg config.AgentConfig) agent.AgentConfig {
	return agent.AgentConfig{
		Command:        acfg.Command,
		Model:          acfg.Model,
		Effort:         acfg.Effort,
		PromptTemplate: acfg.PromptTemplate,
		AllowedTools:   acfg.AllowedTools,
	}
}

// newEventSink builds the durable JSONL sink plus live broadcaster pair
// every coordinator run fans its events out to.
func newEventSink(layout storepaths.Layout, repo, jobID string) (*events.JSONLSink, *events.Broadcaster, events.Sink, error) {
	if err := layout.EnsureDirs(jobID, repo); err != nil {
		return nil, nil, nil, err
	}
	jsonl, err := events.NewJSONLSink(filepath.Join(layout.Events(repo, jobID), "events.jsonl"))
	if err != nil {
		return nil, nil, nil, err
	}
	bcast := events.NewBroadcaster()
	return jsonl, bcast, events.MultiSink{Sinks: []events.Sink{jsonl, bcast}}, nil
}

// determineStatus maps a coordinator run outcome to the session status
// recorded for it: a canceled context means the operator interrupted the
// run (ctrl-c), any other error is a genuine failure, and a nil error
// means the job ran to completion.
func determineStatus(cmd *cobra.Command, runErr error) session.Status {
	if runErr == nil {
		return session.StatusCompleted
	}
	if errors.Is(cmd.Context().Err(), context.Canceled) {
		return session.StatusInterrupted
	}
	return session.StatusFailed
}
