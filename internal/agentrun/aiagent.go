package agentrun

import (
	"context"
	"fmt"

	"github.com/corvusmr/prodigy/internal/agent"
)

// AgentAIExecutor adapts an agent.Agent (the Claude/Codex/Gemini CLI
// adapters) to the AIExecutor capability a `claude:` step invokes through.
type AgentAIExecutor struct {
	Agent  agent.Agent
	Model  string
	Effort string
}

var _ AIExecutor = (*AgentAIExecutor)(nil)

// NewAgentAIExecutor wraps a (and its configured model/effort) as an
// AIExecutor.
func NewAgentAIExecutor(a agent.Agent, model, effort string) *AgentAIExecutor {
	return &AgentAIExecutor{Agent: a, Model: model, Effort: effort}
}

// Run executes prompt through the wrapped agent in workDir, surfacing a
// non-zero exit or rate-limit condition as failure rather than a Go error
// -- only a prerequisite/transport failure returns err, matching the
// distinction the step executor draws between "command failed" and
// "couldn't run the command at all".
func (e *AgentAIExecutor) Run(ctx context.Context, workDir, prompt string, env []string) (AIResult, error) {
	res, err := e.Agent.Run(ctx, agent.RunOpts{
		Prompt:       prompt,
		Model:        e.Model,
		Effort:       e.Effort,
		OutputFormat: agent.OutputFormatJSON,
		WorkDir:      workDir,
		Env:          env,
	})
	if err != nil {
		return AIResult{}, fmt.Errorf("agentrun: invoking %s: %w", e.Agent.Name(), err)
	}

	return AIResult{
		Output:   res.Stdout,
		Success:  res.Success() && !res.WasRateLimited(),
		Duration: res.Duration,
	}, nil
}
