package agentrun

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/corvusmr/prodigy/internal/checkpoint"
	"github.com/corvusmr/prodigy/internal/timeoutenf"
	"github.com/corvusmr/prodigy/internal/workflowfile"
	"github.com/corvusmr/prodigy/internal/workspace"
)

// Manager is the Agent Manager: it creates an isolated workspace, executes
// a step template inside it, and collects the agent's outputs.
type Manager struct {
	Workspace workspace.Provider
	Runner    CommandRunner
	AI        AIExecutor
	Logger    *log.Logger
}

// NewManager constructs an agent Manager from its three capabilities.
func NewManager(ws workspace.Provider, runner CommandRunner, ai AIExecutor, logger *log.Logger) *Manager {
	return &Manager{Workspace: ws, Runner: runner, AI: ai, Logger: logger}
}

// RunItem creates a fresh workspace, runs the template sequentially inside
// it, and returns an AgentResult. It never returns an error for an agent
// whose steps failed -- failure is represented as AgentResult{Status:
// Failed|Timeout}; only infrastructure failures (workspace creation)
// surface as a Go error.
func (m *Manager) RunItem(ctx context.Context, parentPath, agentID string, item checkpoint.WorkItem, template []workflowfile.Step, agentTimeout time.Duration) (*checkpoint.AgentResult, *workspace.Handle, error) {
	handle, err := m.Workspace.Create(ctx, parentPath, agentID, item.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("agentrun: creating workspace: %w", err)
	}

	ictx := &Context{ItemID: item.ID, Item: item.Data, Captures: map[string]string{}}
	start := time.Now()

	result := &checkpoint.AgentResult{
		ItemID:       item.ID,
		Status:       checkpoint.StatusSuccess,
		WorktreePath: handle.Path,
		Branch:       handle.Branch,
	}

	runAll := timeoutenf.Run(ctx, "agent "+agentID, agentTimeout, func(runCtx context.Context) error {
		for i, step := range template {
			outcome := m.runStep(runCtx, handle.Path, ictx, step)
			if outcome.LogLocation != "" {
				result.LogLocation = outcome.LogLocation
			}
			if !outcome.Success {
				recovered := false
				if step.OnFailure != nil {
					handlerOutcome := m.runStep(runCtx, handle.Path, ictx, step.OnFailure.AsStep())
					if handlerOutcome.Success {
						recovered = true
					} else if handlerOutcome.LogLocation != "" {
						result.LogLocation = handlerOutcome.LogLocation
					}
				}
				if !recovered {
					result.Status = checkpoint.StatusFailed
					result.Error = fmt.Sprintf("step %d failed: %v", i, outcome.Error)
					return outcome.Error
				}
			}
			if step.CaptureOutput != "" {
				ictx.Captures[step.CaptureOutput] = outcome.Output
			}
			result.Output += outcome.Output
		}
		return nil
	})

	if runAll.TimedOut {
		result.Status = checkpoint.StatusTimeout
		result.Error = runAll.Err.Error()
	}

	result.Duration = time.Since(start)

	if commits, cerr := m.commits(ctx, handle); cerr == nil {
		result.Commits = commits
	}
	if files, ferr := m.files(ctx, handle); ferr == nil {
		result.FilesModified = files
	}

	return result, handle, nil
}

func (m *Manager) commits(ctx context.Context, h *workspace.Handle) ([]string, error) {
	g, ok := m.Workspace.(*workspace.GitProvider)
	if !ok {
		return nil, nil
	}
	return g.Commits(ctx, h)
}

func (m *Manager) files(ctx context.Context, h *workspace.Handle) ([]string, error) {
	g, ok := m.Workspace.(*workspace.GitProvider)
	if !ok {
		return nil, nil
	}
	return g.DiffFiles(ctx, h)
}

// runStep executes a single shell or AI step, interpolating its command
// with the current context's scalar environment.
func (m *Manager) runStep(ctx context.Context, workDir string, ictx *Context, step workflowfile.Step) StepOutcome {
	start := time.Now()
	env := envSlice(ictx.ScalarEnv())

	if step.IsAI() {
		prompt := ictx.Interpolate(step.Claude)
		res, err := m.AI.Run(ctx, workDir, prompt, env)
		return StepOutcome{
			Output:      res.Output,
			Success:     err == nil && res.Success,
			Duration:    time.Since(start),
			LogLocation: res.LogLocation,
			Error:       err,
		}
	}

	cmd := ictx.Interpolate(step.Shell)
	res, err := m.Runner.Run(ctx, workDir, cmd, env)
	success := err == nil && res.ExitCode == 0
	var stepErr error
	if !success {
		stepErr = &StepError{StepName: step.ID, ExitCode: res.ExitCode, Stderr: res.Stderr, Cause: err}
	}
	return StepOutcome{
		Output:   res.Stdout,
		Success:  success,
		ExitCode: res.ExitCode,
		Duration: time.Since(start),
		Error:    stepErr,
	}
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
