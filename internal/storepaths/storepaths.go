// Package storepaths resolves the on-disk layout: a single base directory,
// overridable per-subprocess via PRODIGY_HOME, under which every durable
// store (sessions, checkpoints, events, DLQ, worktrees, locks) keeps its
// files.
package storepaths

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvVar is the environment variable that overrides the default base
// directory. It is read fresh on every call to New so tests can isolate
// concurrently by setting it per-subprocess rather than globally.
const EnvVar = "PRODIGY_HOME"

// Layout resolves every logical path under one base directory.
type Layout struct {
	Base string
}

// New resolves the base directory: PRODIGY_HOME if set, else
// "<user home>/.prodigy".
func New() (Layout, error) {
	if v := os.Getenv(EnvVar); v != "" {
		return Layout{Base: v}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Layout{}, fmt.Errorf("storepaths: resolving home dir: %w", err)
	}
	return Layout{Base: filepath.Join(home, ".prodigy")}, nil
}

// NewAt pins the base directory explicitly, bypassing PRODIGY_HOME/home
// resolution entirely (used by tests and by --path overrides).
func NewAt(base string) Layout {
	return Layout{Base: base}
}

func (l Layout) Sessions() string { return filepath.Join(l.Base, "sessions") }

func (l Layout) JobState(jobID string) string {
	return filepath.Join(l.Base, "state", jobID)
}

func (l Layout) Checkpoints(jobID string) string {
	return filepath.Join(l.JobState(jobID), "checkpoints")
}

func (l Layout) MapReduceCheckpoints(jobID string) string {
	return filepath.Join(l.JobState(jobID), "mapreduce", "checkpoints")
}

func (l Layout) ReduceCheckpoints(jobID string) string {
	return filepath.Join(l.Base, "reduce_checkpoints", jobID)
}

func (l Layout) Events(repo, jobID string) string {
	return filepath.Join(l.Base, "events", repo, jobID)
}

func (l Layout) DLQ(jobID string) string {
	return filepath.Join(l.Base, "dlq", jobID)
}

func (l Layout) Worktrees(repo, jobID string) string {
	return filepath.Join(l.Base, "worktrees", repo, jobID)
}

func (l Layout) Lock(key string) string {
	return filepath.Join(l.Base, "locks", key+".lock")
}

// EnsureDirs creates every directory-shaped path this layout is
// responsible for (the store constructors create their own leaf
// directories lazily; this is for callers that want everything up front,
// e.g. `prodigy run` before Setup starts).
func (l Layout) EnsureDirs(jobID, repo string) error {
	dirs := []string{
		l.Sessions(),
		l.Checkpoints(jobID),
		l.MapReduceCheckpoints(jobID),
		l.ReduceCheckpoints(jobID),
		l.Events(repo, jobID),
		l.DLQ(jobID),
		l.Worktrees(repo, jobID),
		filepath.Join(l.Base, "locks"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("storepaths: creating %s: %w", d, err)
		}
	}
	return nil
}
