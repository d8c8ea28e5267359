package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GitClient wraps git CLI operations needed by the workspace provider:
// detecting and stashing a dirty parent tree before cloning a worktree, and
// reading back the file list an agent touched. All methods use os/exec to
// call the git binary, following the same pattern as gh, lazygit, and k9s.
type GitClient struct {
	// WorkDir is the working directory for git commands.
	// If empty, commands run in the current directory.
	WorkDir string

	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// NewGitClient creates a new GitClient for the given working directory.
// It verifies that git is installed and accessible.
func NewGitClient(workDir string) (*GitClient, error) {
	g := &GitClient{
		WorkDir: workDir,
		GitBin:  "git",
	}
	if err := g.checkPrerequisites(); err != nil {
		return nil, fmt.Errorf("git: prerequisites: %w", err)
	}
	return g, nil
}

// checkPrerequisites verifies that git is installed and the workDir is a git repo.
func (g *GitClient) checkPrerequisites() error {
	_, err := g.run(context.Background(), "rev-parse", "--git-dir")
	if err != nil {
		return fmt.Errorf("not a git repository or git not installed: %w", err)
	}
	return nil
}

// --- Status Operations ---

// HasUncommittedChanges reports whether the working tree has uncommitted changes.
func (g *GitClient) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git: status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// --- Stash Operations ---

// Stash stashes current changes with the given message.
// Returns true if changes were stashed, false if the working tree was already clean
// or if there were only untracked files (which git stash does not stash by default).
func (g *GitClient) Stash(ctx context.Context, message string) (bool, error) {
	dirty, err := g.HasUncommittedChanges(ctx)
	if err != nil {
		return false, fmt.Errorf("git: stash: checking status: %w", err)
	}
	if !dirty {
		return false, nil
	}
	out, err := g.run(ctx, "stash", "push", "-m", message)
	if err != nil {
		return false, fmt.Errorf("git: stash push: %w", err)
	}
	// git stash outputs "No local changes to save" when there is nothing to stash
	// (e.g., only untracked files and -u was not passed). In that case no stash
	// entry was created, so we must return false to prevent a spurious StashPop.
	if strings.Contains(out, "No local changes to save") {
		return false, nil
	}
	return true, nil
}

// StashPop pops the most recent stash entry.
func (g *GitClient) StashPop(ctx context.Context) error {
	if _, err := g.run(ctx, "stash", "pop"); err != nil {
		return fmt.Errorf("git: stash pop: %w", err)
	}
	return nil
}

// --- Diff Operations ---

// DiffEntry represents a single file in a diff.
type DiffEntry struct {
	// Status is the single-character status code from git:
	// "A" (added), "M" (modified), "D" (deleted), "R" (renamed).
	Status string
	// Path is the file path relative to the repository root.
	Path string
}

// DiffFiles returns a list of files changed between base and HEAD, used by
// the workspace provider to populate AgentResult.FilesModified after an
// agent finishes work in its isolated worktree.
func (g *GitClient) DiffFiles(ctx context.Context, base string) ([]DiffEntry, error) {
	out, err := g.run(ctx, "diff", "--name-status", base+"...HEAD")
	if err != nil {
		return nil, fmt.Errorf("git: diff files from %q: %w", base, err)
	}
	return parseDiffNameStatus(out), nil
}

// parseDiffNameStatus parses the output of `git diff --name-status`.
func parseDiffNameStatus(output string) []DiffEntry {
	var entries []DiffEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) < 2 {
			continue
		}
		status := strings.TrimSpace(parts[0])
		// Rename entries look like "R100\told\tnew" — take first char and last field.
		if strings.HasPrefix(status, "R") {
			status = "R"
			// For renames the path is the destination (second tab-field after status).
			subparts := strings.SplitN(parts[1], "\t", 2)
			path := subparts[len(subparts)-1]
			entries = append(entries, DiffEntry{Status: status, Path: strings.TrimSpace(path)})
		} else {
			entries = append(entries, DiffEntry{Status: status, Path: strings.TrimSpace(parts[1])})
		}
	}
	return entries
}

// --- Internal helpers ---

// run executes a git command and returns stdout.
// stderr is included in the error message when the command fails.
func (g *GitClient) run(ctx context.Context, args ...string) (string, error) {
	_, stdout, stderr, err := g.runSilent(ctx, args...)
	if err != nil {
		return "", err
	}
	if stdout == "" && stderr != "" {
		// Some git commands (e.g., checkout) write to stderr on success.
		return stderr, nil
	}
	return stdout, nil
}

// runSilent executes a git command and returns the exit code, stdout, stderr,
// and an error. The error is non-nil for both exec failures (exitCode=-1, e.g.
// git binary not found) and non-zero git exits (exitCode>0). Callers that need
// to distinguish the two cases check whether exitCode == -1.
func (g *GitClient) runSilent(ctx context.Context, args ...string) (int, string, string, error) {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = g.WorkDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			// Non-zero exit is not an exec error — return it as a wrapped error
			// so callers that need it can detect the exit code.
			stderr := strings.TrimSpace(stderrBuf.String())
			stdout := strings.TrimSpace(stdoutBuf.String())
			return exitCode, stdout, stderr, fmt.Errorf("exit status %d: %s", exitCode, stderr)
		}
		// The process could not be started at all.
		return -1, "", "", runErr
	}

	return exitCode, stdoutBuf.String(), stderrBuf.String(), nil
}
