// Package workspace implements the WorkspaceProvider capability: creation
// and destruction of isolated, copy-on-write agent workspaces, each an
// independent clone of a shared parent workspace on its own branch. The
// concrete version-control tool is an external collaborator reached
// through os/exec.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/corvusmr/prodigy/internal/git"
)

// Handle identifies one agent's isolated workspace.
type Handle struct {
	AgentID  string
	ItemID   string
	Branch   string
	Path     string
	Parent   string
	CreatedAt time.Time
}

// Orphaned records a workspace whose cleanup failed -- non-fatal to the
// owning agent's verdict.
type Orphaned struct {
	Handle Handle
	Reason string
	At     time.Time
}

// Provider is the WorkspaceProvider capability.
type Provider interface {
	// Create clones parentPath onto a new branch named
	// "agent-<agentID>-<itemID>" and returns a Handle owning the result.
	Create(ctx context.Context, parentPath, agentID, itemID string) (*Handle, error)

	// Destroy removes the workspace at h.Path. Failure is recorded via
	// OrphanedWorktree bookkeeping rather than returned as a hard error to
	// the caller's agent verdict -- callers that need to know should check
	// the returned error explicitly only when they must (e.g. disk-usage
	// alarms); the Agent Manager itself treats it as non-fatal.
	Destroy(ctx context.Context, h *Handle) error

	// ListOrphaned returns every workspace whose Destroy call failed and
	// has not since been cleaned up.
	ListOrphaned() []Orphaned
}

// GitProvider is a Provider backed by the `git worktree` command.
type GitProvider struct {
	GitBin    string
	RootDir   string // base directory under which agent worktrees are created

	mu       sync.Mutex
	orphaned []Orphaned
}

var _ Provider = (*GitProvider)(nil)

// NewGitProvider constructs a GitProvider rooted at rootDir (e.g.
// "<base>/worktrees/<repo>/<job_id>").
func NewGitProvider(rootDir string) (*GitProvider, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: creating root dir: %w", err)
	}
	return &GitProvider{GitBin: "git", RootDir: rootDir}, nil
}

func (g *GitProvider) branchName(agentID, itemID string) string {
	return fmt.Sprintf("agent-%s-%s", agentID, itemID)
}

// Create adds a git worktree cloned from parentPath on a fresh branch. The
// parent's working tree is stashed first if dirty, so the new worktree
// starts from a state matching the parent's last commit rather than
// whatever happens to be in flight there; the stash is restored immediately
// after the worktree is created.
func (g *GitProvider) Create(ctx context.Context, parentPath, agentID, itemID string) (*Handle, error) {
	branch := g.branchName(agentID, itemID)
	path := filepath.Join(g.RootDir, branch)

	parentClient := &git.GitClient{WorkDir: parentPath, GitBin: g.gitBin()}
	restore, err := parentClient.EnsureClean(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace: preparing parent %s: %w", parentPath, err)
	}
	defer func() { _ = restore() }()

	if _, _, err := g.run(ctx, parentPath, "worktree", "add", "-b", branch, path); err != nil {
		return nil, fmt.Errorf("workspace: creating worktree for agent %s: %w", agentID, err)
	}

	return &Handle{
		AgentID:   agentID,
		ItemID:    itemID,
		Branch:    branch,
		Path:      path,
		Parent:    parentPath,
		CreatedAt: time.Now(),
	}, nil
}

// Destroy removes the git worktree and deletes its branch. Cleanup failure
// never propagates as the agent's verdict; the workspace is instead
// recorded as orphaned for later inspection or manual reclamation.
func (g *GitProvider) Destroy(ctx context.Context, h *Handle) error {
	_, _, err := g.run(ctx, h.Parent, "worktree", "remove", "--force", h.Path)
	if err != nil {
		g.mu.Lock()
		g.orphaned = append(g.orphaned, Orphaned{Handle: *h, Reason: err.Error(), At: time.Now()})
		g.mu.Unlock()
		return fmt.Errorf("workspace: removing worktree %s: %w", h.Path, err)
	}
	// Best-effort branch cleanup; a failure here does not orphan the
	// worktree (already removed) and is not otherwise actionable.
	_, _, _ = g.run(ctx, h.Parent, "branch", "-D", h.Branch)
	return nil
}

// ListOrphaned returns a snapshot of every workspace whose Destroy call
// failed.
func (g *GitProvider) ListOrphaned() []Orphaned {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Orphaned(nil), g.orphaned...)
}

func (g *GitProvider) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, g.GitBin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%s: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), stderr.String(), nil
}

// DiffFiles returns the set of files changed in the workspace relative to
// its branch point, used by the Agent Manager to populate
// AgentResult.FilesModified. It delegates to git.Client's structured diff
// parsing (the same client the review pipeline uses) rather than
// reimplementing `git diff --name-only` output parsing here.
func (g *GitProvider) DiffFiles(ctx context.Context, h *Handle) ([]string, error) {
	parentHead, _, err := g.run(ctx, h.Parent, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	client := &git.GitClient{WorkDir: h.Path, GitBin: g.gitBin()}
	entries, err := client.DiffFiles(ctx, splitLines(parentHead)[0])
	if err != nil {
		return nil, err
	}
	files := make([]string, len(entries))
	for i, e := range entries {
		files[i] = e.Path
	}
	return files, nil
}

func (g *GitProvider) gitBin() string {
	if g.GitBin == "" {
		return "git"
	}
	return g.GitBin
}

// Commits returns the list of commit SHAs made in the workspace since it
// diverged from its parent branch.
func (g *GitProvider) Commits(ctx context.Context, h *Handle) ([]string, error) {
	parentHead, _, err := g.run(ctx, h.Parent, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	out, _, err := g.run(ctx, h.Path, "log", "--format=%H", splitLines(parentHead)[0]+".."+h.Branch)
	if err != nil {
		return nil, err
	}
	var shas []string
	for _, line := range splitLines(out) {
		if line != "" {
			shas = append(shas, line)
		}
	}
	return shas, nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
