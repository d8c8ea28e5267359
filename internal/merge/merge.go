// Package merge implements the Merge Queue: a strictly serialized, FIFO
// queue of completed agent branches, each merged into the parent workspace
// one at a time, with optional AI-assisted conflict resolution.
package merge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/corvusmr/prodigy/internal/agentrun"
	"github.com/corvusmr/prodigy/internal/workspace"
)

// Request describes one agent's branch awaiting merge into the parent
// workspace.
type Request struct {
	AgentID     string
	ItemID      string
	Branch      string
	Environment *workspace.Handle
	ParentPath  string
	EnqueuedAt  time.Time
}

// Result is the outcome of attempting to merge one Request.
type Result struct {
	Request  Request
	Success  bool
	Resolved bool // true if conflict resolution (AI-assisted) was needed and succeeded
	Error    string
	MergedAt time.Time
}

// Queue serializes merges: at most one merge runs at a time, in the order
// requests were enqueued.
type Queue struct {
	Runner agentrun.CommandRunner
	AI     agentrun.AIExecutor // optional; nil disables conflict-resolution attempts
	Logger *log.Logger

	mu       sync.Mutex
	pending  []Request
	notEmpty chan struct{}
	results  chan Result
	closed   bool
}

// NewQueue constructs an empty Merge Queue.
func NewQueue(runner agentrun.CommandRunner, ai agentrun.AIExecutor, logger *log.Logger) *Queue {
	return &Queue{
		Runner:   runner,
		AI:       ai,
		Logger:   logger,
		notEmpty: make(chan struct{}, 1),
		results:  make(chan Result, 64),
	}
}

// Enqueue appends a merge request to the tail of the queue.
func (q *Queue) Enqueue(req Request) {
	q.mu.Lock()
	req.EnqueuedAt = time.Now()
	q.pending = append(q.pending, req)
	q.mu.Unlock()
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// Results returns the channel on which completed merge outcomes are
// published, one per Request, in the order they were merged.
func (q *Queue) Results() <-chan Result {
	return q.results
}

// Run drains the queue until ctx is cancelled or Close is called,
// processing at most one merge at a time.
func (q *Queue) Run(ctx context.Context) {
	for {
		req, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				close(q.results)
				return
			case <-q.notEmpty:
				continue
			}
		}
		res := q.mergeOne(ctx, req)
		q.results <- res
	}
}

func (q *Queue) dequeue() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Request{}, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// mergeOne performs a single git merge of req.Branch into req.ParentPath. On
// conflict, and if an AIExecutor is configured, it asks the AI to resolve
// the conflict in place and commit the resolution; if that fails, or no
// AIExecutor is configured, the merge is aborted. The branch and its
// workspace are left in place whatever the outcome.
func (q *Queue) mergeOne(ctx context.Context, req Request) Result {
	res := Result{Request: req, MergedAt: time.Now()}

	mergeCmd := fmt.Sprintf("git merge --no-ff %s -m 'merge: %s'", req.Branch, req.Branch)
	out, err := q.Runner.Run(ctx, req.ParentPath, mergeCmd, nil)
	if err == nil && out.ExitCode == 0 {
		res.Success = true
		return res
	}

	if q.AI != nil {
		prompt := fmt.Sprintf(
			"Resolve the git merge conflict currently in progress in this repository "+
				"(merging branch %s), then stage and commit the resolution.", req.Branch)
		aiRes, aiErr := q.AI.Run(ctx, req.ParentPath, prompt, nil)
		if aiErr == nil && aiRes.Success {
			res.Success = true
			res.Resolved = true
			return res
		}
		q.abortMerge(ctx, req.ParentPath)
		res.Error = "conflict resolution failed"
		if aiErr != nil {
			res.Error = aiErr.Error()
		}
		return res
	}

	q.abortMerge(ctx, req.ParentPath)
	res.Error = out.Stderr
	if res.Error == "" && err != nil {
		res.Error = err.Error()
	}
	return res
}

func (q *Queue) abortMerge(ctx context.Context, parentPath string) {
	_, _ = q.Runner.Run(ctx, parentPath, "git merge --abort", nil)
}

// Close marks the queue closed. Neither Enqueue nor Run reads that flag:
// Enqueue still accepts requests after Close, and Run stops only when ctx
// is cancelled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
