// Package coordinator implements the MapReduce execution engine's phase
// machine: Setup -> Map -> Reduce -> Complete, bounded-parallel agent
// dispatch during Map, checkpoint-on-policy, and dry-run validation.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/corvusmr/prodigy/internal/agentrun"
	"github.com/corvusmr/prodigy/internal/checkpoint"
	"github.com/corvusmr/prodigy/internal/datapipeline"
	"github.com/corvusmr/prodigy/internal/dlq"
	"github.com/corvusmr/prodigy/internal/events"
	"github.com/corvusmr/prodigy/internal/state"
	"github.com/corvusmr/prodigy/internal/timeoutenf"
	"github.com/corvusmr/prodigy/internal/workflowfile"
)

// CheckpointPolicy governs how often the coordinator writes a checkpoint
// during the Map phase.
type CheckpointPolicy struct {
	// ItemInterval checkpoints after every N completed items (0 disables).
	ItemInterval int
	// DurationInterval checkpoints after at least this much wall time has
	// elapsed since the last checkpoint (0 disables).
	DurationInterval time.Duration
	// OnPhaseBoundary always checkpoints on every phase transition.
	OnPhaseBoundary bool
}

// Options configures one Coordinator run.
type Options struct {
	JobID            string
	ParentWorkspace  string
	Definition       *workflowfile.Definition
	CheckpointStore  checkpoint.Store
	DLQStore         dlq.Store
	Sink             events.Sink
	Manager          *agentrun.Manager
	Policy           CheckpointPolicy
	DryRun           bool

	// TotalAgentsAllowed caps ResourceState reporting;
	// Definition.Map.MaxParallel is the concurrency cap actually enforced.
	TotalAgentsAllowed int
}

// Coordinator drives one job's phase machine to completion.
type Coordinator struct {
	opts   Options
	logger *log.Logger

	mu              sync.Mutex
	state           state.JobState
	lastCheckpoint  time.Time
	sinceCheckpoint int
}

// New constructs a Coordinator for a fresh job (no prior checkpoint).
func New(opts Options, logger *log.Logger) *Coordinator {
	return &Coordinator{opts: opts, logger: logger}
}

// Resume constructs a Coordinator whose JobState is rehydrated from an
// existing in-memory state (typically produced by
// state.FromCheckpoint via the resumemgr package).
func Resume(opts Options, initial state.JobState, logger *log.Logger) *Coordinator {
	return &Coordinator{opts: opts, logger: logger, state: initial}
}

// Validate performs the dry-run checks: parses and compiles the workflow's
// data pipeline configuration without dispatching any agents. A real run
// checks only Definition.Validate before Setup; the data pipeline is
// compiled and run at the start of the Map phase.
func (c *Coordinator) Validate(ctx context.Context, rawInput []byte) (int, error) {
	if err := c.opts.Definition.Validate(); err != nil {
		return 0, err
	}
	if !c.opts.Definition.IsMapReduce() {
		return 0, nil
	}
	cfg, err := pipelineConfig(c.opts.Definition.Map)
	if err != nil {
		return 0, err
	}
	compiled, err := datapipeline.Compile(cfg)
	if err != nil {
		return 0, err
	}
	items, err := compiled.Run(rawInput)
	if err != nil {
		return 0, fmt.Errorf("coordinator: validating data pipeline: %w", err)
	}
	return len(items), nil
}

// Run drives the job through Setup, Map, Reduce, and Complete. rawInput is
// the raw JSON document the Map phase's input pipeline consumes.
func (c *Coordinator) Run(ctx context.Context, rawInput []byte) (state.JobState, error) {
	if c.opts.DryRun {
		n, err := c.Validate(ctx, rawInput)
		if err != nil {
			return c.state, err
		}
		c.emit("dry_run_validated", map[string]interface{}{"item_count": n})
		return c.state, nil
	}

	if err := c.opts.Definition.Validate(); err != nil {
		return c.state, err
	}

	if c.state.JobID == "" {
		if err := c.runSetup(ctx); err != nil {
			return c.state, err
		}
	}

	if c.opts.Definition.IsMapReduce() {
		if err := c.runMap(ctx, rawInput); err != nil {
			return c.state, err
		}
		if err := c.runReduce(ctx); err != nil {
			return c.state, err
		}
	} else {
		if err := c.runCommands(ctx); err != nil {
			return c.state, err
		}
	}

	c.mu.Lock()
	c.state = state.MarkComplete(c.state)
	c.mu.Unlock()
	c.checkpointNow("phase_complete")
	c.emit("job_complete", map[string]interface{}{"job_id": c.opts.JobID})

	return c.state, nil
}

func (c *Coordinator) runSetup(ctx context.Context) error {
	c.emit("phase_start", map[string]interface{}{"phase": string(checkpoint.PhaseSetup)})
	var results []checkpoint.AgentResult
	for _, step := range c.opts.Definition.Setup {
		item := checkpoint.WorkItem{ID: "setup"}
		res, handle, err := c.opts.Manager.RunItem(ctx, c.opts.ParentWorkspace, "setup", item, []workflowfile.Step{step}, 0)
		if err != nil {
			return fmt.Errorf("coordinator: setup step failed: %w", err)
		}
		if handle != nil {
			_ = c.opts.Manager.Workspace.Destroy(ctx, handle)
		}
		results = append(results, *res)
		if res.Status != checkpoint.StatusSuccess {
			return fmt.Errorf("coordinator: setup step failed: %s", res.Error)
		}
	}

	c.mu.Lock()
	if c.state.JobID == "" {
		c.state = state.New(c.opts.JobID, nil)
	}
	c.state = state.SetParentWorkspace(c.state, c.opts.ParentWorkspace)
	c.state = state.MarkSetupComplete(c.state, results)
	c.mu.Unlock()

	if c.opts.Policy.OnPhaseBoundary {
		c.checkpointNow("phase_boundary:setup")
	}
	return nil
}

// runMap loads work items via the data pipeline and dispatches them with
// bounded parallelism: agents share no mutable state, and the only shared
// write path is the single-writer JobState guarded by c.mu.
func (c *Coordinator) runMap(ctx context.Context, rawInput []byte) error {
	c.emit("phase_start", map[string]interface{}{"phase": string(checkpoint.PhaseMap)})

	cfg, err := pipelineConfig(c.opts.Definition.Map)
	if err != nil {
		return err
	}
	compiled, err := datapipeline.Compile(cfg)
	if err != nil {
		return err
	}
	pipelineItems, err := compiled.Run(rawInput)
	if err != nil {
		return fmt.Errorf("coordinator: running data pipeline: %w", err)
	}

	items := make([]checkpoint.WorkItem, len(pipelineItems))
	for i, it := range pipelineItems {
		items[i] = checkpoint.WorkItem{ID: it.ID, Data: it.Data}
	}

	c.mu.Lock()
	pending := c.pendingItems(items)
	c.mu.Unlock()

	agentTimeout, err := timeoutenf.ParseDuration(c.opts.Definition.Map.AgentTimeout)
	if err != nil {
		return err
	}
	maxParallel := c.opts.Definition.Map.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	var wg sync.WaitGroup
	for i, item := range pending {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(idx int, item checkpoint.WorkItem) {
			defer sem.Release(1)
			defer wg.Done()
			c.dispatchOne(ctx, item, idx, agentTimeout)
		}(i, item)
	}
	wg.Wait()

	c.mu.Lock()
	retriable := state.GetRetriableItems(c.state, c.opts.Definition.Map.MaxRetries)
	c.mu.Unlock()
	if len(retriable) > 0 {
		c.emit("retries_pending", map[string]interface{}{"items": retriable})
	}

	c.mu.Lock()
	done := state.ShouldTransitionToReduce(c.state)
	c.mu.Unlock()
	if !done {
		return fmt.Errorf("coordinator: map phase ended with items neither completed nor failed")
	}

	if c.opts.Policy.OnPhaseBoundary {
		c.checkpointNow("phase_boundary:map")
	}
	return nil
}

func (c *Coordinator) pendingItems(items []checkpoint.WorkItem) []checkpoint.WorkItem {
	if c.state.JobID == "" {
		c.state = state.New(c.opts.JobID, items)
		return append([]checkpoint.WorkItem(nil), items...)
	}
	return append([]checkpoint.WorkItem(nil), c.state.Pending...)
}

func (c *Coordinator) dispatchOne(ctx context.Context, item checkpoint.WorkItem, idx int, agentTimeout time.Duration) {
	agentID := fmt.Sprintf("agent-%d", idx)

	c.mu.Lock()
	c.state = state.Dispatch(c.state, item.ID, agentID, time.Now())
	c.mu.Unlock()
	c.emit("agent_started", map[string]interface{}{"agent_id": agentID, "item_id": item.ID})

	result, handle, err := c.opts.Manager.RunItem(ctx, c.opts.ParentWorkspace, agentID, item, c.opts.Definition.Map.AgentTemplate, agentTimeout)
	if err != nil {
		result = &checkpoint.AgentResult{ItemID: item.ID, Status: checkpoint.StatusFailed, Error: err.Error()}
	}

	if handle != nil {
		if result.Status == checkpoint.StatusSuccess {
			_ = c.opts.Manager.Workspace.Destroy(ctx, handle)
		}
	}

	c.mu.Lock()
	c.state = state.ApplyAgentResult(c.state, *result)
	c.sinceCheckpoint++
	c.mu.Unlock()

	if c.opts.DLQStore != nil {
		if result.Status != checkpoint.StatusSuccess {
			c.sendToDLQ(item, *result)
		} else {
			// A retried item that previously landed in the DLQ has now
			// succeeded; clear its entry rather than leaving a stale record
			// for a work item the job no longer considers failed.
			_ = c.opts.DLQStore.Remove(c.opts.JobID, item.ID)
		}
	}

	c.emit("agent_finished", map[string]interface{}{
		"agent_id": agentID, "item_id": item.ID, "status": string(result.Status),
	})

	c.maybeCheckpoint()
}

func (c *Coordinator) sendToDLQ(item checkpoint.WorkItem, result checkpoint.AgentResult) {
	maxRetries := c.opts.Definition.Map.MaxRetries
	errType := dlq.ErrorCommandFailed
	if result.Status == checkpoint.StatusTimeout {
		errType = dlq.ErrorTimeout
	}
	failure := dlq.FailureDetail{
		Timestamp:       time.Now(),
		ErrorType:       errType,
		Message:         result.Error,
		AgentID:         result.WorktreePath,
		Duration:        result.Duration,
		JSONLogLocation: result.LogLocation,
	}
	record := dlq.NewOrUpdated(nil, item.ID, item.Data, failure, maxRetries)
	record.ErrorSignature = dlq.ErrorSignature(result.Error)
	_ = c.opts.DLQStore.Add(c.opts.JobID, record)
}

// runReduce interpolates map-phase aggregates into the reduce step template
// and runs it once.
func (c *Coordinator) runReduce(ctx context.Context) error {
	c.emit("phase_start", map[string]interface{}{"phase": string(checkpoint.PhaseReduce)})

	c.mu.Lock()
	c.state = state.StartReducePhase(c.state)
	mapResults := append([]checkpoint.AgentResult(nil), c.state.MapResults...)
	c.mu.Unlock()

	if len(c.opts.Definition.Reduce) == 0 {
		c.mu.Lock()
		c.state = state.CompleteReducePhase(c.state, nil)
		c.mu.Unlock()
		return nil
	}

	item := checkpoint.WorkItem{ID: "reduce"}
	res, handle, err := c.opts.Manager.RunItem(ctx, c.opts.ParentWorkspace, "reduce", item, c.opts.Definition.Reduce, 0)
	if err != nil {
		return fmt.Errorf("coordinator: reduce step failed: %w", err)
	}
	if handle != nil {
		_ = c.opts.Manager.Workspace.Destroy(ctx, handle)
	}

	c.mu.Lock()
	c.state = state.CompleteReducePhase(c.state, append(mapResults, *res))
	c.mu.Unlock()

	if res.Status != checkpoint.StatusSuccess {
		return fmt.Errorf("coordinator: reduce step failed: %s", res.Error)
	}

	if c.opts.Policy.OnPhaseBoundary {
		c.checkpointNow("phase_boundary:reduce")
	}
	return nil
}

// runCommands executes the simple sequential-`commands:` mode (no
// map/reduce) as a single logical agent.
func (c *Coordinator) runCommands(ctx context.Context) error {
	item := checkpoint.WorkItem{ID: "commands"}
	res, handle, err := c.opts.Manager.RunItem(ctx, c.opts.ParentWorkspace, "main", item, c.opts.Definition.Commands, 0)
	if err != nil {
		return fmt.Errorf("coordinator: commands failed: %w", err)
	}
	if handle != nil && res.Status == checkpoint.StatusSuccess {
		_ = c.opts.Manager.Workspace.Destroy(ctx, handle)
	}
	if res.Status != checkpoint.StatusSuccess {
		return fmt.Errorf("coordinator: commands failed: %s", res.Error)
	}
	return nil
}

// maybeCheckpoint saves a checkpoint if the item-interval or
// duration-interval policy has been crossed since the last save.
func (c *Coordinator) maybeCheckpoint() {
	c.mu.Lock()
	due := false
	if c.opts.Policy.ItemInterval > 0 && c.sinceCheckpoint >= c.opts.Policy.ItemInterval {
		due = true
	}
	if c.opts.Policy.DurationInterval > 0 && time.Since(c.lastCheckpoint) >= c.opts.Policy.DurationInterval {
		due = true
	}
	c.mu.Unlock()
	if due {
		c.checkpointNow("policy")
	}
}

func (c *Coordinator) checkpointNow(reason string) {
	if c.opts.CheckpointStore == nil {
		return
	}
	c.mu.Lock()
	cp := c.state.ToCheckpoint(reason, c.opts.TotalAgentsAllowed)
	c.sinceCheckpoint = 0
	c.lastCheckpoint = time.Now()
	c.mu.Unlock()

	if def := c.opts.Definition; def != nil {
		if raw, err := def.CanonicalJSON(); err == nil {
			cp.WorkflowHash = checkpoint.HashWorkflowDefinition(raw)
		}
	}

	if _, err := c.opts.CheckpointStore.Save(cp); err != nil {
		c.emit("checkpoint_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.emit("checkpoint_saved", map[string]interface{}{"reason": reason, "version": cp.Metadata.Version})
}

func (c *Coordinator) emit(kind string, fields map[string]interface{}) {
	if c.opts.Sink == nil {
		return
	}
	c.opts.Sink.Emit(events.Event{Kind: kind, JobID: c.opts.JobID, At: time.Now(), Fields: fields})
}

func pipelineConfig(m *workflowfile.MapSpec) (datapipeline.Config, error) {
	cfg := datapipeline.Config{
		JSONPath:      m.JSONPath,
		Filter:        m.Filter,
		DistinctField: m.DistinctField,
		Offset:        m.Offset,
		Limit:         m.MaxItems,
	}
	if m.SortBy != "" {
		cfg.SortKeys = []datapipeline.SortKey{{Field: m.SortBy}}
	}
	return cfg, nil
}
