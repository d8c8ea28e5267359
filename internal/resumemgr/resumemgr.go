// Package resumemgr implements the Resume Manager: locating the latest
// resumable checkpoint, validating its integrity and workflow hash,
// selecting a resume strategy from the recorded phase, and rehydrating a
// state.JobState the coordinator can continue from.
package resumemgr

import (
	"fmt"
	"sort"

	"github.com/corvusmr/prodigy/internal/checkpoint"
	"github.com/corvusmr/prodigy/internal/dlq"
	"github.com/corvusmr/prodigy/internal/session"
	"github.com/corvusmr/prodigy/internal/state"
)

// Strategy names the rehydration rule applied to a checkpoint's phase.
type Strategy string

const (
	ContinueFromCheckpoint Strategy = "ContinueFromCheckpoint"
	ValidateAndContinue    Strategy = "ValidateAndContinue"
	RestartCurrentPhase    Strategy = "RestartCurrentPhase"
	RestartFromMapPhase    Strategy = "RestartFromMapPhase"
)

// Options configures one resume attempt.
type Options struct {
	SessionID         string
	Force             bool
	FromCheckpointID  string // explicit checkpoint id; empty selects the latest
	RestartFromMap    bool   // operator override: always RestartFromMapPhase
	IncludeDLQItems   bool
	MaxAdditionalRetries int

	Sessions    session.Store
	Checkpoints checkpoint.Store
	DLQ         dlq.Store

	// CurrentWorkflowHash is the SHA-256 hex digest of the workflow file
	// as it exists on disk right now (checkpoint.HashWorkflowDefinition
	// applied to workflowfile.Definition.CanonicalJSON).
	CurrentWorkflowHash string
}

// Result is everything the coordinator needs to continue a job.
type Result struct {
	Session    *session.Record
	Checkpoint *checkpoint.Checkpoint
	Strategy   Strategy
	State      state.JobState
}

// MismatchError reports a workflow-hash mismatch between the checkpoint and
// the current workflow file, refused unless Options.Force is set.
type MismatchError struct {
	CheckpointHash string
	CurrentHash    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("resumemgr: workflow hash mismatch: checkpoint has %s, current file has %s (use --force to override)",
		e.CheckpointHash, e.CurrentHash)
}

// NotResumableError reports a session whose status forbids resume without
// --force.
type NotResumableError struct {
	SessionID string
	Status    session.Status
}

func (e *NotResumableError) Error() string {
	return fmt.Sprintf("resumemgr: session %s has status %s, not resumable without --force", e.SessionID, e.Status)
}

// Resume executes the full §4.10 procedure.
func Resume(opts Options) (*Result, error) {
	sess, err := opts.Sessions.Load(opts.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resumemgr: loading session: %w", err)
	}
	if !sess.Status.Resumable() && !opts.Force {
		return nil, &NotResumableError{SessionID: sess.SessionID, Status: sess.Status}
	}

	cp, err := latestCheckpoint(opts.Checkpoints, sess.JobID, opts.FromCheckpointID)
	if err != nil {
		return nil, err
	}

	if err := checkpoint.VerifyIntegrity(cp); err != nil && !opts.Force {
		return nil, err
	}

	if opts.CurrentWorkflowHash != "" && cp.WorkflowHash != "" &&
		cp.WorkflowHash != opts.CurrentWorkflowHash && !opts.Force {
		return nil, &MismatchError{CheckpointHash: cp.WorkflowHash, CurrentHash: opts.CurrentWorkflowHash}
	}

	strategy := selectStrategy(cp, opts.RestartFromMap)
	s := rehydrate(cp, strategy)

	if opts.IncludeDLQItems && opts.DLQ != nil {
		s, err = includeDLQItems(s, opts.DLQ, sess.JobID, opts.MaxAdditionalRetries)
		if err != nil {
			return nil, err
		}
	}

	return &Result{Session: sess, Checkpoint: cp, Strategy: strategy, State: s}, nil
}

func latestCheckpoint(store checkpoint.Store, jobID, explicitID string) (*checkpoint.Checkpoint, error) {
	if explicitID != "" {
		return store.Load(explicitID)
	}
	infos, err := store.List(jobID)
	if err != nil {
		return nil, fmt.Errorf("resumemgr: listing checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("resumemgr: no checkpoints found for job %s", jobID)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version > infos[j].Version })
	return store.Load(infos[0].CheckpointID)
}

// selectStrategy picks the rehydration rule for the checkpoint's phase.
func selectStrategy(cp *checkpoint.Checkpoint, forceRestartFromMap bool) Strategy {
	if forceRestartFromMap {
		return RestartFromMapPhase
	}
	switch cp.Metadata.Phase {
	case checkpoint.PhaseReduce, checkpoint.PhaseComplete:
		return ContinueFromCheckpoint
	case checkpoint.PhaseMap:
		if len(cp.WorkItemState.InProgress) == 0 {
			return ContinueFromCheckpoint
		}
		return ValidateAndContinue
	case checkpoint.PhaseSetup:
		return RestartCurrentPhase
	default:
		return ContinueFromCheckpoint
	}
}

// rehydrate applies the selected strategy's state transformation to the
// checkpoint's rehydrated JobState.
func rehydrate(cp *checkpoint.Checkpoint, strategy Strategy) state.JobState {
	s := state.FromCheckpoint(cp)

	switch strategy {
	case ContinueFromCheckpoint:
		return s

	case ValidateAndContinue:
		for _, entry := range s.InProgress {
			s.Pending = append(s.Pending, entry.WorkItem)
		}
		s.InProgress = map[string]checkpoint.InProgressEntry{}
		return s

	case RestartCurrentPhase:
		for _, entry := range s.InProgress {
			s.Pending = append(s.Pending, entry.WorkItem)
		}
		s.InProgress = map[string]checkpoint.InProgressEntry{}
		s.Completed = nil
		return s

	case RestartFromMapPhase:
		var pooled []checkpoint.WorkItem
		pooled = append(pooled, s.Pending...)
		for _, entry := range s.InProgress {
			pooled = append(pooled, entry.WorkItem)
		}
		for _, c := range s.Completed {
			pooled = append(pooled, c.WorkItem)
		}
		for _, f := range s.Failed {
			pooled = append(pooled, f.WorkItem)
		}
		s.Pending = pooled
		s.InProgress = map[string]checkpoint.InProgressEntry{}
		s.Completed = nil
		s.Failed = nil
		s.Phase = checkpoint.PhaseMap
		return s
	}
	return s
}

// includeDLQItems prepends retry-eligible DLQ entries to pending,
// deduplicating by item id against everything already pending.
func includeDLQItems(s state.JobState, store dlq.Store, jobID string, maxAdditionalRetries int) (state.JobState, error) {
	eligible := true
	items, err := store.List(jobID, dlq.Filter{ReprocessEligible: &eligible})
	if err != nil {
		return s, fmt.Errorf("resumemgr: listing dlq items: %w", err)
	}

	present := make(map[string]bool, len(s.Pending))
	for _, wi := range s.Pending {
		present[wi.ID] = true
	}

	var fromDLQ []checkpoint.WorkItem
	for _, item := range items {
		if present[item.ItemID] {
			continue
		}
		if maxAdditionalRetries > 0 && item.FailureCount >= maxAdditionalRetries {
			continue
		}
		fromDLQ = append(fromDLQ, checkpoint.WorkItem{ID: item.ItemID, Data: item.ItemData})
		present[item.ItemID] = true
	}
	s.Pending = append(fromDLQ, s.Pending...)
	return s, nil
}
