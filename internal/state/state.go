// Package state implements the State Manager: a set of pure transition
// functions over JobState. Every function takes a JobState and returns a
// new JobState; none mutates the caller's value, and none performs I/O.
// This package is the authoritative source of "what happened" during a
// map phase.
package state

import (
	"time"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

// FailedAgentInfo tracks retry bookkeeping for one item's failure history.
type FailedAgentInfo struct {
	Attempts      int
	LastError     string
	WorktreePath  string
}

// JobState is the coordinator's in-memory view of one job's progress. It is
// structurally close to checkpoint.Checkpoint (ToCheckpoint/FromCheckpoint
// convert between the two) but is optimized for repeated, allocation-light
// pure updates rather than serialization.
type JobState struct {
	JobID            string
	Phase            checkpoint.Phase
	TotalWorkItems   int
	CheckpointVersion int
	UpdatedAt        time.Time

	Pending    []checkpoint.WorkItem
	InProgress map[string]checkpoint.InProgressEntry // item_id -> entry
	Completed  []checkpoint.CompletedEntry
	Failed     []checkpoint.FailedEntry

	FailedAgents map[string]FailedAgentInfo // item_id -> info

	ParentWorkspace string
	Variables       map[string]string

	SetupResults  []checkpoint.AgentResult
	MapResults    []checkpoint.AgentResult
	ReduceResults []checkpoint.AgentResult

	ErrorCount int
	LastError  string
}

// clone produces a deep-enough copy of s so that transition functions never
// mutate the caller's state. Slices/maps are copied; WorkItem/AgentResult
// payloads (interface{} JSON data) are shared by reference, which is safe
// because nothing in this package ever mutates a WorkItem's Data in place.
func (s JobState) clone() JobState {
	n := s
	n.Pending = append([]checkpoint.WorkItem(nil), s.Pending...)
	n.Completed = append([]checkpoint.CompletedEntry(nil), s.Completed...)
	n.Failed = append([]checkpoint.FailedEntry(nil), s.Failed...)
	n.SetupResults = append([]checkpoint.AgentResult(nil), s.SetupResults...)
	n.MapResults = append([]checkpoint.AgentResult(nil), s.MapResults...)
	n.ReduceResults = append([]checkpoint.AgentResult(nil), s.ReduceResults...)

	n.InProgress = make(map[string]checkpoint.InProgressEntry, len(s.InProgress))
	for k, v := range s.InProgress {
		n.InProgress[k] = v
	}
	n.FailedAgents = make(map[string]FailedAgentInfo, len(s.FailedAgents))
	for k, v := range s.FailedAgents {
		n.FailedAgents[k] = v
	}
	n.Variables = make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		n.Variables[k] = v
	}
	return n
}

// New creates a fresh JobState with the given pending work items.
func New(jobID string, items []checkpoint.WorkItem) JobState {
	return JobState{
		JobID:          jobID,
		Phase:          checkpoint.PhaseMap,
		TotalWorkItems: len(items),
		Pending:        append([]checkpoint.WorkItem(nil), items...),
		InProgress:     map[string]checkpoint.InProgressEntry{},
		FailedAgents:   map[string]FailedAgentInfo{},
		Variables:      map[string]string{},
		UpdatedAt:      time.Now(),
	}
}

// Dispatch moves an item from pending into in_progress, recording which
// agent owns it. Returns the unchanged state if the item is not pending.
func Dispatch(s JobState, itemID, agentID string, startedAt time.Time) JobState {
	idx := -1
	for i, wi := range s.Pending {
		if wi.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	n := s.clone()
	item := n.Pending[idx]
	n.Pending = append(n.Pending[:idx], n.Pending[idx+1:]...)
	n.InProgress[itemID] = checkpoint.InProgressEntry{
		WorkItem:   item,
		AgentID:    agentID,
		StartedAt:  startedAt,
		LastUpdate: startedAt,
	}
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}

// ApplyAgentResult updates success/failure counters, moving the item out of
// in_progress into completed or failed. Idempotent with respect to a
// duplicate Success for an item already in completed: counters are
// unchanged on the second application.
func ApplyAgentResult(s JobState, result checkpoint.AgentResult) JobState {
	if result.Status == checkpoint.StatusSuccess && alreadyCompleted(s, result.ItemID) {
		return s // idempotent: no double-count
	}

	n := s.clone()
	entry, wasInProgress := n.InProgress[result.ItemID]
	if wasInProgress {
		delete(n.InProgress, result.ItemID)
	}

	item := entry.WorkItem
	if !wasInProgress {
		item = checkpoint.WorkItem{ID: result.ItemID}
	}

	now := time.Now()
	switch result.Status {
	case checkpoint.StatusSuccess:
		n.Completed = append(n.Completed, checkpoint.CompletedEntry{
			WorkItem:    item,
			Result:      result,
			CompletedAt: now,
		})
		n.MapResults = append(n.MapResults, result)
		// A prior attempt may have recorded this item as failed; remove that
		// stale entry now that it has succeeded, so completed/failed/pending
		// stay a partition of the work items instead of double-counting one.
		if len(n.Failed) > 0 {
			kept := n.Failed[:0]
			for _, f := range n.Failed {
				if f.WorkItem.ID != result.ItemID {
					kept = append(kept, f)
				}
			}
			n.Failed = kept
		}
		delete(n.FailedAgents, result.ItemID)
	default:
		info := n.FailedAgents[result.ItemID]
		info.Attempts++
		info.LastError = result.Error
		info.WorktreePath = result.WorktreePath
		n.FailedAgents[result.ItemID] = info

		n.Failed = append(n.Failed, checkpoint.FailedEntry{
			WorkItem:   item,
			Error:      result.Error,
			FailedAt:   now,
			RetryCount: info.Attempts,
		})
		n.MapResults = append(n.MapResults, result)
		n.ErrorCount++
		n.LastError = result.Error
	}

	n.CheckpointVersion++
	n.UpdatedAt = now
	return n
}

func alreadyCompleted(s JobState, itemID string) bool {
	for _, c := range s.Completed {
		if c.WorkItem.ID == itemID {
			return true
		}
	}
	return false
}

// ShouldTransitionToReduce reports whether the map phase is done: no pending
// items and every item has reached completed-or-failed.
func ShouldTransitionToReduce(s JobState) bool {
	return len(s.Pending) == 0 && len(s.InProgress) == 0 &&
		(len(s.Completed)+len(s.Failed)) == s.TotalWorkItems
}

// GetRetriableItems returns the item IDs of failed items whose attempt count
// is below maxRetries.
func GetRetriableItems(s JobState, maxRetries int) []string {
	var ids []string
	for _, f := range s.Failed {
		info := s.FailedAgents[f.WorkItem.ID]
		if info.Attempts < maxRetries {
			ids = append(ids, f.WorkItem.ID)
		}
	}
	return ids
}

// StartReducePhase transitions the job into the Reduce phase.
func StartReducePhase(s JobState) JobState {
	n := s.clone()
	n.Phase = checkpoint.PhaseReduce
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}

// CompleteReducePhase records the reduce step's results.
func CompleteReducePhase(s JobState, results []checkpoint.AgentResult) JobState {
	n := s.clone()
	n.ReduceResults = append([]checkpoint.AgentResult(nil), results...)
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}

// MarkComplete transitions the job into the terminal Complete phase.
func MarkComplete(s JobState) JobState {
	n := s.clone()
	n.Phase = checkpoint.PhaseComplete
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}

// MarkSetupComplete records the setup step's results and advances the phase
// to Map.
func MarkSetupComplete(s JobState, results []checkpoint.AgentResult) JobState {
	n := s.clone()
	n.SetupResults = append([]checkpoint.AgentResult(nil), results...)
	n.Phase = checkpoint.PhaseMap
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}

// SetParentWorkspace records the shared parent workspace path.
func SetParentWorkspace(s JobState, path string) JobState {
	n := s.clone()
	n.ParentWorkspace = path
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}

// UpdateVariables merges additional workflow variables into the state.
func UpdateVariables(s JobState, vars map[string]string) JobState {
	n := s.clone()
	for k, v := range vars {
		n.Variables[k] = v
	}
	n.CheckpointVersion++
	n.UpdatedAt = time.Now()
	return n
}
