package state

import (
	"time"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

// ToCheckpoint materializes a durable Checkpoint snapshot of the current
// JobState. Fields the checkpoint format tracks but JobState does not
// (resource/agent allocation bookkeeping) are filled with their zero value;
// callers that need richer agent-state detail should populate it after
// calling ToCheckpoint.
func (s JobState) ToCheckpoint(reason string, totalAgentsAllowed int) *checkpoint.Checkpoint {
	c := &checkpoint.Checkpoint{
		Metadata: checkpoint.Metadata{
			JobID:          s.JobID,
			Version:        s.CheckpointVersion,
			CreatedAt:      time.Now(),
			Phase:          s.Phase,
			TotalWorkItems: s.TotalWorkItems,
			CompletedItems: len(s.Completed),
			Reason:         reason,
		},
		ExecutionState: checkpoint.ExecutionState{
			CurrentPhase:  s.Phase,
			SetupResults:  s.SetupResults,
			MapResults:    s.MapResults,
			ReduceResults: s.ReduceResults,
		},
		WorkItemState: checkpoint.WorkItemState{
			Pending:    s.Pending,
			InProgress: s.InProgress,
			Completed:  s.Completed,
			Failed:     s.Failed,
		},
		AgentState: checkpoint.AgentState{
			ActiveAgents: activeAgentsOf(s),
			Assignments:  activeAgentsOf(s),
			Results:      resultsByItem(s),
		},
		VariableState: checkpoint.VariableState{
			WorkflowVariables: s.Variables,
		},
		ResourceState: checkpoint.ResourceState{
			TotalAgentsAllowed: totalAgentsAllowed,
			CurrentActive:      len(s.InProgress),
		},
		ErrorState: checkpoint.ErrorState{
			ErrorCount: s.ErrorCount,
			LastError:  s.LastError,
		},
	}
	return c
}

func activeAgentsOf(s JobState) map[string]string {
	m := make(map[string]string, len(s.InProgress))
	for itemID, entry := range s.InProgress {
		m[entry.AgentID] = itemID
	}
	return m
}

func resultsByItem(s JobState) map[string]checkpoint.AgentResult {
	m := make(map[string]checkpoint.AgentResult, len(s.MapResults))
	for _, r := range s.MapResults {
		m[r.ItemID] = r
	}
	return m
}

// FromCheckpoint rehydrates a JobState from a durable Checkpoint. It is the
// inverse used by the Resume Manager (§4.10) before handing state to the
// coordinator.
func FromCheckpoint(c *checkpoint.Checkpoint) JobState {
	s := JobState{
		JobID:             c.Metadata.JobID,
		Phase:             c.Metadata.Phase,
		TotalWorkItems:    c.Metadata.TotalWorkItems,
		CheckpointVersion: c.Metadata.Version,
		UpdatedAt:         c.Metadata.CreatedAt,
		Pending:           append([]checkpoint.WorkItem(nil), c.WorkItemState.Pending...),
		Completed:         append([]checkpoint.CompletedEntry(nil), c.WorkItemState.Completed...),
		Failed:            append([]checkpoint.FailedEntry(nil), c.WorkItemState.Failed...),
		SetupResults:      append([]checkpoint.AgentResult(nil), c.ExecutionState.SetupResults...),
		MapResults:        append([]checkpoint.AgentResult(nil), c.ExecutionState.MapResults...),
		ReduceResults:      append([]checkpoint.AgentResult(nil), c.ExecutionState.ReduceResults...),
		Variables:         map[string]string{},
		FailedAgents:      map[string]FailedAgentInfo{},
		ErrorCount:        c.ErrorState.ErrorCount,
		LastError:         c.ErrorState.LastError,
	}
	s.InProgress = make(map[string]checkpoint.InProgressEntry, len(c.WorkItemState.InProgress))
	for k, v := range c.WorkItemState.InProgress {
		s.InProgress[k] = v
	}
	for k, v := range c.VariableState.WorkflowVariables {
		s.Variables[k] = v
	}
	for _, f := range c.WorkItemState.Failed {
		s.FailedAgents[f.WorkItem.ID] = FailedAgentInfo{Attempts: f.RetryCount, LastError: f.Error}
	}
	return s
}
