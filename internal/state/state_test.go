package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

func items(ids ...string) []checkpoint.WorkItem {
	out := make([]checkpoint.WorkItem, len(ids))
	for i, id := range ids {
		out[i] = checkpoint.WorkItem{ID: id}
	}
	return out
}

func TestNew_SeedsPendingFromItems(t *testing.T) {
	s := New("job-1", items("a", "b"))
	assert.Equal(t, checkpoint.PhaseMap, s.Phase)
	assert.Equal(t, 2, s.TotalWorkItems)
	assert.Len(t, s.Pending, 2)
}

func TestDispatch_MovesItemToInProgress(t *testing.T) {
	s := New("job-1", items("a", "b"))
	next := Dispatch(s, "a", "agent-1", time.Now())

	assert.Len(t, next.Pending, 1)
	assert.Equal(t, "b", next.Pending[0].ID)
	assert.Contains(t, next.InProgress, "a")
	assert.Equal(t, "agent-1", next.InProgress["a"].AgentID)
	assert.Equal(t, 1, next.CheckpointVersion)
}

func TestDispatch_DoesNotMutateOriginal(t *testing.T) {
	s := New("job-1", items("a"))
	_ = Dispatch(s, "a", "agent-1", time.Now())
	assert.Len(t, s.Pending, 1, "original state must be unchanged")
	assert.Empty(t, s.InProgress)
}

func TestDispatch_UnknownItemIsNoop(t *testing.T) {
	s := New("job-1", items("a"))
	next := Dispatch(s, "missing", "agent-1", time.Now())
	assert.Equal(t, s, next)
}

func TestApplyAgentResult_Success(t *testing.T) {
	s := New("job-1", items("a"))
	s = Dispatch(s, "a", "agent-1", time.Now())

	next := ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusSuccess})
	assert.Empty(t, next.InProgress)
	assert.Len(t, next.Completed, 1)
	assert.Equal(t, "a", next.Completed[0].WorkItem.ID)
}

func TestApplyAgentResult_SuccessIsIdempotent(t *testing.T) {
	s := New("job-1", items("a"))
	s = Dispatch(s, "a", "agent-1", time.Now())
	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusSuccess})

	again := ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusSuccess})
	assert.Len(t, again.Completed, 1, "duplicate success must not double-count")
	assert.Equal(t, s.CheckpointVersion, again.CheckpointVersion)
}

func TestApplyAgentResult_FailureTracksRetryCount(t *testing.T) {
	s := New("job-1", items("a"))
	s = Dispatch(s, "a", "agent-1", time.Now())

	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusFailed, Error: "boom"})
	require.Len(t, s.Failed, 1)
	assert.Equal(t, 1, s.Failed[0].RetryCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, "boom", s.LastError)

	s = Dispatch(s, "a", "agent-2", time.Now())
	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusFailed, Error: "boom again"})
	require.Len(t, s.Failed, 2)
	assert.Equal(t, 2, s.Failed[1].RetryCount)
}

func TestShouldTransitionToReduce(t *testing.T) {
	s := New("job-1", items("a"))
	assert.False(t, ShouldTransitionToReduce(s))

	s = Dispatch(s, "a", "agent-1", time.Now())
	assert.False(t, ShouldTransitionToReduce(s))

	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusSuccess})
	assert.True(t, ShouldTransitionToReduce(s))
}

func TestGetRetriableItems_FiltersByMaxRetries(t *testing.T) {
	s := New("job-1", items("a", "b"))
	s = Dispatch(s, "a", "agent-1", time.Now())
	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusFailed, Error: "x"})
	s = Dispatch(s, "b", "agent-2", time.Now())
	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "b", Status: checkpoint.StatusFailed, Error: "x"})
	s = Dispatch(s, "b", "agent-2", time.Now())
	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "b", Status: checkpoint.StatusFailed, Error: "x"})

	retriable := GetRetriableItems(s, 2)
	assert.Equal(t, []string{"a"}, retriable)
}

func TestPhaseTransitions(t *testing.T) {
	s := New("job-1", items("a"))
	s = MarkSetupComplete(s, []checkpoint.AgentResult{{ItemID: "setup"}})
	assert.Equal(t, checkpoint.PhaseMap, s.Phase)
	assert.Len(t, s.SetupResults, 1)

	s = StartReducePhase(s)
	assert.Equal(t, checkpoint.PhaseReduce, s.Phase)

	s = CompleteReducePhase(s, []checkpoint.AgentResult{{ItemID: "reduce"}})
	assert.Len(t, s.ReduceResults, 1)

	s = MarkComplete(s)
	assert.Equal(t, checkpoint.PhaseComplete, s.Phase)
}

func TestUpdateVariables_Merges(t *testing.T) {
	s := New("job-1", nil)
	s = UpdateVariables(s, map[string]string{"a": "1"})
	s = UpdateVariables(s, map[string]string{"b": "2"})
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, s.Variables)
}

func TestToCheckpoint_FromCheckpoint_RoundTrip(t *testing.T) {
	s := New("job-1", items("a", "b"))
	s = Dispatch(s, "a", "agent-1", time.Now())
	s = ApplyAgentResult(s, checkpoint.AgentResult{ItemID: "a", Status: checkpoint.StatusSuccess})
	s = UpdateVariables(s, map[string]string{"key": "value"})

	c := s.ToCheckpoint("test", 5)
	assert.Equal(t, "job-1", c.Metadata.JobID)
	assert.Equal(t, 1, c.Metadata.CompletedItems)

	restored := FromCheckpoint(c)
	assert.Equal(t, s.JobID, restored.JobID)
	assert.Equal(t, s.Phase, restored.Phase)
	assert.Equal(t, s.TotalWorkItems, restored.TotalWorkItems)
	assert.Equal(t, s.Variables, restored.Variables)
	assert.Len(t, restored.Completed, 1)
	assert.Len(t, restored.Pending, 1)
}
