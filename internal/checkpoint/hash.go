package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// computeIntegrityHash enforces the invariant that integrity_hash equals the
// hash of a deterministic serialization of job_id, version, phase,
// total_work_items, completed_items, |completed|, |failed|.
//
// The wire format is a stable, field-delimited string hashed with SHA-256
// and stored as a lowercase hex string.
func computeIntegrityHash(c *Checkpoint) string {
	canonical := fmt.Sprintf("%s|%d|%s|%d|%d|%d|%d",
		c.Metadata.JobID,
		c.Metadata.Version,
		c.Metadata.Phase,
		c.Metadata.TotalWorkItems,
		c.Metadata.CompletedItems,
		len(c.WorkItemState.Completed),
		len(c.WorkItemState.Failed),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity recomputes the hash and compares it against the stored
// value, returning an IntegrityError on mismatch.
func VerifyIntegrity(c *Checkpoint) error {
	want := computeIntegrityHash(c)
	if c.Metadata.IntegrityHash != want {
		return &IntegrityError{
			CheckpointID: c.Metadata.CheckpointID,
			Expected:     want,
			Actual:       c.Metadata.IntegrityHash,
		}
	}
	return nil
}

// IntegrityError reports a checkpoint integrity-hash mismatch.
type IntegrityError struct {
	CheckpointID string
	Expected     string
	Actual       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checkpoint %s: integrity hash mismatch: expected %s, got %s",
		e.CheckpointID, e.Expected, e.Actual)
}

// Repair reconciles a checkpoint's derived fields against its authoritative
// work-item lists: recomputes counts and agent-assignment bookkeeping, but
// never rediscovers lost items. The returned checkpoint is a new version
// (fresh CheckpointID, Version+1); callers persist it via Store.Save.
func Repair(c *Checkpoint) *Checkpoint {
	repaired := *c
	repaired.Metadata.CheckpointID = ""
	repaired.Metadata.Version = c.Metadata.Version + 1
	repaired.Metadata.CompletedItems = len(c.WorkItemState.Completed)

	assignments := make(map[string]string, len(c.WorkItemState.InProgress))
	active := make(map[string]string, len(c.WorkItemState.InProgress))
	for itemID, entry := range c.WorkItemState.InProgress {
		assignments[entry.AgentID] = itemID
		active[entry.AgentID] = itemID
	}
	repaired.AgentState.Assignments = assignments
	repaired.AgentState.ActiveAgents = active

	repaired.ErrorState.DLQItems = len(c.WorkItemState.Failed)
	repaired.Metadata.Reason = "repair"
	return &repaired
}

// HashWorkflowDefinition computes the SHA-256 hex digest of a canonicalized
// workflow definition, used by the Resume Manager to detect a modified
// workflow file. Canonicalization is the caller's responsibility (typically:
// marshal the parsed definition back to a deterministically-keyed JSON
// document); this function only hashes the provided canonical bytes.
func HashWorkflowDefinition(canonicalJSON []byte) string {
	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:])
}
