package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCheckpoint(jobID string, phase Phase) *Checkpoint {
	return &Checkpoint{
		Metadata: Metadata{
			JobID:          jobID,
			Version:        1,
			CreatedAt:      time.Now(),
			Phase:          phase,
			TotalWorkItems: 2,
			CompletedItems: 1,
		},
		WorkItemState: WorkItemState{
			Pending:    []WorkItem{{ID: "item_1"}},
			InProgress: map[string]InProgressEntry{},
			Completed:  []CompletedEntry{{WorkItem: WorkItem{ID: "item_0"}}},
		},
		AgentState: AgentState{
			ActiveAgents: map[string]string{},
			Assignments:  map[string]string{},
			Results:      map[string]AgentResult{},
		},
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	c := sampleCheckpoint("job-1", PhaseMap)
	id, err := store.Save(c)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "job-1", loaded.Metadata.JobID)
	assert.Equal(t, PhaseMap, loaded.Metadata.Phase)
	assert.NotEmpty(t, loaded.Metadata.IntegrityHash)
}

func TestFileStore_LoadMissingReturnsNotFoundError(t *testing.T) {
	store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Load("does-not-exist")
	require.Error(t, err)
	var nfe *NotFoundError
	require.ErrorAs(t, err, &nfe)
}

func TestFileStore_VerifyIntegrityDetectsTamperAfterLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(FileStoreOptions{Dir: dir, ValidateOnLoad: true})
	require.NoError(t, err)

	c := sampleCheckpoint("job-1", PhaseMap)
	id, err := store.Save(c)
	require.NoError(t, err)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	loaded.Metadata.IntegrityHash = "tampered"
	assert.Error(t, VerifyIntegrity(loaded))
}

func TestFileStore_List_OrdersOldestFirstAndFiltersByJob(t *testing.T) {
	store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	c1 := sampleCheckpoint("job-1", PhaseMap)
	c1.Metadata.Version = 1
	c1.Metadata.CreatedAt = time.Now().Add(-2 * time.Hour)
	_, err = store.Save(c1)
	require.NoError(t, err)

	c2 := sampleCheckpoint("job-1", PhaseReduce)
	c2.Metadata.Version = 2
	c2.Metadata.CreatedAt = time.Now().Add(-1 * time.Hour)
	_, err = store.Save(c2)
	require.NoError(t, err)

	c3 := sampleCheckpoint("job-2", PhaseMap)
	_, err = store.Save(c3)
	require.NoError(t, err)

	infos, err := store.List("job-1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 1, infos[0].Version)
	assert.Equal(t, 2, infos[1].Version)
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	c := sampleCheckpoint("job-1", PhaseMap)
	id, err := store.Save(c)
	require.NoError(t, err)

	require.NoError(t, store.Delete(id))
	assert.False(t, store.Exists(id))
	assert.NoError(t, store.Delete(id))
}

func TestFileStore_ValidateStructureRejectsOverCapacity(t *testing.T) {
	store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	c := sampleCheckpoint("job-1", PhaseMap)
	c.Metadata.TotalWorkItems = 1
	c.WorkItemState.Pending = []WorkItem{{ID: "x"}, {ID: "y"}}

	_, err = store.Save(c)
	assert.Error(t, err)
}

func TestFileStore_ValidateStructureRejectsOrphanedAssignment(t *testing.T) {
	store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir()})
	require.NoError(t, err)

	c := sampleCheckpoint("job-1", PhaseMap)
	c.AgentState.Assignments["agent-1"] = "item_0"

	_, err = store.Save(c)
	assert.Error(t, err)
}

func TestFileStore_RetentionKeepsOnlyMostRecent(t *testing.T) {
	keep := 1
	store, err := NewFileStore(FileStoreOptions{
		Dir:       t.TempDir(),
		Retention: RetentionPolicy{MaxCheckpoints: &keep},
	})
	require.NoError(t, err)

	c1 := sampleCheckpoint("job-1", PhaseMap)
	c1.Metadata.CreatedAt = time.Now().Add(-time.Hour)
	id1, err := store.Save(c1)
	require.NoError(t, err)

	c2 := sampleCheckpoint("job-1", PhaseReduce)
	id2, err := store.Save(c2)
	require.NoError(t, err)

	assert.False(t, store.Exists(id1))
	assert.True(t, store.Exists(id2))
}

func TestFileStore_RetentionKeepFinalExemptsCompletedCheckpoint(t *testing.T) {
	keep := 0
	store, err := NewFileStore(FileStoreOptions{
		Dir:       t.TempDir(),
		Retention: RetentionPolicy{MaxCheckpoints: &keep, KeepFinal: true},
	})
	require.NoError(t, err)

	c := sampleCheckpoint("job-1", PhaseComplete)
	id, err := store.Save(c)
	require.NoError(t, err)

	assert.True(t, store.Exists(id))
}

func TestFileStore_CompressionRoundTrips(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionGzip, CompressionZstd, CompressionLZ4} {
		store, err := NewFileStore(FileStoreOptions{Dir: t.TempDir(), Compression: comp})
		require.NoError(t, err)

		c := sampleCheckpoint("job-1", PhaseMap)
		id, err := store.Save(c)
		require.NoError(t, err)

		loaded, err := store.Load(id)
		require.NoError(t, err)
		assert.Equal(t, "job-1", loaded.Metadata.JobID)
	}
}

func TestHashWorkflowDefinition_Deterministic(t *testing.T) {
	a := HashWorkflowDefinition([]byte(`{"name":"x"}`))
	b := HashWorkflowDefinition([]byte(`{"name":"x"}`))
	c := HashWorkflowDefinition([]byte(`{"name":"y"}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
