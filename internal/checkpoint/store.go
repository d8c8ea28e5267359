package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

// Store is the checkpoint persistence capability.
type Store interface {
	Save(c *Checkpoint) (string, error)
	Load(id string) (*Checkpoint, error)
	List(jobID string) ([]Info, error)
	Delete(id string) error
	Exists(id string) bool
}

// RetentionPolicy governs how many (and which) superseded checkpoints a
// job keeps on disk, evaluated after every Save.
type RetentionPolicy struct {
	// MaxCheckpoints, if non-nil, keeps only the N most recent checkpoints
	// for a job (0 keeps none, subject to KeepFinal).
	MaxCheckpoints *int

	// MaxAge, if non-nil, deletes checkpoints older than this duration.
	// The boundary is inclusive: equal-age checkpoints are kept, evaluated
	// with strictly-less-than the cutoff.
	MaxAge *time.Duration

	// KeepFinal, when true, never deletes the checkpoint whose phase is
	// Complete, even if it would otherwise be evicted.
	KeepFinal bool
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	Dir            string
	Compression    Compression
	ValidateOnLoad bool
	Retention      RetentionPolicy
}

// FileStore is a CheckpointStore backed by one JSON file per checkpoint
// under Dir, named "<id>.checkpoint.json" (optionally compressed),
// following the write-to-temp-plus-rename atomicity pattern used throughout
// the on-disk layout.
type FileStore struct {
	opts  FileStoreOptions
	codec codec
}

var _ Store = (*FileStore)(nil)

// NewFileStore constructs a FileStore rooted at opts.Dir, creating the
// directory if necessary.
func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("checkpoint: store directory must not be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating store dir: %w", err)
	}
	c, err := newCodec(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &FileStore{opts: opts, codec: c}, nil
}

func (s *FileStore) pathFor(id string) string {
	return filepath.Join(s.opts.Dir, id+".checkpoint.json")
}

// Save validates structure, computes and sets the integrity hash, writes
// atomically, then applies the retention policy.
func (s *FileStore) Save(c *Checkpoint) (string, error) {
	if c.Metadata.CheckpointID == "" {
		c.Metadata.CheckpointID = uuid.NewString()
	}
	if err := validateStructure(c); err != nil {
		return "", fmt.Errorf("checkpoint: validating before save: %w", err)
	}
	c.Metadata.IntegrityHash = computeIntegrityHash(c)

	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("checkpoint: marshaling: %w", err)
	}
	payload, err := s.codec.Compress(raw)
	if err != nil {
		return "", fmt.Errorf("checkpoint: compressing: %w", err)
	}

	if err := writeAtomic(s.pathFor(c.Metadata.CheckpointID), payload); err != nil {
		return "", err
	}

	if err := s.applyRetention(c.Metadata.JobID); err != nil {
		return c.Metadata.CheckpointID, fmt.Errorf("checkpoint: retention sweep: %w", err)
	}

	return c.Metadata.CheckpointID, nil
}

// Load parses the checkpoint file; if ValidateOnLoad is set, it recomputes
// the hash and compares, returning an IntegrityError on mismatch.
func (s *FileStore) Load(id string) (*Checkpoint, error) {
	raw, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Kind: "checkpoint", ID: id}
		}
		return nil, fmt.Errorf("checkpoint: reading %s: %w", id, err)
	}
	data, err := s.codec.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: decompressing %s: %w", id, err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("checkpoint: parsing %s: %w", id, err)
	}

	if err := validateStructure(&c); err != nil {
		return nil, fmt.Errorf("checkpoint: validating %s: %w", id, err)
	}
	if s.opts.ValidateOnLoad {
		if err := VerifyIntegrity(&c); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// List returns summaries for every checkpoint belonging to jobID, ordered
// oldest-first (creation time ascending, ties by version ascending).
func (s *FileStore) List(jobID string) ([]Info, error) {
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: listing store dir: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := doublestar.Match("*.checkpoint.json", entry.Name()); !ok {
			continue
		}
		id := checkpointIDFromFilename(entry.Name())
		if id == "" {
			continue
		}
		c, err := s.Load(id)
		if err != nil {
			continue // skip unreadable/corrupt entries rather than failing the whole listing
		}
		if jobID != "" && c.Metadata.JobID != jobID {
			continue
		}
		infos = append(infos, Info{
			CheckpointID: c.Metadata.CheckpointID,
			JobID:        c.Metadata.JobID,
			Version:      c.Metadata.Version,
			Phase:        c.Metadata.Phase,
			CreatedAt:    c.Metadata.CreatedAt,
		})
	}
	sortInfosForRetention(infos)
	return infos, nil
}

func checkpointIDFromFilename(name string) string {
	const suffix = ".checkpoint.json"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return ""
	}
	return name[:len(name)-len(suffix)]
}

// Delete removes a checkpoint by id. Deleting a nonexistent id is not an
// error; the operation is idempotent.
func (s *FileStore) Delete(id string) error {
	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: deleting %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Exists(id string) bool {
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// sortInfosForRetention orders by creation time ascending, ties by version
// ascending -- oldest first, for retention eviction.
func sortInfosForRetention(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].Version < infos[j].Version
	})
}

// writeAtomic writes data to a temp file in the same directory as path then
// renames it into place, so the object becomes visible only after a
// successful rename and partial files are never observable to readers.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("checkpoint: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("checkpoint: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("checkpoint: renaming into place: %w", err)
	}
	return nil
}

// validateStructure checks that counts are consistent and every agent in
// assignments has a matching active_agents entry.
func validateStructure(c *Checkpoint) error {
	wis := c.WorkItemState
	total := len(wis.Pending) + len(wis.InProgress) + len(wis.Completed) + len(wis.Failed)
	if c.Metadata.TotalWorkItems > 0 && total > c.Metadata.TotalWorkItems {
		return fmt.Errorf("work item counts (%d) exceed total_work_items (%d)", total, c.Metadata.TotalWorkItems)
	}
	for agentID := range c.AgentState.Assignments {
		if _, ok := c.AgentState.ActiveAgents[agentID]; !ok {
			return fmt.Errorf("assignment for agent %q has no active_agents entry", agentID)
		}
	}
	return nil
}

// NotFoundError reports a missing referenced record (checkpoint, session,
// or DLQ item).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
