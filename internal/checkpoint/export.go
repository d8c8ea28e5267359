package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Export serializes a single checkpoint to a portable, pretty-printed JSON
// file at path.
func (s *FileStore) Export(id, path string) error {
	c, err := s.Load(id)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshaling export: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing export file: %w", err)
	}
	return nil
}

// Import validates the structure of the checkpoint at path, assigns it a
// fresh checkpoint id, rewrites job_id to newJobID, and saves it into the
// store -- import never reuses the exporting manager's identifiers.
func (s *FileStore) Import(path, newJobID string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("checkpoint: reading import file: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("checkpoint: parsing import file: %w", err)
	}
	if err := validateStructure(&c); err != nil {
		return "", fmt.Errorf("checkpoint: validating import: %w", err)
	}

	c.Metadata.CheckpointID = uuid.NewString()
	c.Metadata.JobID = newJobID

	return s.Save(&c)
}
