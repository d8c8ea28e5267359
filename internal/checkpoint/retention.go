package checkpoint

import "time"

// applyRetention evaluates both retention axes after a save: max_checkpoints
// (keep the N most recent) and max_age (delete anything older than the
// threshold), both subject to the KeepFinal exemption for the terminal
// (phase=Complete) checkpoint.
func (s *FileStore) applyRetention(jobID string) error {
	policy := s.opts.Retention
	if policy.MaxCheckpoints == nil && policy.MaxAge == nil {
		return nil
	}

	infos, err := s.List(jobID)
	if err != nil {
		return err
	}

	toDelete := map[string]bool{}

	if policy.MaxAge != nil {
		now := time.Now()
		for _, info := range infos {
			// Strictly-less-than the cutoff is kept; equal-age is kept too,
			// the boundary is inclusive of the cutoff.
			if now.Sub(info.CreatedAt) > *policy.MaxAge {
				toDelete[info.CheckpointID] = true
			}
		}
	}

	if policy.MaxCheckpoints != nil {
		keep := *policy.MaxCheckpoints
		if keep < 0 {
			keep = 0
		}
		excess := len(infos) - keep
		for i := 0; i < excess && i < len(infos); i++ {
			toDelete[infos[i].CheckpointID] = true
		}
	}

	if policy.KeepFinal {
		for _, info := range infos {
			if info.Phase == PhaseComplete {
				delete(toDelete, info.CheckpointID)
			}
		}
	}

	for id := range toDelete {
		if err := s.Delete(id); err != nil {
			return err
		}
	}
	return nil
}
