package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/corvusmr/prodigy/internal/checkpoint"
)

var (
	checkpointsPath     string
	checkpointsJobID    string
	checkpointsVerbose  bool
	checkpointsForce    bool
	checkpointsRepair   bool
	checkpointsDetailed bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect and manage saved checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints, optionally filtered to one job",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <checkpoint_id>",
	Short: "Print the full contents of a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsShow,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <checkpoint_id>",
	Short: "Delete a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsDelete,
}

var checkpointsValidateCmd = &cobra.Command{
	Use:   "validate <checkpoint_id>",
	Short: "Verify a checkpoint's integrity hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsValidate,
}

var checkpointsMapReduceCmd = &cobra.Command{
	Use:   "mapreduce",
	Short: "Show map/reduce progress for a job from its latest checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointsMapReduce,
}

func init() {
	checkpointsCmd.PersistentFlags().StringVar(&checkpointsPath, "path", "", "Override the prodigy state directory (default: PRODIGY_HOME or ~/.prodigy)")

	checkpointsListCmd.Flags().StringVar(&checkpointsJobID, "job-id", "", "Restrict listing to a single job")
	checkpointsListCmd.Flags().BoolVarP(&checkpointsVerbose, "verbose", "v", false, "Include phase and item counts in the listing")

	checkpointsDeleteCmd.Flags().BoolVar(&checkpointsForce, "force", false, "Delete without confirming the checkpoint exists first")

	checkpointsValidateCmd.Flags().BoolVar(&checkpointsRepair, "repair", false, "Report repair suggestions for a corrupt checkpoint instead of only failing")

	checkpointsMapReduceCmd.Flags().StringVar(&checkpointsJobID, "job-id", "", "Job whose latest checkpoint to summarize")
	checkpointsMapReduceCmd.Flags().BoolVar(&checkpointsDetailed, "detailed", false, "Include per-item status in the summary")
	_ = checkpointsMapReduceCmd.MarkFlagRequired("job-id")

	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsShowCmd, checkpointsDeleteCmd, checkpointsValidateCmd, checkpointsMapReduceCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(checkpointsPath)
	if err != nil {
		return err
	}

	infos, err := rt.Checkpoints.List(checkpointsJobID)
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].JobID != infos[j].JobID {
			return infos[i].JobID < infos[j].JobID
		}
		return infos[i].Version < infos[j].Version
	})

	if len(infos) == 0 {
		fmt.Println("no checkpoints found")
		return nil
	}

	for _, info := range infos {
		if checkpointsVerbose {
			fmt.Printf("%s  job=%s  v%d  phase=%-8s  created=%s\n",
				info.CheckpointID, info.JobID, info.Version, info.Phase, info.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		} else {
			fmt.Printf("%s  job=%s  v%d\n", info.CheckpointID, info.JobID, info.Version)
		}
	}
	return nil
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(checkpointsPath)
	if err != nil {
		return err
	}
	cp, err := rt.Checkpoints.Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cp)
}

func runCheckpointsDelete(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(checkpointsPath)
	if err != nil {
		return err
	}
	id := args[0]
	if !checkpointsForce && !rt.Checkpoints.Exists(id) {
		return fmt.Errorf("checkpoints delete: checkpoint %s does not exist", id)
	}
	if err := rt.Checkpoints.Delete(id); err != nil {
		return err
	}
	fmt.Printf("deleted checkpoint %s\n", id)
	return nil
}

func runCheckpointsValidate(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(checkpointsPath)
	if err != nil {
		return err
	}
	id := args[0]
	cp, err := rt.Checkpoints.Load(id)
	if err != nil {
		return err
	}
	if err := checkpoint.VerifyIntegrity(cp); err != nil {
		if !checkpointsRepair {
			return err
		}
		fmt.Printf("checkpoint %s failed integrity verification: %v\n", id, err)
		repaired := checkpoint.Repair(cp)
		newID, saveErr := rt.Checkpoints.Save(repaired)
		if saveErr != nil {
			return fmt.Errorf("checkpoints validate: saving repaired checkpoint: %w", saveErr)
		}
		fmt.Printf("repaired into checkpoint %s (version %d): recomputed counts and agent assignments from the work-item lists\n", newID, repaired.Metadata.Version)
		return nil
	}
	fmt.Printf("checkpoint %s is valid (phase=%s, version=%d)\n", id, cp.Metadata.Phase, cp.Metadata.Version)
	return nil
}

func runCheckpointsMapReduce(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(checkpointsPath)
	if err != nil {
		return err
	}

	infos, err := rt.Checkpoints.List(checkpointsJobID)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("checkpoints mapreduce: no checkpoints found for job %s", checkpointsJobID)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Version > infos[j].Version })

	cp, err := rt.Checkpoints.Load(infos[0].CheckpointID)
	if err != nil {
		return err
	}

	total := cp.Metadata.TotalWorkItems
	completed := len(cp.WorkItemState.Completed)
	failed := len(cp.WorkItemState.Failed)
	pending := len(cp.WorkItemState.Pending)
	inProgress := len(cp.WorkItemState.InProgress)

	fmt.Printf("job %s: phase=%s version=%d\n", cp.Metadata.JobID, cp.Metadata.Phase, cp.Metadata.Version)
	fmt.Printf("  total=%d completed=%d failed=%d pending=%d in_progress=%d\n", total, completed, failed, pending, inProgress)

	if !checkpointsDetailed {
		return nil
	}
	for id, entry := range cp.WorkItemState.InProgress {
		fmt.Printf("  in_progress  %s  agent=%s  started=%s\n", id, entry.AgentID, entry.StartedAt.Format("15:04:05"))
	}
	for _, entry := range cp.WorkItemState.Completed {
		fmt.Printf("  completed    %s  duration=%s\n", entry.WorkItem.ID, entry.Result.Duration)
	}
	for _, entry := range cp.WorkItemState.Failed {
		fmt.Printf("  failed       %s  retries=%d  %s\n", entry.WorkItem.ID, entry.RetryCount, entry.Error)
	}
	return nil
}
