package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corvusmr/prodigy/internal/checkpoint"
	"github.com/corvusmr/prodigy/internal/coordinator"
	"github.com/corvusmr/prodigy/internal/events"
	"github.com/corvusmr/prodigy/internal/logging"
	"github.com/corvusmr/prodigy/internal/resumemgr"
	"github.com/corvusmr/prodigy/internal/workflowfile"
)

var (
	resumePath                 string
	resumeInputFile            string
	resumeForce                bool
	resumeFromCheckpoint       string
	resumeRestartFromMap       bool
	resumeIncludeDLQ           bool
	resumeMaxAdditionalRetries int
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session_id>",
	Short: "Resume an interrupted or paused job from its latest checkpoint",
	Long: `Resume locates the session's latest resumable checkpoint, verifies
its integrity and workflow hash, selects a rehydration strategy from the
checkpoint's recorded phase, and continues the coordinator from there.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumePath, "path", "", "Override the prodigy state directory (default: PRODIGY_HOME or ~/.prodigy)")
	resumeCmd.Flags().StringVar(&resumeInputFile, "input", "", "Path to the JSON document the map phase's data pipeline consumes (defaults to map.input in the workflow file)")
	resumeCmd.Flags().BoolVar(&resumeForce, "force", false, "Resume despite a non-resumable session status, a failed integrity check, or a workflow hash mismatch")
	resumeCmd.Flags().StringVar(&resumeFromCheckpoint, "from-checkpoint", "", "Resume from a specific checkpoint id instead of the latest")
	resumeCmd.Flags().BoolVar(&resumeRestartFromMap, "restart-from-map", false, "Pool every work item back to pending and restart the map phase")
	resumeCmd.Flags().BoolVar(&resumeIncludeDLQ, "include-dlq", false, "Requeue reprocess-eligible dead-letter items alongside the rehydrated pending set")
	resumeCmd.Flags().IntVar(&resumeMaxAdditionalRetries, "max-additional-retries", 0, "Skip dead-letter items that have already failed this many times or more (0 disables the cap)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	logger := logging.New("resume")

	rt, err := newRuntime(resumePath)
	if err != nil {
		return err
	}

	sessRecord, err := rt.Sessions.Load(sessionID)
	if err != nil {
		return fmt.Errorf("resume: loading session %s: %w", sessionID, err)
	}

	raw, err := os.ReadFile(sessRecord.WorkflowPath)
	if err != nil {
		return fmt.Errorf("resume: reading workflow file %s: %w", sessRecord.WorkflowPath, err)
	}
	def, err := workflowfile.Parse(raw)
	if err != nil {
		return err
	}
	canonical, err := def.CanonicalJSON()
	if err != nil {
		return err
	}
	currentHash := checkpoint.HashWorkflowDefinition(canonical)

	result, err := resumemgr.Resume(resumemgr.Options{
		SessionID:            sessionID,
		Force:                resumeForce,
		FromCheckpointID:     resumeFromCheckpoint,
		RestartFromMap:       resumeRestartFromMap,
		IncludeDLQItems:      resumeIncludeDLQ,
		MaxAdditionalRetries: resumeMaxAdditionalRetries,
		Sessions:             rt.Sessions,
		Checkpoints:          rt.Checkpoints,
		DLQ:                  rt.DLQ,
		CurrentWorkflowHash:  currentHash,
	})
	if err != nil {
		var mismatch *resumemgr.MismatchError
		var notResumable *resumemgr.NotResumableError
		if errors.As(err, &mismatch) || errors.As(err, &notResumable) {
			return err
		}
		return fmt.Errorf("resume: %w", err)
	}

	repoDir := sessRecord.Repo
	manager, err := newManager(repoDir, result.Session.JobID, rt.Layout, rt.Config)
	if err != nil {
		return err
	}

	jsonl, bcast, sink, err := newEventSink(rt.Layout, filepath.Base(repoDir), result.Session.JobID)
	if err != nil {
		return err
	}
	defer jsonl.Close()

	dash := startDashboard(rt.Config, result.Session.JobID, bcast)
	defer dash.stop()
	if dash != nil && dash.RedisSink != nil {
		sink = events.MultiSink{Sinks: []events.Sink{sink, dash.RedisSink}}
	}

	opts := coordinator.Options{
		JobID:           result.Session.JobID,
		ParentWorkspace: repoDir,
		Definition:      def,
		CheckpointStore: rt.Checkpoints,
		DLQStore:        rt.DLQ,
		Sink:            sink,
		Manager:         manager,
		Policy: coordinator.CheckpointPolicy{
			ItemInterval:    10,
			OnPhaseBoundary: true,
		},
		DryRun: flagDryRun,
	}

	coord := coordinator.Resume(opts, result.State, logger)

	inputPath := resumeInputFile
	if inputPath == "" && def.IsMapReduce() {
		inputPath = def.Map.Input
	}
	var rawInput []byte
	if inputPath != "" {
		rawInput, err = os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("resume: reading map input %s: %w", inputPath, err)
		}
	}

	finalState, runErr := coord.Run(cmd.Context(), rawInput)

	sessRecord.Status = determineStatus(cmd, runErr)
	if len(finalState.Completed) > 0 || len(finalState.Failed) > 0 {
		sessRecord.LastCheckpointID = fmt.Sprintf("%s-v%d", result.Session.JobID, finalState.CheckpointVersion)
	}
	_ = rt.Sessions.Save(sessRecord)

	if runErr != nil {
		return runErr
	}

	fmt.Printf("job %s resumed via %s: %d succeeded, %d failed\n",
		result.Session.JobID, result.Strategy, len(finalState.Completed), len(finalState.Failed))
	return nil
}
