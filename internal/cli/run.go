package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/corvusmr/prodigy/internal/coordinator"
	"github.com/corvusmr/prodigy/internal/events"
	"github.com/corvusmr/prodigy/internal/logging"
	"github.com/corvusmr/prodigy/internal/session"
	"github.com/corvusmr/prodigy/internal/timeoutenf"
	"github.com/corvusmr/prodigy/internal/workflowfile"
)

var (
	runPath            string
	runInputFile       string
	runItemInterval    int
	runCheckpointEvery string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow to completion",
	Long: `Run parses and validates a workflow file, then drives it through
Setup, Map, and Reduce (or its plain command sequence), checkpointing
progress along the way so an interrupted run can be resumed later.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPath, "path", "", "Override the prodigy state directory (default: PRODIGY_HOME or ~/.prodigy)")
	runCmd.Flags().StringVar(&runInputFile, "input", "", "Path to the JSON document the map phase's data pipeline consumes (defaults to map.input in the workflow file)")
	runCmd.Flags().IntVar(&runItemInterval, "checkpoint-items", 10, "Checkpoint after this many completed items (0 disables)")
	runCmd.Flags().StringVar(&runCheckpointEvery, "checkpoint-interval", "60s", "Checkpoint after at least this much wall time since the last save (0 disables)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	workflowPath := args[0]
	logger := logging.New("run")

	raw, err := os.ReadFile(workflowPath)
	if err != nil {
		return fmt.Errorf("run: reading workflow file: %w", err)
	}
	def, err := workflowfile.Parse(raw)
	if err != nil {
		return err
	}

	rt, err := newRuntime(runPath)
	if err != nil {
		return err
	}

	jobID := uuid.NewString()
	repoDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("run: resolving working directory: %w", err)
	}

	inputPath := runInputFile
	if inputPath == "" && def.IsMapReduce() {
		inputPath = def.Map.Input
	}
	var rawInput []byte
	if inputPath != "" {
		rawInput, err = os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("run: reading map input %s: %w", inputPath, err)
		}
	}

	manager, err := newManager(repoDir, jobID, rt.Layout, rt.Config)
	if err != nil {
		return err
	}

	jsonl, bcast, sink, err := newEventSink(rt.Layout, filepath.Base(repoDir), jobID)
	if err != nil {
		return err
	}
	defer jsonl.Close()

	dash := startDashboard(rt.Config, jobID, bcast)
	defer dash.stop()
	if dash != nil && dash.RedisSink != nil {
		sink = events.MultiSink{Sinks: []events.Sink{sink, dash.RedisSink}}
	}

	durationInterval, err := timeoutenf.ParseDuration(runCheckpointEvery)
	if err != nil {
		return err
	}

	opts := coordinator.Options{
		JobID:           jobID,
		ParentWorkspace: repoDir,
		Definition:      def,
		CheckpointStore: rt.Checkpoints,
		DLQStore:        rt.DLQ,
		Sink:            sink,
		Manager:         manager,
		Policy: coordinator.CheckpointPolicy{
			ItemInterval:     runItemInterval,
			DurationInterval: durationInterval,
			OnPhaseBoundary:  true,
		},
		DryRun: flagDryRun,
	}

	sessionRecord := &session.Record{
		SessionID:    jobID,
		JobID:        jobID,
		WorkflowPath: workflowPath,
		Repo:         repoDir,
		Status:       session.StatusRunning,
		CreatedAt:    time.Now(),
	}
	if err := rt.Sessions.Save(sessionRecord); err != nil {
		return err
	}

	coord := coordinator.New(opts, logger)

	finalState, runErr := coord.Run(cmd.Context(), rawInput)

	sessionRecord.Status = determineStatus(cmd, runErr)
	if len(finalState.Completed) > 0 || len(finalState.Failed) > 0 {
		sessionRecord.LastCheckpointID = fmt.Sprintf("%s-v%d", jobID, finalState.CheckpointVersion)
	}
	_ = rt.Sessions.Save(sessionRecord)

	if runErr != nil {
		return runErr
	}

	fmt.Printf("job %s complete: %d succeeded, %d failed\n", jobID, len(finalState.Completed), len(finalState.Failed))
	return nil
}
