package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corvusmr/prodigy/internal/events"
)

var (
	eventsPath string
	eventsN    int
	eventsJSON bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect a job's durable event log",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail <job_id>",
	Short: "Print the last N events recorded for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsTail,
}

func init() {
	eventsCmd.PersistentFlags().StringVar(&eventsPath, "path", "", "Override the prodigy state directory (default: PRODIGY_HOME or ~/.prodigy)")
	eventsTailCmd.Flags().IntVarP(&eventsN, "lines", "n", 20, "Number of trailing events to print (0 prints every event)")
	eventsTailCmd.Flags().BoolVar(&eventsJSON, "json", false, "Print each event as a JSON line instead of a human-readable summary")

	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	rt, err := newRuntime(eventsPath)
	if err != nil {
		return err
	}

	sessRecord, err := rt.Sessions.Load(jobID)
	if err != nil {
		return fmt.Errorf("events tail: resolving repo for job %s: %w", jobID, err)
	}

	logPath := filepath.Join(rt.Layout.Events(filepath.Base(sessRecord.Repo), jobID), "events.jsonl")
	if _, err := os.Stat(logPath); err != nil {
		return fmt.Errorf("events tail: no event log for job %s: %w", jobID, err)
	}

	evs, err := events.Tail(logPath, eventsN)
	if err != nil {
		return err
	}

	for _, e := range evs {
		if eventsJSON {
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			continue
		}
		fmt.Printf("%s  %-18s  %v\n", e.At.Format("15:04:05.000"), e.Kind, e.Fields)
	}
	return nil
}
