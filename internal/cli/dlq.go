package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/corvusmr/prodigy/internal/dlq"
)

var (
	dlqEligibleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dlqManualStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
)

var (
	dlqPath           string
	dlqJobID          string
	dlqEligibleOnly   bool
	dlqErrorSignature string
	dlqOlderThan      string
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and manage the dead-letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered work items for a job",
	Args:  cobra.NoArgs,
	RunE:  runDLQList,
}

var dlqShowCmd = &cobra.Command{
	Use:   "show <item_id>",
	Short: "Show the full failure history of one dead-lettered item",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQShow,
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <item_id>",
	Short: "Mark a manual-review item eligible again so the next resume --include-dlq picks it up",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQRetry,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead-lettered items older than a given age",
	Args:  cobra.NoArgs,
	RunE:  runDLQPurge,
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqPath, "path", "", "Override the prodigy state directory (default: PRODIGY_HOME or ~/.prodigy)")
	dlqCmd.PersistentFlags().StringVar(&dlqJobID, "job-id", "", "Job whose dead-letter queue to operate on")
	_ = dlqCmd.MarkPersistentFlagRequired("job-id")

	dlqListCmd.Flags().BoolVar(&dlqEligibleOnly, "eligible-only", false, "Only list items still eligible for reprocessing")
	dlqListCmd.Flags().StringVar(&dlqErrorSignature, "error-signature", "", "Only list items matching this error signature")

	dlqPurgeCmd.Flags().StringVar(&dlqOlderThan, "older-than", "720h", "Purge items whose last attempt is older than this duration")

	dlqCmd.AddCommand(dlqListCmd, dlqShowCmd, dlqRetryCmd, dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)
}

func runDLQList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(dlqPath)
	if err != nil {
		return err
	}

	filter := dlq.Filter{}
	if dlqEligibleOnly {
		t := true
		filter.ReprocessEligible = &t
	}
	if dlqErrorSignature != "" {
		filter.ErrorSignature = dlqErrorSignature
	}

	items, err := rt.DLQ.List(dlqJobID, filter)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no dead-lettered items")
		return nil
	}
	for _, item := range items {
		status := dlqEligibleStyle.Render("eligible")
		if !item.ReprocessEligible {
			status = dlqManualStyle.Render("manual-review")
		}
		fmt.Printf("%s  failures=%d  signature=%s  %s  last=%s\n",
			item.ItemID, item.FailureCount, item.ErrorSignature, status, item.LastAttempt.Format(time.RFC3339))
	}
	return nil
}

func runDLQShow(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(dlqPath)
	if err != nil {
		return err
	}
	items, err := rt.DLQ.List(dlqJobID, dlq.Filter{})
	if err != nil {
		return err
	}
	itemID := args[0]
	for _, item := range items {
		if item.ItemID != itemID {
			continue
		}
		fmt.Printf("item %s: %d failures, signature=%s, reprocess_eligible=%v, manual_review_required=%v\n",
			item.ItemID, item.FailureCount, item.ErrorSignature, item.ReprocessEligible, item.ManualReviewRequired)
		for i, f := range item.FailureHistory {
			fmt.Printf("  [%d] %s  %s  %s\n", i, f.Timestamp.Format(time.RFC3339), f.ErrorType, f.Message)
		}
		return nil
	}
	return fmt.Errorf("dlq show: item %s not found in job %s", itemID, dlqJobID)
}

func runDLQRetry(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(dlqPath)
	if err != nil {
		return err
	}
	itemID := args[0]

	items, err := rt.DLQ.List(dlqJobID, dlq.Filter{})
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.ItemID != itemID {
			continue
		}
		item.ReprocessEligible = true
		item.ManualReviewRequired = false
		if err := rt.DLQ.Add(dlqJobID, item); err != nil {
			return err
		}
		fmt.Printf("%s is now eligible for reprocessing; run resume --include-dlq to requeue it\n", itemID)
		return nil
	}
	return fmt.Errorf("dlq retry: item %s not found in job %s", itemID, dlqJobID)
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(dlqPath)
	if err != nil {
		return err
	}
	age, err := time.ParseDuration(dlqOlderThan)
	if err != nil {
		return fmt.Errorf("dlq purge: parsing --older-than: %w", err)
	}
	n, err := rt.DLQ.Purge(dlqJobID, age)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d items older than %s\n", n, dlqOlderThan)
	return nil
}
