package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent analysis runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.OutOrStdout(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.store == nil {
		return fmt.Errorf("run history is disabled")
	}

	runs, err := a.store.GetRuns(runsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tDURATION\tFAILED STAGE\tMESSAGE")
	for _, r := range runs {
		duration := "-"
		if r.Duration != nil {
			duration = *r.Duration
		}
		failed := "-"
		if r.FailedStage > 0 {
			failed = fmt.Sprint(r.FailedStage)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), duration, failed, r.Message)
	}
	return tw.Flush()
}
