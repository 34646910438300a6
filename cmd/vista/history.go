package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/ternarybob/vista/internal/app"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs or the results of one key",
	Long:  `Lists recorded runs, newest first. With --key, lists the recorded results of a single key, e.g. --key "suites/home.toml:hero@chromium-desktop".`,
	RunE:  runHistory,
}

var (
	historyLimit int
	historyKey   string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")
	historyCmd.Flags().StringVar(&historyKey, "key", "", "Show results for a single key")
}

func runHistory(cmd *cobra.Command, args []string) error {
	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if application.History == nil {
		return fmt.Errorf("run history is disabled (history.path is empty)")
	}

	ctx := context.Background()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if historyKey != "" {
		key, err := models.ParseKey(historyKey)
		if err != nil {
			return err
		}
		results, err := application.History.KeyHistory(ctx, key, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tPIXELS\tDIFF %")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.3f\n",
				r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), report.Label(r.Status), r.DifferingPixels, r.DifferencePercentage*100)
		}
		return nil
	}

	runs, err := application.History.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tMODE\tENV\tBRANCH\tTOTAL\tPASSED\tFAILED\tNEW")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Mode, r.Environment, r.Branch,
			r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.Summary.BaselinesCreated)
	}
	return nil
}
