package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/vista/internal/app"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/report"
	"github.com/ternarybob/vista/internal/services/runner"
)

var runCmd = &cobra.Command{
	Use:   "run [suite files or directories...]",
	Short: "Capture and compare against baselines",
	Long:  `Runs every test of the given suites (or run.suites) in compare mode. Missing baselines are created; existing baselines are never modified. Exits non-zero when any key failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSuites(models.ModeCompare, args)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update-baselines [suite files or directories...]",
	Short: "Capture and overwrite baselines",
	Long:  `Runs every test of the given suites (or run.suites) and replaces each stored baseline with the new capture.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSuites(models.ModeUpdate, args)
	},
}

// signalContext is cancelled on interrupt or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSuites(mode models.RunMode, paths []string) error {
	ctx, stop := signalContext()
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Run(ctx, mode, paths)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		return err
	}
	if result.Failed() {
		return errFailures
	}
	return nil
}

func printResult(result *runner.Result) {
	s := models.Summarize(result.Outcomes)
	fmt.Printf("\nRun %s (%s)\n", result.Run.RunID, result.Run.Mode)
	for _, o := range result.Outcomes {
		line := fmt.Sprintf("  %-24s %s", report.Label(o.Status), o.Key)
		if o.Status == models.StatusFailedVisual {
			line += fmt.Sprintf(" (%d px, %.3f%%)", o.DifferingPixels, o.DifferencePercentage*100)
		}
		if o.Error != "" {
			line += ": " + o.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("\n%d total, %d passed, %d failed, %d baselines created, %d baselines updated\n",
		s.Total, s.Passed, s.Failed, s.BaselinesCreated, s.BaselinesUpdated)
	if result.Report != nil {
		fmt.Printf("Report: %s\n", result.Report.Dir)
	}
	for _, d := range result.Deliveries {
		if d.Err != nil {
			fmt.Printf("Sink %s failed: %v\n", d.Sink, d.Err)
		}
	}
}
