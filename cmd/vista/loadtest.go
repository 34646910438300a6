package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/ternarybob/vista/internal/app"
	"github.com/ternarybob/vista/internal/models"
)

var loadtestCmd = &cobra.Command{
	Use:   "loadtest [scripts...]",
	Short: "Run load-test scripts with the external load generator",
	Long:  `Runs each script (or loadtest.scripts) with the configured binary and writes its summary to loadtest.summary_dir, where later runs pick it up for their reports. Exits non-zero when a threshold was crossed.`,
	RunE:  runLoadTest,
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if !application.LoadTests.Available() {
		return fmt.Errorf("load generator %q not found in PATH", config.LoadTest.Binary)
	}

	var summaries []models.LoadTestSummary
	var runErr error
	if len(args) > 0 {
		var errs []error
		for _, script := range args {
			s, err := application.LoadTests.Run(ctx, script)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			summaries = append(summaries, s)
		}
		runErr = errors.Join(errs...)
	} else {
		if len(config.LoadTest.Scripts) == 0 {
			return fmt.Errorf("no scripts given and loadtest.scripts is empty")
		}
		summaries, runErr = application.LoadTests.RunAll(ctx)
	}

	passed := true
	for _, s := range summaries {
		status := "PASS"
		if !s.Passed {
			status = "FAIL"
			passed = false
		}
		fmt.Printf("%-4s %s: %d requests, %.2f%% failed, avg %.1fms, p95 %.1fms, max %.1fms, checks %d/%d\n",
			status, s.Name, s.Requests, s.FailedRate*100, s.AvgMs, s.P95Ms, s.MaxMs, s.Checks-s.ChecksFail, s.Checks)

		crossed := make([]string, 0, len(s.Thresholds))
		for name, isCrossed := range s.Thresholds {
			if isCrossed {
				crossed = append(crossed, name)
			}
		}
		sort.Strings(crossed)
		for _, name := range crossed {
			fmt.Printf("     threshold crossed: %s\n", name)
		}
	}

	if runErr != nil {
		return runErr
	}
	if !passed {
		return errFailures
	}
	return nil
}
