package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/vista/internal/app"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [suite files or directories...]",
	Short: "Run the suites repeatedly on a cron schedule",
	Long:  `Runs the suites in compare mode on schedule.cron (standard 5-field syntax) until interrupted. A trigger that fires while a run is still executing is skipped.`,
	RunE:  runSchedule,
}

var (
	scheduleCron string
	scheduleNow  bool
)

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "Cron expression (overrides schedule.cron)")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "Run once immediately before waiting for the schedule")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	expr := config.Schedule.Cron
	if scheduleCron != "" {
		expr = scheduleCron
	}

	ctx, stop := signalContext()
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	// Fail fast on bad suites rather than at the first trigger
	if _, err := application.Jobs(args); err != nil {
		return err
	}

	run := func(ctx context.Context) error {
		result, err := application.Run(ctx, models.ModeCompare, args)
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

	sched, err := scheduler.NewScheduler(expr, run, logger)
	if err != nil {
		return err
	}

	if scheduleNow {
		_ = sched.Trigger(ctx)
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if next := sched.Status().NextRun; next != nil {
		fmt.Printf("Next run at %s - Press Ctrl+C to stop\n", next.Local().Format("2006-01-02 15:04:05"))
	}

	<-ctx.Done()
	logger.Info().Msg("Interrupt signal received")
	sched.Stop()

	st := sched.Status()
	logger.Info().
		Int("runs", st.Runs).
		Int("skipped", st.Skipped).
		Msg("Schedule finished")
	return nil
}
