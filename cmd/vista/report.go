package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/vista/internal/app"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Rebuild the report documents of a finished run",
	Long:  `Reads results.json of a finished run and rewrites every configured report format. No browser is started.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	application, err := app.New(config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	rep, err := application.RebuildReport(args[0])
	if err != nil {
		return err
	}

	logger.Info().
		Str("run_id", rep.Run.RunID).
		Strs("formats", config.Report.Formats).
		Msg("Report rebuilt")
	fmt.Printf("Report: %s\n", rep.Dir)
	return nil
}
