package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported
	baseURL     string
	engine      string
	headless    bool

	// Global state
	config *common.Config
	logger arbor.ILogger
)

// errFailures marks a command that completed but found failing keys
var errFailures = errors.New("one or more keys failed")

var rootCmd = &cobra.Command{
	Use:           "vista",
	Short:         "Visual regression harness",
	Long:          `Vista captures pages and elements in a real browser, compares them against stored baselines and reports the differences.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL for relative test paths (overrides config)")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "Browser engine: chromedp or rod (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser headless (overrides config when set)")

	rootCmd.AddCommand(runCmd, updateCmd, reportCmd, historyCmd, scheduleCmd, loadtestCmd, versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailures) {
			common.GetLogger().Error().Err(err).Msg("Command failed")
		}
		os.Exit(1)
	}
}

// loadConfig runs the startup sequence:
// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
// 2. Apply CLI overrides (highest priority)
// 3. Validate
// 4. Initialize logger and crash handler
// 5. Print banner
func loadConfig(cmd *cobra.Command) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("vista.toml"); err == nil {
			configFiles = append(configFiles, "vista.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var headlessOverride *bool
	if cmd.Flags().Changed("headless") {
		headlessOverride = &headless
	}
	common.ApplyFlagOverrides(config, baseURL, engine, headlessOverride)

	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.InitLogger(config)
	common.InstallCrashHandler(config.Logging.Dir)
	common.PrintBanner(common.LoadVersionFromFile())

	logger.Debug().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Str("engine", config.Browser.Engine).
		Bool("headless", config.Browser.Headless).
		Str("base_url", config.Run.BaseURL).
		Str("log_level", config.Logging.Level).
		Str("log_file", logger.GetLogFilePath()).
		Msg("Resolved configuration")

	return nil
}
