package loadtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
)

// thresholdsFailedExit is the k6 exit status when a threshold was crossed.
// The summary is still written in that case.
const thresholdsFailedExit = 99

// Runner executes load-test scripts as a separate process
type Runner struct {
	config common.LoadTestConfig
	logger arbor.ILogger
}

// NewRunner creates a load-test runner
func NewRunner(config common.LoadTestConfig, logger arbor.ILogger) *Runner {
	if config.Binary == "" {
		config.Binary = "k6"
	}
	if config.SummaryDir == "" {
		config.SummaryDir = os.TempDir()
	}
	return &Runner{config: config, logger: logger}
}

// Available reports whether the configured binary can be found
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.config.Binary)
	return err == nil
}

// Run executes one script and returns its parsed summary. A crossed threshold
// is reported through Passed, not as an error.
func (r *Runner) Run(ctx context.Context, script string) (models.LoadTestSummary, error) {
	name := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))

	if err := os.MkdirAll(r.config.SummaryDir, 0755); err != nil {
		return models.LoadTestSummary{}, fmt.Errorf("failed to create summary directory: %w", err)
	}
	summaryPath := filepath.Join(r.config.SummaryDir, name+"-summary.json")
	_ = os.Remove(summaryPath)

	args := []string{"run"}
	args = append(args, r.config.Args...)
	args = append(args, "--summary-export", summaryPath, script)

	r.logger.Info().
		Str("binary", r.config.Binary).
		Str("script", script).
		Msg("Starting load test")

	cmd := exec.CommandContext(ctx, r.config.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) || exitErr.ExitCode() != thresholdsFailedExit {
			if ctx.Err() != nil {
				return models.LoadTestSummary{}, fmt.Errorf("load test %s cancelled: %w", name, ctx.Err())
			}
			return models.LoadTestSummary{}, fmt.Errorf("load test %s failed: %w: %s", name, runErr, strings.TrimSpace(stderr.String()))
		}
	}

	data, err := os.ReadFile(summaryPath)
	if err != nil {
		return models.LoadTestSummary{}, fmt.Errorf("load test %s wrote no summary: %w", name, err)
	}

	summary, err := ParseSummary(name, data)
	if err != nil {
		return models.LoadTestSummary{}, err
	}

	r.logger.Info().
		Str("script", name).
		Int64("requests", summary.Requests).
		Float64("p95_ms", summary.P95Ms).
		Bool("passed", summary.Passed).
		Msg("Load test finished")

	return summary, nil
}

// RunAll runs every configured script in order. A failing script is logged and
// skipped so the remaining scripts still run.
func (r *Runner) RunAll(ctx context.Context) ([]models.LoadTestSummary, error) {
	var summaries []models.LoadTestSummary
	var errs []error
	for _, script := range r.config.Scripts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		s, err := r.Run(ctx, script)
		if err != nil {
			r.logger.Warn().Err(err).Str("script", script).Msg("Load test failed")
			errs = append(errs, err)
			continue
		}
		summaries = append(summaries, s)
	}
	return summaries, errors.Join(errs...)
}
