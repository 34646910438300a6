// Package runner executes capture jobs one at a time and turns each into an
// outcome, then reports, records and publishes the run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/capture"
	"github.com/ternarybob/vista/internal/services/differ"
	"github.com/ternarybob/vista/internal/services/report"
	"github.com/ternarybob/vista/internal/services/sinks"
	"github.com/ternarybob/vista/internal/services/suite"
)

// Artifact directories inside a run directory
const (
	ActualDir = "actual"
	DiffDir   = "diff"
)

// Capturer renders one job target on a page
type Capturer interface {
	Capture(ctx context.Context, page interfaces.Page, key models.Key, target models.Target, opts models.CaptureOptions) (*models.Capture, error)
}

// Result is a finished run
type Result struct {
	Run        models.RunContext
	Outcomes   []models.Outcome
	Report     *models.Report
	Deliveries []sinks.Delivery
}

// Failed reports whether any key failed
func (r *Result) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status.Failed() {
			return true
		}
	}
	return false
}

// Runner executes jobs strictly in order on a single page at a time
type Runner struct {
	engine      interfaces.Engine
	capturer    Capturer
	baselines   interfaces.BaselineStore
	policy      differ.Policy
	reports     *report.Builder
	history     interfaces.HistoryStorage
	dispatcher  *sinks.Dispatcher
	loadTests   func(ctx context.Context) []models.LoadTestSummary
	keepPassing bool
	logger      arbor.ILogger
	now         func() time.Time
}

// NewRunner creates a runner
func NewRunner(engine interfaces.Engine, capturer Capturer, baselines interfaces.BaselineStore, policy differ.Policy, reports *report.Builder, logger arbor.ILogger) *Runner {
	return &Runner{
		engine:    engine,
		capturer:  capturer,
		baselines: baselines,
		policy:    policy,
		reports:   reports,
		logger:    logger,
		now:       time.Now,
	}
}

// WithHistory records finished runs
func (r *Runner) WithHistory(h interfaces.HistoryStorage) *Runner {
	r.history = h
	return r
}

// WithSinks publishes finished reports
func (r *Runner) WithSinks(d *sinks.Dispatcher) *Runner {
	r.dispatcher = d
	return r
}

// WithLoadTests folds load-test summaries into the report
func (r *Runner) WithLoadTests(fn func(ctx context.Context) []models.LoadTestSummary) *Runner {
	r.loadTests = fn
	return r
}

// WithKeepPassing also keeps the actual image of passing keys
func (r *Runner) WithKeepPassing(keep bool) *Runner {
	r.keepPassing = keep
	return r
}

// WithClock replaces the clock used for durations and history timestamps
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run executes every job and then builds the report, saves history and
// publishes to sinks. When ctx is cancelled the jobs not yet finished are
// reported as failed-environment and ctx.Err() is returned with the result.
func (r *Runner) Run(ctx context.Context, rc models.RunContext, jobs []suite.Job) (*Result, error) {
	runDir := r.reports.RunDir(rc.RunID)
	log := r.logger.WithCorrelationId(rc.RunID)

	log.Info().
		Str("run_id", rc.RunID).
		Str("mode", string(rc.Mode)).
		Str("environment", rc.Environment).
		Int("jobs", len(jobs)).
		Msg("Run started")

	common.SetCrashRun(rc.RunID)
	defer common.ClearCrashContext()

	result := &Result{Run: rc, Outcomes: make([]models.Outcome, 0, len(jobs))}
	for i, job := range jobs {
		if ctx.Err() != nil {
			for _, rest := range jobs[i:] {
				result.Outcomes = append(result.Outcomes, cancelled(rest.Key))
			}
			break
		}
		common.SetCrashKey(job.Key.String())
		outcome := r.execute(ctx, rc, runDir, job)
		result.Outcomes = append(result.Outcomes, outcome)
		logOutcome(log, outcome)
	}
	common.SetCrashKey("")

	finishCtx := context.WithoutCancel(ctx)

	var loadTests []models.LoadTestSummary
	if r.loadTests != nil {
		loadTests = r.loadTests(finishCtx)
	}

	rep, err := r.reports.Build(rc, result.Outcomes, loadTests)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build report")
	}
	result.Report = rep

	if r.history != nil {
		if err := r.history.SaveRun(finishCtx, r.record(rc, result, runDir)); err != nil {
			log.Warn().Err(err).Msg("Failed to save run history")
		}
	}

	if r.dispatcher != nil && r.dispatcher.Len() > 0 && rep != nil {
		if ctx.Err() != nil {
			log.Warn().Msg("Run cancelled; skipping result sinks")
		} else {
			result.Deliveries = r.dispatcher.Publish(ctx, rep)
		}
	}

	summary := models.Summarize(result.Outcomes)
	log.Info().
		Str("run_id", rc.RunID).
		Int("total", summary.Total).
		Int("passed", summary.Passed).
		Int("failed", summary.Failed).
		Int("baselines_created", summary.BaselinesCreated).
		Int("baselines_updated", summary.BaselinesUpdated).
		Str("dir", runDir).
		Msg("Run finished")

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, err
}

// execute runs one job, retrying environment failures up to rc.Retries times
func (r *Runner) execute(ctx context.Context, rc models.RunContext, runDir string, job suite.Job) models.Outcome {
	start := r.now()
	var outcome models.Outcome
	attempts := 0

	for {
		attempts++
		var retryable bool
		outcome, retryable = r.attempt(ctx, rc, runDir, job)
		if !retryable || attempts > rc.Retries || ctx.Err() != nil {
			break
		}
		r.logger.Warn().
			Str("key", job.Key.String()).
			Int("attempt", attempts).
			Str("error", outcome.Error).
			Msg("Environment failure, retrying")
	}

	outcome.Attempts = attempts
	outcome.DurationMs = r.now().Sub(start).Milliseconds()
	return outcome
}

// attempt captures and judges one job. The bool reports whether the failure
// is worth retrying.
func (r *Runner) attempt(ctx context.Context, rc models.RunContext, runDir string, job suite.Job) (models.Outcome, bool) {
	outcome := models.Outcome{Key: job.Key}

	page, err := r.engine.NewPage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(job.Key), false
		}
		return environmentFailure(outcome, fmt.Errorf("failed to open page: %w", err)), true
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Debug().Err(err).Str("key", job.Key.String()).Msg("Failed to close page")
		}
	}()

	capt, err := r.capturer.Capture(ctx, page, job.Key, job.Target, job.Options)
	if capt != nil {
		outcome.Warnings = capt.Warnings
		outcome.Console = capt.Console
	}
	if err != nil {
		return classify(ctx, outcome, err)
	}

	outcome.CaptureSize = size(capt.Image.Bounds())

	if rc.Mode == models.ModeUpdate {
		return r.update(ctx, rc, outcome, capt), false
	}
	return r.compare(ctx, rc, runDir, job, outcome, capt), false
}

// update explicitly overwrites the baseline
func (r *Runner) update(ctx context.Context, rc models.RunContext, outcome models.Outcome, capt *models.Capture) models.Outcome {
	if err := r.baselines.Put(ctx, outcome.Key, capt.Image, rc.RunID); err != nil {
		if ctx.Err() != nil {
			return withDiagnostics(cancelled(outcome.Key), outcome)
		}
		return environmentFailure(outcome, fmt.Errorf("failed to update baseline: %w", err))
	}
	outcome.Status = models.StatusBaselineUpdated
	outcome.Match = true
	outcome.BaselinePath = r.baselines.Path(outcome.Key)
	outcome.BaselineSize = outcome.CaptureSize
	return outcome
}

// compare judges the capture against its baseline. A missing baseline is
// filled from the capture; an existing one is never written.
func (r *Runner) compare(ctx context.Context, rc models.RunContext, runDir string, job suite.Job, outcome models.Outcome, capt *models.Capture) models.Outcome {
	key := outcome.Key

	baseline, err := r.baselines.Get(ctx, key)
	if errors.Is(err, interfaces.ErrBaselineNotFound) {
		err = r.baselines.Create(ctx, key, capt.Image, rc.RunID)
		switch {
		case err == nil:
			outcome.Status = models.StatusBaselineCreated
			outcome.Match = true
			outcome.BaselinePath = r.baselines.Path(key)
			outcome.BaselineSize = outcome.CaptureSize
			return outcome
		case errors.Is(err, interfaces.ErrBaselineExists):
			// Written since the lookup; compare against it
			baseline, err = r.baselines.Get(ctx, key)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return withDiagnostics(cancelled(key), outcome)
		}
		return environmentFailure(outcome, fmt.Errorf("failed to read baseline: %w", err))
	}

	outcome.BaselinePath = r.baselines.Path(key)
	outcome.BaselineSize = size(baseline.Bounds())

	policy := r.policy.WithOverride(job.Threshold)
	diff, err := differ.Compare(baseline, capt.Image, capt.Masks, policy.PixelThreshold)
	if err != nil {
		var mismatch *differ.DimensionMismatchError
		if errors.As(err, &mismatch) {
			outcome.Status = models.StatusFailedLayout
			outcome.Error = err.Error()
			outcome.ActualPath = r.writeArtifact(runDir, ActualDir, key, capt.Image)
			return outcome
		}
		return environmentFailure(outcome, fmt.Errorf("failed to compare: %w", err))
	}

	verdict := policy.Evaluate(diff)
	outcome.DifferingPixels = diff.DifferingPixels
	outcome.ComparablePixels = diff.ComparablePixels
	outcome.DifferencePercentage = diff.DifferencePercentage
	outcome.Match = verdict.Pass

	if verdict.Pass {
		outcome.Status = models.StatusPassed
		if r.keepPassing {
			outcome.ActualPath = r.writeArtifact(runDir, ActualDir, key, capt.Image)
		}
		return outcome
	}

	outcome.Status = models.StatusFailedVisual
	outcome.Error = fmt.Sprintf("%d pixels differ (%.4f%%); limits %d pixels, %.4f%%",
		diff.DifferingPixels, diff.DifferencePercentage*100, policy.MaxDiffPixels, policy.MaxDiffRatio*100)
	outcome.ActualPath = r.writeArtifact(runDir, ActualDir, key, capt.Image)
	if diff.Diff != nil {
		outcome.DiffPath = r.writeArtifact(runDir, DiffDir, key, diff.Diff)
	}
	return outcome
}

// writeArtifact stores a PNG under runDir/<kind>/<slug>.png. Failures are
// logged and leave the path empty; the report notes the missing artifact.
func (r *Runner) writeArtifact(runDir, kind string, key models.Key, img image.Image) string {
	path := filepath.Join(runDir, kind, key.Slug()+".png")
	if err := writePNG(path, img); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("Failed to write artifact")
		return ""
	}
	return path
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *Runner) record(rc models.RunContext, result *Result, runDir string) *models.RunRecord {
	return &models.RunRecord{
		ID:          rc.RunID,
		Environment: rc.Environment,
		Branch:      rc.Branch,
		Commit:      rc.Commit,
		Mode:        rc.Mode,
		StartedAt:   rc.StartedAt,
		FinishedAt:  r.now().UTC(),
		Summary:     models.Summarize(result.Outcomes),
		Outcomes:    result.Outcomes,
		ReportDir:   runDir,
	}
}

// classify maps a capture error onto a status
func classify(ctx context.Context, outcome models.Outcome, err error) (models.Outcome, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return withDiagnostics(cancelled(outcome.Key), outcome), false
	}

	var ambiguous *capture.AmbiguousTargetError
	var notFound *capture.TargetNotFoundError
	if errors.As(err, &ambiguous) || errors.As(err, &notFound) {
		outcome.Status = models.StatusFailedConfig
		outcome.Error = err.Error()
		return outcome, false
	}

	// Navigation, render and snapshot failures are environmental
	return environmentFailure(outcome, err), true
}

func environmentFailure(outcome models.Outcome, err error) models.Outcome {
	outcome.Status = models.StatusFailedEnvironment
	outcome.Error = err.Error()
	outcome.Match = false
	return outcome
}

func cancelled(key models.Key) models.Outcome {
	return models.Outcome{
		Key:    key,
		Status: models.StatusFailedEnvironment,
		Error:  "cancelled",
	}
}

// withDiagnostics keeps the warnings and console of an interrupted attempt
func withDiagnostics(o, from models.Outcome) models.Outcome {
	o.Warnings = from.Warnings
	o.Console = from.Console
	return o
}

func size(b image.Rectangle) string {
	return fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
}

func logOutcome(log arbor.ILogger, o models.Outcome) {
	event := log.Info()
	if o.Status.Failed() {
		event = log.Warn()
	}
	event.
		Str("key", o.Key.String()).
		Str("status", string(o.Status)).
		Int("differing_pixels", o.DifferingPixels).
		Int("attempts", o.Attempts).
		Int64("duration_ms", o.DurationMs).
		Str("error", o.Error).
		Msg("Key finished")
}
