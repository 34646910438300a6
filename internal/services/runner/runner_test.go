package runner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/capture"
	"github.com/ternarybob/vista/internal/services/differ"
	"github.com/ternarybob/vista/internal/services/report"
	"github.com/ternarybob/vista/internal/services/suite"
	"github.com/ternarybob/vista/internal/storage/baselines"
)

type nopPage struct{ closed bool }

func (p *nopPage) SetViewport(ctx context.Context, vp models.Viewport) error { return nil }
func (p *nopPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return nil
}
func (p *nopPage) Evaluate(ctx context.Context, expression string, out any) error { return nil }
func (p *nopPage) Locate(ctx context.Context, locator models.Locator) ([]models.Rect, error) {
	return nil, nil
}
func (p *nopPage) Snapshot(ctx context.Context, clip *models.Rect, fullPage bool) ([]byte, error) {
	return nil, nil
}
func (p *nopPage) DrainConsole() []models.ConsoleEntry { return nil }
func (p *nopPage) Close() error {
	p.closed = true
	return nil
}

type fakeEngine struct {
	pages []*nopPage
	err   error
}

func (e *fakeEngine) Name() string { return "fake" }
func (e *fakeEngine) NewPage(ctx context.Context) (interfaces.Page, error) {
	if e.err != nil {
		return nil, e.err
	}
	p := &nopPage{}
	e.pages = append(e.pages, p)
	return p, nil
}
func (e *fakeEngine) Close() error { return nil }

// step is one scripted Capture response
type step struct {
	img     *image.RGBA
	masks   []models.Rect
	err     error
	warning string
	before  func()
}

type fakeCapturer struct {
	steps map[string][]step
	calls map[string]int
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{steps: map[string][]step{}, calls: map[string]int{}}
}

func (f *fakeCapturer) on(test string, steps ...step) *fakeCapturer {
	f.steps[test] = append(f.steps[test], steps...)
	return f
}

func (f *fakeCapturer) Capture(ctx context.Context, page interfaces.Page, key models.Key, target models.Target, opts models.CaptureOptions) (*models.Capture, error) {
	n := f.calls[key.Test]
	f.calls[key.Test]++
	steps := f.steps[key.Test]
	s := steps[min(n, len(steps)-1)]
	if s.before != nil {
		s.before()
	}

	c := &models.Capture{
		Key:     key,
		Console: []models.ConsoleEntry{{Level: "log", Text: "hello from " + key.Test}},
	}
	if s.warning != "" {
		c.Warnings = []string{s.warning}
	}
	if s.err != nil {
		return c, s.err
	}
	c.Image = s.img
	c.Masks = s.masks
	return c, nil
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

// withSquare returns a white image with a black square of side n at the origin
func withSquare(w, h, n int) *image.RGBA {
	img := solid(w, h, white)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			img.SetRGBA(x, y, black)
		}
	}
	return img
}

type memHistory struct {
	records []*models.RunRecord
}

func (m *memHistory) SaveRun(ctx context.Context, r *models.RunRecord) error {
	m.records = append(m.records, r)
	return nil
}
func (m *memHistory) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	return nil, interfaces.ErrRunNotFound
}
func (m *memHistory) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	return m.records, nil
}
func (m *memHistory) KeyHistory(ctx context.Context, key models.Key, limit int) ([]models.KeyResult, error) {
	return nil, nil
}
func (m *memHistory) Close() error { return nil }

type fixture struct {
	engine    *fakeEngine
	capturer  *fakeCapturer
	store     *baselines.Store
	history   *memHistory
	runner    *Runner
	resultDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	store, err := baselines.NewStore(logger, &common.BaselinesConfig{Dir: filepath.Join(t.TempDir(), "baselines")})
	require.NoError(t, err)

	resultDir := t.TempDir()
	builder := report.NewBuilder(common.ReportConfig{Formats: []string{"json"}}, resultDir, logger)
	policy := differ.NewPolicy(common.ThresholdConfig{Pixel: 0.1, MaxDiffPixels: 50, MaxDiffRatio: 0.05})

	f := &fixture{
		engine:    &fakeEngine{},
		capturer:  newFakeCapturer(),
		store:     store,
		history:   &memHistory{},
		resultDir: resultDir,
	}
	f.runner = NewRunner(f.engine, f.capturer, store, policy, builder, logger).WithHistory(f.history)
	return f
}

func job(test string) suite.Job {
	return suite.Job{
		Key:    models.Key{Suite: "home.toml", Test: test, Image: test, Variant: "chromium-mobile"},
		Target: models.Target{URL: "https://example.test/"},
	}
}

var runSeq int

func runContext(mode models.RunMode, retries int) models.RunContext {
	runSeq++
	return models.RunContext{
		RunID:     fmt.Sprintf("run_test_%03d", runSeq),
		Mode:      mode,
		Retries:   retries,
		StartedAt: time.Now().UTC(),
		Workers:   1,
	}
}

func TestRun_FirstRunCreatesBaselineThenMatches(t *testing.T) {
	f := newFixture(t)
	f.capturer.on("footer", step{img: solid(100, 100, white)})
	ctx := context.Background()

	first, err := f.runner.Run(ctx, runContext(models.ModeCompare, 0), []suite.Job{job("footer")})
	require.NoError(t, err)
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, models.StatusBaselineCreated, first.Outcomes[0].Status)
	assert.FileExists(t, f.store.Path(job("footer").Key))
	assert.False(t, first.Failed())

	second, err := f.runner.Run(ctx, runContext(models.ModeCompare, 0), []suite.Job{job("footer")})
	require.NoError(t, err)
	o := second.Outcomes[0]
	assert.Equal(t, models.StatusPassed, o.Status)
	assert.True(t, o.Match)
	assert.Zero(t, o.DifferingPixels)
	assert.Equal(t, 10000, o.ComparablePixels)
	assert.Empty(t, o.ActualPath)
	assert.Equal(t, "100x100", o.BaselineSize)

	assert.Len(t, f.history.records, 2)
}

func TestRun_VisualFailureWritesArtifactsAndKeepsBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := job("hero").Key
	require.NoError(t, f.store.Create(ctx, key, solid(100, 100, white), "seed"))
	before, err := os.ReadFile(f.store.Path(key))
	require.NoError(t, err)

	f.capturer.on("hero", step{img: withSquare(100, 100, 20)})
	result, err := f.runner.Run(ctx, runContext(models.ModeCompare, 0), []suite.Job{job("hero")})
	require.NoError(t, err)

	o := result.Outcomes[0]
	assert.Equal(t, models.StatusFailedVisual, o.Status)
	assert.False(t, o.Match)
	assert.Equal(t, 400, o.DifferingPixels)
	assert.InDelta(t, 0.04, o.DifferencePercentage, 1e-9)
	assert.FileExists(t, o.ActualPath)
	assert.FileExists(t, o.DiffPath)
	assert.True(t, result.Failed())

	after, err := os.ReadFile(f.store.Path(key))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NotNil(t, result.Report)
	assert.FileExists(t, filepath.Join(result.Report.Dir, report.ResultsFile))
}

func TestRun_ThresholdOverrideAndMasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, job("a").Key, solid(100, 100, white), "seed"))
	require.NoError(t, f.store.Create(ctx, job("b").Key, solid(100, 100, white), "seed"))

	// 100 differing pixels: over the default cap of 50, within the override
	limit := 100
	a := job("a")
	a.Threshold = &models.ThresholdOverride{MaxDiffPixels: &limit}
	f.capturer.on("a", step{img: withSquare(100, 100, 10)})

	// The differing square sits under a mask
	f.capturer.on("b", step{img: withSquare(100, 100, 10), masks: []models.Rect{{X: 0, Y: 0, Width: 20, Height: 20}}})

	result, err := f.runner.Run(ctx, runContext(models.ModeCompare, 0), []suite.Job{a, job("b")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPassed, result.Outcomes[0].Status)
	assert.Equal(t, 100, result.Outcomes[0].DifferingPixels)
	assert.Equal(t, models.StatusPassed, result.Outcomes[1].Status)
	assert.Zero(t, result.Outcomes[1].DifferingPixels)
	assert.Equal(t, 9600, result.Outcomes[1].ComparablePixels)
}

func TestRun_DimensionMismatchIsLayoutFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, job("hero").Key, solid(192, 108, white), "seed"))

	f.capturer.on("hero", step{img: solid(75, 133, white)})
	result, err := f.runner.Run(ctx, runContext(models.ModeCompare, 0), []suite.Job{job("hero")})
	require.NoError(t, err)

	o := result.Outcomes[0]
	assert.Equal(t, models.StatusFailedLayout, o.Status)
	assert.Zero(t, o.DifferencePercentage)
	assert.Contains(t, o.Error, "dimension")
	assert.Equal(t, "192x108", o.BaselineSize)
	assert.Equal(t, "75x133", o.CaptureSize)
	assert.FileExists(t, o.ActualPath)
	assert.Empty(t, o.DiffPath)
}

func TestRun_TargetErrorsAreConfigFailures(t *testing.T) {
	f := newFixture(t)
	f.capturer.
		on("missing", step{err: &capture.TargetNotFoundError{Locators: []models.Locator{models.CSS(".nope")}}}).
		on("ambiguous", step{err: &capture.AmbiguousTargetError{Locator: models.CSS("li"), Matches: 3}})

	result, err := f.runner.Run(context.Background(), runContext(models.ModeCompare, 2), []suite.Job{job("missing"), job("ambiguous")})
	require.NoError(t, err)

	for _, o := range result.Outcomes {
		assert.Equal(t, models.StatusFailedConfig, o.Status, o.Key.Test)
		assert.Equal(t, 1, o.Attempts, "configuration errors are not retried")
		assert.NotEmpty(t, o.Console)
	}
	assert.Contains(t, result.Outcomes[1].Error, "matched 3")
}

func TestRun_EnvironmentFailuresRetried(t *testing.T) {
	f := newFixture(t)
	timeout := &capture.NavigationTimeoutError{URL: "https://example.test/", Timeout: time.Second, Err: context.DeadlineExceeded}
	f.capturer.
		on("flaky", step{err: timeout}, step{img: solid(10, 10, white)}).
		on("down", step{err: &capture.NavigationError{URL: "https://example.test/", Err: errors.New("net::ERR_CONNECTION_REFUSED")}})

	result, err := f.runner.Run(context.Background(), runContext(models.ModeCompare, 1), []suite.Job{job("flaky"), job("down")})
	require.NoError(t, err)

	flaky := result.Outcomes[0]
	assert.Equal(t, models.StatusBaselineCreated, flaky.Status)
	assert.Equal(t, 2, flaky.Attempts)

	down := result.Outcomes[1]
	assert.Equal(t, models.StatusFailedEnvironment, down.Status)
	assert.Equal(t, 2, down.Attempts)
	assert.Contains(t, down.Error, "ERR_CONNECTION_REFUSED")
	assert.Equal(t, 2, f.capturer.calls["flaky"])
	assert.Equal(t, 2, f.capturer.calls["down"])

	for _, p := range f.engine.pages {
		assert.True(t, p.closed)
	}
}

func TestRun_PageFailureIsEnvironmental(t *testing.T) {
	f := newFixture(t)
	f.engine.err = errors.New("browser crashed")

	result, err := f.runner.Run(context.Background(), runContext(models.ModeCompare, 0), []suite.Job{job("hero")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailedEnvironment, result.Outcomes[0].Status)
	assert.Contains(t, result.Outcomes[0].Error, "browser crashed")
}

func TestRun_UpdateModeOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := job("hero").Key
	require.NoError(t, f.store.Create(ctx, key, solid(50, 50, white), "seed"))

	f.capturer.on("hero", step{img: solid(80, 60, black)})
	result, err := f.runner.Run(ctx, runContext(models.ModeUpdate, 0), []suite.Job{job("hero")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusBaselineUpdated, result.Outcomes[0].Status)

	img, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 80, 60), img.Bounds())
}

func TestRun_CancellationReportsRemainingAndWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.capturer.
		on("one", step{before: cancel, err: context.Canceled}).
		on("two", step{img: solid(10, 10, white)})

	result, err := f.runner.Run(ctx, runContext(models.ModeCompare, 3), []suite.Job{job("one"), job("two")})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, result.Outcomes, 2)
	for _, o := range result.Outcomes {
		assert.Equal(t, models.StatusFailedEnvironment, o.Status)
		assert.Equal(t, "cancelled", o.Error)
	}
	assert.Zero(t, f.capturer.calls["two"])

	keys, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The interrupted run is still reported and recorded
	require.NotNil(t, result.Report)
	assert.Len(t, f.history.records, 1)
}

func TestRun_WarningsCarriedIntoOutcome(t *testing.T) {
	f := newFixture(t)
	f.capturer.on("hero", step{img: solid(10, 10, white), warning: "fonts wait timed out after 5s; capturing in degraded mode"})

	result, err := f.runner.Run(context.Background(), runContext(models.ModeCompare, 0), []suite.Job{job("hero")})
	require.NoError(t, err)
	o := result.Outcomes[0]
	assert.Equal(t, []string{"fonts wait timed out after 5s; capturing in degraded mode"}, o.Warnings)
	require.Len(t, o.Console, 1)
	assert.Equal(t, "hello from hero", o.Console[0].Text)
}

func TestRun_LoadTestsFoldedIntoReport(t *testing.T) {
	f := newFixture(t)
	f.capturer.on("hero", step{img: solid(10, 10, white)})
	f.runner.WithLoadTests(func(ctx context.Context) []models.LoadTestSummary {
		return []models.LoadTestSummary{{Name: "smoke", Passed: true}}
	})

	result, err := f.runner.Run(context.Background(), runContext(models.ModeCompare, 0), []suite.Job{job("hero")})
	require.NoError(t, err)
	require.Len(t, result.Report.LoadTests, 1)
	assert.Equal(t, "smoke", result.Report.LoadTests[0].Name)
}

func TestRun_CrashContextTracksActiveKey(t *testing.T) {
	f := newFixture(t)
	rc := runContext(models.ModeCompare, 0)

	seen := map[string][2]string{}
	for _, name := range []string{"hero", "footer"} {
		f.capturer.on(name, step{img: solid(10, 10, white), before: func() {
			runID, key := common.CrashContext()
			seen[name] = [2]string{runID, key}
		}})
	}

	_, err := f.runner.Run(context.Background(), rc, []suite.Job{job("hero"), job("footer")})
	require.NoError(t, err)

	assert.Equal(t, [2]string{rc.RunID, job("hero").Key.String()}, seen["hero"])
	assert.Equal(t, [2]string{rc.RunID, job("footer").Key.String()}, seen["footer"])

	runID, key := common.CrashContext()
	assert.Empty(t, runID)
	assert.Empty(t, key)
}
