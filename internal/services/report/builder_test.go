package report

import (
	"encoding/xml"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func testRun() models.RunContext {
	return models.RunContext{
		RunID:       "run_20260314-093000_abcd1234",
		Environment: "staging",
		Branch:      "main",
		Commit:      "0123456789abcdef",
		Mode:        models.ModeCompare,
		StartedAt:   fixedNow.Add(-time.Minute),
		Workers:     1,
	}
}

func newTestBuilder(t *testing.T, formats ...string) (*Builder, string) {
	t.Helper()
	dir := t.TempDir()
	config := common.ReportConfig{Title: "Visual Regression Report", Formats: formats, CompositeWidth: 600}
	b := NewBuilder(config, dir, arbor.NewLogger()).WithClock(func() time.Time { return fixedNow })
	return b, dir
}

func visualFailure(t *testing.T, dir string) models.Outcome {
	key := models.Key{Suite: "suites/home.toml", Test: "hero", Variant: "chromium-desktop"}
	return models.Outcome{
		Key:                  key,
		Status:               models.StatusFailedVisual,
		DifferingPixels:      120,
		ComparablePixels:     10000,
		DifferencePercentage: 0.012,
		BaselinePath:         writePNG(t, filepath.Join(dir, "baselines", "hero.png"), 100, 100, color.RGBA{255, 255, 255, 255}),
		ActualPath:           writePNG(t, filepath.Join(dir, "actual", "hero.png"), 100, 100, color.RGBA{250, 250, 250, 255}),
		DiffPath:             writePNG(t, filepath.Join(dir, "diff", "hero.png"), 100, 100, color.RGBA{255, 0, 0, 255}),
		Attempts:             1,
		DurationMs:           1500,
	}
}

func TestBuild_WritesConfiguredFormats(t *testing.T) {
	b, dir := newTestBuilder(t, "json", "markdown", "html", "pdf", "junit")
	artifacts := t.TempDir()

	outcomes := []models.Outcome{
		{Key: models.Key{Suite: "suites/home.toml", Test: "footer", Variant: "chromium-desktop"}, Status: models.StatusPassed, Match: true, DurationMs: 800},
		visualFailure(t, artifacts),
		{Key: models.Key{Suite: "suites/home.toml", Test: "nav", Variant: "chromium-desktop"}, Status: models.StatusFailedEnvironment, Error: "navigation to https://example.test timed out after 30s", DurationMs: 30000},
	}

	report, err := b.Build(testRun(), outcomes, nil)
	require.NoError(t, err)

	runDir := filepath.Join(dir, testRun().RunID)
	assert.Equal(t, runDir, report.Dir)
	for _, name := range []string{ResultsFile, MarkdownFile, HTMLFile, PDFFile, JUnitFile} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}

	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Passed)
	assert.Equal(t, 2, report.Summary.Failed)

	// Entries keep input order
	require.Len(t, report.Entries, 3)
	assert.Equal(t, models.StatusPassed, report.Entries[0].Status)
	assert.Equal(t, models.StatusFailedVisual, report.Entries[1].Status)
	assert.Equal(t, models.StatusFailedEnvironment, report.Entries[2].Status)

	composite := report.Entries[1].CompositePath
	require.NotEmpty(t, composite)
	assert.FileExists(t, filepath.Join(runDir, composite))

	md, err := os.ReadFile(filepath.Join(runDir, MarkdownFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "FAIL (visual)")
	assert.Contains(t, string(md), "ERROR (environment)")
	assert.Contains(t, string(md), "timed out after 30s")
	assert.Contains(t, string(md), "("+composite+")")

	html, err := os.ReadFile(filepath.Join(runDir, HTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")
	assert.Contains(t, string(html), `src="`+composite+`"`)

	pdf, err := os.ReadFile(filepath.Join(runDir, PDFFile))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}

func TestBuild_OnlyJSONWhenNoOtherFormats(t *testing.T) {
	b, dir := newTestBuilder(t, "json")

	_, err := b.Build(testRun(), nil, nil)
	require.NoError(t, err)

	runDir := filepath.Join(dir, testRun().RunID)
	assert.FileExists(t, filepath.Join(runDir, ResultsFile))
	assert.NoFileExists(t, filepath.Join(runDir, MarkdownFile))
	assert.NoFileExists(t, filepath.Join(runDir, JUnitFile))
}

func TestBuild_NotesMissingArtifacts(t *testing.T) {
	b, _ := newTestBuilder(t, "json", "markdown")

	outcomes := []models.Outcome{{
		Key:          models.Key{Test: "hero", Variant: "chromium-desktop"},
		Status:       models.StatusFailedVisual,
		BaselinePath: "/nonexistent/baseline.png",
		ActualPath:   "/nonexistent/actual.png",
	}}

	report, err := b.Build(testRun(), outcomes, nil)
	require.NoError(t, err)

	entry := report.Entries[0]
	require.Len(t, entry.Missing, 3)
	assert.Contains(t, entry.Missing[0], "baseline image not found")
	assert.Contains(t, entry.Missing[2], "diff image was not recorded")
	assert.Empty(t, entry.CompositePath)

	md, err := os.ReadFile(report.Artifacts["markdown"])
	require.NoError(t, err)
	assert.Contains(t, string(md), "Missing artifact: baseline image not found")
}

func TestBuild_SameInputsSameDocuments(t *testing.T) {
	b, dir := newTestBuilder(t, "json", "markdown", "html", "junit")
	artifacts := t.TempDir()
	outcomes := []models.Outcome{visualFailure(t, artifacts)}
	runDir := filepath.Join(dir, testRun().RunID)

	read := func() map[string]string {
		out := map[string]string{}
		for _, name := range []string{ResultsFile, MarkdownFile, HTMLFile, JUnitFile} {
			data, err := os.ReadFile(filepath.Join(runDir, name))
			require.NoError(t, err)
			out[name] = string(data)
		}
		return out
	}

	_, err := b.Build(testRun(), outcomes, nil)
	require.NoError(t, err)
	first := read()

	_, err = b.Build(testRun(), outcomes, nil)
	require.NoError(t, err)
	assert.Equal(t, first, read())
}

func TestLoad_RoundTrip(t *testing.T) {
	b, _ := newTestBuilder(t, "json")
	outcomes := []models.Outcome{
		{Key: models.Key{Test: "hero", Variant: "chromium-desktop"}, Status: models.StatusBaselineCreated, DurationMs: 10},
	}
	loadTests := []models.LoadTestSummary{{Name: "smoke", Requests: 100, Passed: true}}

	built, err := b.Build(testRun(), outcomes, loadTests)
	require.NoError(t, err)

	loaded, err := Load(built.Dir)
	require.NoError(t, err)
	assert.Equal(t, built.Run.RunID, loaded.Run.RunID)
	assert.Equal(t, built.Summary, loaded.Summary)
	assert.Equal(t, built.Entries, loaded.Entries)
	assert.Equal(t, loadTests, loaded.LoadTests)
	assert.Equal(t, built.Dir, loaded.Dir)
}

func TestLoad_MissingResults(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ResultsFile)
}

func TestRenderJUnit_Categories(t *testing.T) {
	report := &models.Report{
		Run: testRun(),
		Entries: []models.ReportEntry{
			{Key: "a.toml:one@desktop", Suite: "a.toml", Status: models.StatusPassed, DurationMs: 1000},
			{Key: "a.toml:two@desktop", Suite: "a.toml", Status: models.StatusFailedVisual, DifferingPixels: 7},
			{Key: "b.toml:three@desktop", Suite: "b.toml", Status: models.StatusFailedConfig, Error: "no element matched"},
			{Key: "b.toml:four@desktop", Suite: "b.toml", Status: models.StatusBaselineCreated},
		},
	}

	data, err := RenderJUnit(report)
	require.NoError(t, err)

	var parsed junitTestSuites
	require.NoError(t, xml.Unmarshal(data, &parsed))
	assert.Equal(t, 4, parsed.Tests)
	assert.Equal(t, 1, parsed.Failures)
	assert.Equal(t, 1, parsed.Errors)
	assert.Equal(t, 1, parsed.Skipped)

	require.Len(t, parsed.Suites, 2)
	assert.Equal(t, "a.toml", parsed.Suites[0].Name)
	assert.Equal(t, "one@desktop", parsed.Suites[0].Cases[0].Name)
	assert.Equal(t, "1.000", parsed.Suites[0].Time)
	require.NotNil(t, parsed.Suites[0].Cases[1].Failure)
	assert.Contains(t, parsed.Suites[0].Cases[1].Failure.Message, "7 pixels differ")
	require.NotNil(t, parsed.Suites[1].Cases[0].Error)
	assert.Equal(t, "no element matched", parsed.Suites[1].Cases[0].Error.Message)
}

func TestComposite(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 100, 50))
	b := image.NewRGBA(image.Rect(0, 0, 100, 80))

	img := Composite([]image.Image{a, b, nil}, 0)
	assert.Equal(t, 3*compositeGutter+200, img.Bounds().Dx())
	assert.Equal(t, 2*compositeGutter+80, img.Bounds().Dy())

	scaled := Composite([]image.Image{a, b}, 108)
	assert.Equal(t, 108, scaled.Bounds().Dx())
	assert.Less(t, scaled.Bounds().Dy(), 96)
}

func TestRenderMarkdown_EscapesTableCells(t *testing.T) {
	report := &models.Report{
		Run:     testRun(),
		Entries: []models.ReportEntry{{Key: "a|b@desktop", Status: models.StatusPassed}},
	}
	md := RenderMarkdown(report, "Title")
	assert.True(t, strings.HasPrefix(md, "# Title\n"))
	assert.Contains(t, md, `a\|b@desktop`)
}
