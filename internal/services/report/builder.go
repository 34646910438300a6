// Package report projects run outcomes into durable report documents.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
)

// Output file names inside a run directory
const (
	ResultsFile   = "results.json"
	MarkdownFile  = "report.md"
	HTMLFile      = "report.html"
	PDFFile       = "report.pdf"
	JUnitFile     = "junit.xml"
	CompositesDir = "composites"
)

// Builder writes the structured results and human-readable documents for a run.
// It only reads outcome artifacts; it never touches the baseline store.
type Builder struct {
	config     common.ReportConfig
	resultsDir string
	logger     arbor.ILogger
	now        func() time.Time
}

// NewBuilder creates a report builder writing under resultsDir/<run-id>/
func NewBuilder(config common.ReportConfig, resultsDir string, logger arbor.ILogger) *Builder {
	if len(config.Formats) == 0 {
		config.Formats = []string{"json", "markdown", "html", "junit"}
	}
	if config.Title == "" {
		config.Title = "Visual Regression Report"
	}
	return &Builder{
		config:     config,
		resultsDir: resultsDir,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the clock used for GeneratedAt
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// RunDir returns the directory a run's reports are written to
func (b *Builder) RunDir(runID string) string {
	return filepath.Join(b.resultsDir, runID)
}

// Build projects outcomes into a report and writes every configured format.
// Entries keep the order of outcomes.
func (b *Builder) Build(rc models.RunContext, outcomes []models.Outcome, loadTests []models.LoadTestSummary) (*models.Report, error) {
	dir := b.RunDir(rc.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	report := &models.Report{
		Run:         rc,
		GeneratedAt: b.now().UTC(),
		Summary:     models.Summarize(outcomes),
		Entries:     make([]models.ReportEntry, 0, len(outcomes)),
		LoadTests:   loadTests,
		Dir:         dir,
		Artifacts:   map[string]string{},
		Outcomes:    outcomes,
	}

	for _, o := range outcomes {
		report.Entries = append(report.Entries, b.entry(dir, o))
	}

	if err := b.Write(report); err != nil {
		return report, err
	}

	b.logger.Info().
		Str("run_id", rc.RunID).
		Str("dir", dir).
		Int("total", report.Summary.Total).
		Int("passed", report.Summary.Passed).
		Int("failed", report.Summary.Failed).
		Msg("Report built")

	return report, nil
}

// Write renders the report documents into report.Dir. results.json is always written.
func (b *Builder) Write(report *models.Report) error {
	if report.Dir == "" {
		return fmt.Errorf("report directory is not set")
	}
	if report.Artifacts == nil {
		report.Artifacts = map[string]string{}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := b.writeFile(report, "json", ResultsFile, append(data, '\n')); err != nil {
		return err
	}

	markdown := RenderMarkdown(report, b.config.Title)
	if b.config.HasFormat("markdown") {
		if err := b.writeFile(report, "markdown", MarkdownFile, []byte(markdown)); err != nil {
			return err
		}
	}

	if b.config.HasFormat("html") {
		html, err := RenderHTML(markdown, b.config.Title)
		if err != nil {
			return fmt.Errorf("failed to render html report: %w", err)
		}
		if err := b.writeFile(report, "html", HTMLFile, html); err != nil {
			return err
		}
	}

	if b.config.HasFormat("pdf") {
		pdf, err := RenderPDF(markdown, b.config.Title, report.Dir, report.GeneratedAt, b.logger)
		if err != nil {
			// A broken PDF must not lose the other documents
			b.logger.Warn().Err(err).Msg("Failed to render pdf report")
		} else if err := b.writeFile(report, "pdf", PDFFile, pdf); err != nil {
			return err
		}
	}

	if b.config.HasFormat("junit") {
		junit, err := RenderJUnit(report)
		if err != nil {
			return fmt.Errorf("failed to render junit report: %w", err)
		}
		if err := b.writeFile(report, "junit", JUnitFile, junit); err != nil {
			return err
		}
	}

	return nil
}

func (b *Builder) writeFile(report *models.Report, format, name string, data []byte) error {
	path := filepath.Join(report.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	report.Artifacts[format] = path
	return nil
}

// entry projects one outcome and notes any expected artifact that is absent
func (b *Builder) entry(dir string, o models.Outcome) models.ReportEntry {
	e := models.ReportEntry{
		Key:                  o.Key.String(),
		Suite:                o.Key.Suite,
		Test:                 o.Key.Test,
		Image:                o.Key.Image,
		Variant:              o.Key.Variant,
		Status:               o.Status,
		Match:                o.Match,
		DifferingPixels:      o.DifferingPixels,
		DifferencePercentage: o.DifferencePercentage,
		BaselinePath:         o.BaselinePath,
		ActualPath:           o.ActualPath,
		DiffPath:             o.DiffPath,
		Error:                o.Error,
		Warnings:             o.Warnings,
		DurationMs:           o.DurationMs,
	}

	for _, a := range expectedArtifacts(o) {
		if a.path == "" {
			e.Missing = append(e.Missing, fmt.Sprintf("%s image was not recorded", a.name))
			continue
		}
		if _, err := os.Stat(a.path); err != nil {
			e.Missing = append(e.Missing, fmt.Sprintf("%s image not found at %s", a.name, a.path))
		}
	}

	if o.Status == models.StatusFailedVisual || o.Status == models.StatusFailedLayout {
		rel, err := b.composite(dir, o)
		if err != nil {
			b.logger.Debug().Err(err).Str("key", e.Key).Msg("Composite skipped")
		} else {
			e.CompositePath = rel
		}
	}

	return e
}

type artifact struct {
	name string
	path string
}

func expectedArtifacts(o models.Outcome) []artifact {
	switch o.Status {
	case models.StatusFailedVisual:
		return []artifact{{"baseline", o.BaselinePath}, {"actual", o.ActualPath}, {"diff", o.DiffPath}}
	case models.StatusFailedLayout:
		return []artifact{{"baseline", o.BaselinePath}, {"actual", o.ActualPath}}
	case models.StatusBaselineCreated, models.StatusBaselineUpdated:
		return []artifact{{"baseline", o.BaselinePath}}
	}
	return nil
}

// composite writes composites/<slug>.png and returns its path relative to dir
func (b *Builder) composite(dir string, o models.Outcome) (string, error) {
	baseline, err := loadPNG(o.BaselinePath)
	if err != nil {
		return "", err
	}
	actual, err := loadPNG(o.ActualPath)
	if err != nil {
		return "", err
	}
	// The diff panel is optional; layout failures have none
	diff, _ := loadPNG(o.DiffPath)

	img := Composite([]image.Image{baseline, actual, diff}, b.config.CompositeWidth)

	rel := filepath.Join(CompositesDir, o.Key.Slug()+".png")
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func loadPNG(path string) (image.Image, error) {
	if path == "" {
		return nil, fs.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// Load reads a previously written results.json so documents can be rebuilt
func Load(dir string) (*models.Report, error) {
	data, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no %s in %s", ResultsFile, dir)
		}
		return nil, fmt.Errorf("failed to read results: %w", err)
	}

	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}
	report.Dir = dir
	report.Artifacts = map[string]string{}
	return &report, nil
}
