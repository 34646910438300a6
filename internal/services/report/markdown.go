package report

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ternarybob/vista/internal/models"
)

// statusLabel keeps configuration and environment failures visually distinct
// from pixel mismatches in every document format.
var statusLabel = map[models.Status]string{
	models.StatusPassed:            "PASS",
	models.StatusFailedVisual:      "FAIL (visual)",
	models.StatusFailedLayout:      "FAIL (layout changed)",
	models.StatusFailedEnvironment: "ERROR (environment)",
	models.StatusFailedConfig:      "ERROR (configuration)",
	models.StatusBaselineCreated:   "NEW baseline",
	models.StatusBaselineUpdated:   "UPDATED baseline",
}

// Label returns the display label for a status
func Label(s models.Status) string {
	if l, ok := statusLabel[s]; ok {
		return l
	}
	return string(s)
}

// RenderMarkdown renders the human-readable report. Output depends only on the
// report contents; GeneratedAt is the only time-dependent line.
func RenderMarkdown(r *models.Report, title string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("| Run | Environment | Mode | Branch | Commit | Started |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n\n",
		cell(r.Run.RunID), cell(r.Run.Environment), cell(string(r.Run.Mode)),
		cell(r.Run.Branch), cell(shortCommit(r.Run.Commit)), r.Run.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Generated %s\n\n", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Total | Passed | Failed | Baselines created | Baselines updated |\n")
	b.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n",
		r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.Summary.BaselinesCreated, r.Summary.BaselinesUpdated)

	if len(r.Summary.ByStatus) > 0 {
		b.WriteString("| Status | Count |\n|---|---|\n")
		for _, s := range models.AllStatuses {
			if n := r.Summary.ByStatus[s]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", Label(s), n)
			}
		}
		b.WriteString("\n")
	}

	if len(r.Entries) > 0 {
		b.WriteString("## Results\n\n")
		b.WriteString("| Key | Status | Differing pixels | Difference | Duration |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, e := range r.Entries {
			fmt.Fprintf(&b, "| %s | %s | %d | %s | %dms |\n",
				cell(e.Key), Label(e.Status), e.DifferingPixels, percent(e.DifferencePercentage), e.DurationMs)
		}
		b.WriteString("\n")
	}

	var failures []models.ReportEntry
	for _, e := range r.Entries {
		if e.Status.Failed() {
			failures = append(failures, e)
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, e := range failures {
			writeFailure(&b, r.Dir, e)
		}
	}

	if len(r.LoadTests) > 0 {
		b.WriteString("## Load tests\n\n")
		b.WriteString("| Name | Requests | Failed rate | Avg (ms) | p95 (ms) | Checks failed | Result |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, lt := range r.LoadTests {
			result := "PASS"
			if !lt.Passed {
				result = "FAIL"
			}
			fmt.Fprintf(&b, "| %s | %d | %s | %.1f | %.1f | %d | %s |\n",
				cell(lt.Name), lt.Requests, percent(lt.FailedRate), lt.AvgMs, lt.P95Ms, lt.ChecksFail, result)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeFailure(b *strings.Builder, dir string, e models.ReportEntry) {
	fmt.Fprintf(b, "### %s\n\n", e.Key)
	fmt.Fprintf(b, "- Status: **%s**\n", Label(e.Status))
	if e.Status == models.StatusFailedVisual {
		fmt.Fprintf(b, "- Differing pixels: %d (%s)\n", e.DifferingPixels, percent(e.DifferencePercentage))
	}
	if e.Error != "" {
		fmt.Fprintf(b, "- Error: %s\n", oneLine(e.Error))
	}
	for _, w := range e.Warnings {
		fmt.Fprintf(b, "- Warning: %s\n", oneLine(w))
	}
	for _, m := range e.Missing {
		fmt.Fprintf(b, "- Missing artifact: %s\n", oneLine(m))
	}
	b.WriteString("\n")

	switch {
	case e.CompositePath != "":
		fmt.Fprintf(b, "Baseline | Actual | Diff\n\n![%s](%s)\n\n", e.Key, e.CompositePath)
	default:
		for _, img := range []struct{ name, path string }{
			{"baseline", e.BaselinePath},
			{"actual", e.ActualPath},
			{"diff", e.DiffPath},
		} {
			if img.path != "" {
				fmt.Fprintf(b, "![%s](%s)\n\n", img.name, relativePath(dir, img.path))
			}
		}
	}
}

func relativePath(dir, path string) string {
	if dir == "" || !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.4f%%", ratio*100)
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

// cell escapes table separators and collapses newlines
func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(oneLine(s), "|", "\\|")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
