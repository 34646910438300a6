package sinks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
)

// TestRail result status ids
const (
	testRailPassed  = 1
	testRailBlocked = 2
	testRailRetest  = 4
	testRailFailed  = 5
)

// TestRailSink posts one result per mapped key to a TestRail run
type TestRailSink struct {
	config common.TestRailConfig
	client *http.Client
	logger arbor.ILogger
}

// testRailResult is one result row. Configured extra fields (custom_* or
// version) are merged into every row.
type testRailResult map[string]any

type testRailRequest struct {
	Results []testRailResult `json:"results"`
}

// NewTestRailSink creates a TestRail sink
func NewTestRailSink(config common.TestRailConfig, client *http.Client, logger arbor.ILogger) *TestRailSink {
	return &TestRailSink{config: config, client: client, logger: logger}
}

func (s *TestRailSink) Name() string { return "testrail" }

// Publish posts results for every entry whose key maps to a case id.
// Baseline writes have no TestRail equivalent and are skipped.
func (s *TestRailSink) Publish(ctx context.Context, report *models.Report) error {
	var results []testRailResult
	for _, e := range report.Entries {
		caseID, ok := s.config.Cases[e.Key]
		if !ok || caseID == 0 {
			continue
		}
		status, ok := testRailStatus(e.Status)
		if !ok {
			continue
		}
		result := testRailResult{}
		for k, v := range s.config.Extra {
			result[k] = v
		}
		result["case_id"] = caseID
		result["status_id"] = status
		result["comment"] = testRailComment(report, e)
		if elapsed := testRailElapsed(e.DurationMs); elapsed != "" {
			result["elapsed"] = elapsed
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		s.logger.Debug().Msg("No TestRail cases mapped for this run")
		return nil
	}

	url := fmt.Sprintf("%s/index.php?/api/v2/add_results_for_cases/%d", strings.TrimRight(s.config.URL, "/"), s.config.RunID)
	req := testRailRequest{Results: results}
	header := http.Header{}
	header.Set("Authorization", basicAuth(s.config.User, s.config.APIKey))
	if err := postJSON(ctx, s.client, url, req, header); err != nil {
		return fmt.Errorf("testrail add_results_for_cases: %w", err)
	}

	s.logger.Debug().Int("results", len(results)).Int("run_id", s.config.RunID).Msg("TestRail results posted")
	return nil
}

func testRailStatus(status models.Status) (int, bool) {
	switch status {
	case models.StatusPassed:
		return testRailPassed, true
	case models.StatusFailedVisual, models.StatusFailedLayout:
		return testRailFailed, true
	case models.StatusFailedEnvironment:
		return testRailRetest, true
	case models.StatusFailedConfig:
		return testRailBlocked, true
	}
	return 0, false
}

func testRailComment(report *models.Report, e models.ReportEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (run %s", e.Status, report.Run.RunID)
	if report.Run.Commit != "" {
		fmt.Fprintf(&b, ", commit %s", report.Run.Commit)
	}
	b.WriteString(")")
	if e.Status == models.StatusFailedVisual {
		fmt.Fprintf(&b, "\n%d pixels differ (%.4f%%)", e.DifferingPixels, e.DifferencePercentage*100)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, "\n%s", e.Error)
	}
	return b.String()
}

// testRailElapsed formats a timespan; TestRail rejects zero
func testRailElapsed(ms int64) string {
	secs := (ms + 999) / 1000
	if secs <= 0 {
		return ""
	}
	return fmt.Sprintf("%ds", secs)
}
