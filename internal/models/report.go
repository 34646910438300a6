package models

import "time"

// Summary holds the aggregate counts for one run.
type Summary struct {
	Total            int            `json:"total"`
	Passed           int            `json:"passed"`
	Failed           int            `json:"failed"`
	BaselinesCreated int            `json:"baselines_created"`
	BaselinesUpdated int            `json:"baselines_updated"`
	ByStatus         map[Status]int `json:"by_status"`
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, o := range outcomes {
		s.Total++
		s.ByStatus[o.Status]++
		switch {
		case o.Status == StatusPassed:
			s.Passed++
		case o.Status.Failed():
			s.Failed++
		case o.Status == StatusBaselineCreated:
			s.BaselinesCreated++
		case o.Status == StatusBaselineUpdated:
			s.BaselinesUpdated++
		}
	}
	return s
}

// ReportEntry is the machine-readable projection of one outcome.
type ReportEntry struct {
	Key                  string   `json:"key"`
	Suite                string   `json:"suite,omitempty"`
	Test                 string   `json:"test"`
	Image                string   `json:"image,omitempty"`
	Variant              string   `json:"variant"`
	Status               Status   `json:"status"`
	Match                bool     `json:"match"`
	DifferingPixels      int      `json:"differing_pixels"`
	DifferencePercentage float64  `json:"difference_percentage"`
	BaselinePath         string   `json:"baseline_path,omitempty"`
	ActualPath           string   `json:"actual_path,omitempty"`
	DiffPath             string   `json:"diff_path,omitempty"`
	CompositePath        string   `json:"composite_path,omitempty"`
	Error                string   `json:"error,omitempty"`
	Missing              []string `json:"missing_artifacts,omitempty"`
	Warnings             []string `json:"warnings,omitempty"`
	DurationMs           int64    `json:"duration_ms"`
}

// Report is the aggregate result for one run.
type Report struct {
	Run         RunContext        `json:"run"`
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     Summary           `json:"summary"`
	Entries     []ReportEntry     `json:"entries"`
	LoadTests   []LoadTestSummary `json:"load_tests,omitempty"`
	Dir         string            `json:"-"`
	Artifacts   map[string]string `json:"-"`
	Outcomes    []Outcome         `json:"-"`
}

// LoadTestSummary is the folded summary of one external load-test run.
type LoadTestSummary struct {
	Name       string          `json:"name"`
	Requests   int64           `json:"requests"`
	FailedRate float64         `json:"failed_rate"`
	AvgMs      float64         `json:"avg_ms"`
	P95Ms      float64         `json:"p95_ms"`
	MaxMs      float64         `json:"max_ms"`
	Checks     int64           `json:"checks"`
	ChecksFail int64           `json:"checks_failed"`
	Thresholds map[string]bool `json:"thresholds,omitempty"`
	Passed     bool            `json:"passed"`
}
