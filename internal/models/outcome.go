package models

import "time"

// Status is the per-key result category shown in every report.
type Status string

const (
	StatusPassed            Status = "passed"
	StatusFailedVisual      Status = "failed-visual"
	StatusFailedLayout      Status = "failed-layout"
	StatusFailedEnvironment Status = "failed-environment"
	StatusFailedConfig      Status = "failed-config"
	StatusBaselineCreated   Status = "baseline-created"
	StatusBaselineUpdated   Status = "baseline-updated"
)

// AllStatuses lists statuses in report order.
var AllStatuses = []Status{
	StatusPassed,
	StatusFailedVisual,
	StatusFailedLayout,
	StatusFailedEnvironment,
	StatusFailedConfig,
	StatusBaselineCreated,
	StatusBaselineUpdated,
}

// Failed reports whether the status counts as a failure.
func (s Status) Failed() bool {
	switch s {
	case StatusFailedVisual, StatusFailedLayout, StatusFailedEnvironment, StatusFailedConfig:
		return true
	}
	return false
}

// Informational reports whether the status is neither pass nor fail.
func (s Status) Informational() bool {
	return s == StatusBaselineCreated || s == StatusBaselineUpdated
}

// Outcome is the immutable per-key result of one capture/compare cycle.
type Outcome struct {
	Key                  Key            `json:"key"`
	Status               Status         `json:"status"`
	Match                bool           `json:"match"`
	DifferingPixels      int            `json:"differing_pixels"`
	ComparablePixels     int            `json:"comparable_pixels"`
	DifferencePercentage float64        `json:"difference_percentage"`
	BaselineSize         string         `json:"baseline_size,omitempty"`
	CaptureSize          string         `json:"capture_size,omitempty"`
	BaselinePath         string         `json:"baseline_path,omitempty"`
	ActualPath           string         `json:"actual_path,omitempty"`
	DiffPath             string         `json:"diff_path,omitempty"`
	Error                string         `json:"error,omitempty"`
	Warnings             []string       `json:"warnings,omitempty"`
	Console              []ConsoleEntry `json:"console,omitempty"`
	Attempts             int            `json:"attempts"`
	DurationMs           int64          `json:"duration_ms"`
}

// Duration returns the elapsed capture/compare time.
func (o Outcome) Duration() time.Duration {
	return time.Duration(o.DurationMs) * time.Millisecond
}
