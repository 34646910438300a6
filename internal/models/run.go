package models

import "time"

// RunMode selects whether a run compares against baselines or rewrites them.
type RunMode string

const (
	ModeCompare RunMode = "compare"
	ModeUpdate  RunMode = "update"
)

// RunContext is the process-wide metadata for one run. It is built once at
// run start and passed explicitly to every component that needs it.
type RunContext struct {
	RunID       string    `json:"run_id"`
	Environment string    `json:"environment"`
	Branch      string    `json:"branch,omitempty"`
	Commit      string    `json:"commit,omitempty"`
	BaseURL     string    `json:"base_url,omitempty"`
	Mode        RunMode   `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	Workers     int       `json:"workers"`
	Retries     int       `json:"retries"`
	CI          bool      `json:"ci"`
	Version     string    `json:"version,omitempty"`
}

// RunRecord is the persisted history entry for a finished run.
type RunRecord struct {
	ID          string    `json:"id" badgerhold:"key"`
	Environment string    `json:"environment" badgerhold:"index"`
	Branch      string    `json:"branch"`
	Commit      string    `json:"commit"`
	Mode        RunMode   `json:"mode"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Summary     Summary   `json:"summary"`
	Outcomes    []Outcome `json:"outcomes"`
	ReportDir   string    `json:"report_dir"`
}

// KeyResult is one historical result for a single key.
type KeyResult struct {
	RunID                string    `json:"run_id"`
	StartedAt            time.Time `json:"started_at"`
	Status               Status    `json:"status"`
	DifferingPixels      int       `json:"differing_pixels"`
	DifferencePercentage float64   `json:"difference_percentage"`
}
