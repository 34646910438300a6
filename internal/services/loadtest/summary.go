// Package loadtest runs an external load-test tool and folds its summary into
// the run report.
package loadtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/vista/internal/models"
)

// k6 --summary-export document. Only the metrics the report shows are decoded.
type summaryExport struct {
	Metrics map[string]metric `json:"metrics"`
}

type metric struct {
	Count      *float64        `json:"count"`
	Rate       *float64        `json:"rate"`
	Value      *float64        `json:"value"`
	Avg        *float64        `json:"avg"`
	Max        *float64        `json:"max"`
	P95        *float64        `json:"p(95)"`
	Passes     *float64        `json:"passes"`
	Fails      *float64        `json:"fails"`
	Thresholds map[string]bool `json:"thresholds"`
}

// ParseSummary folds a k6 summary export into a LoadTestSummary. A threshold
// entry of true means the threshold was crossed; any crossed threshold fails
// the load test.
func ParseSummary(name string, data []byte) (models.LoadTestSummary, error) {
	var doc summaryExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.LoadTestSummary{}, fmt.Errorf("failed to parse load test summary: %w", err)
	}
	if doc.Metrics == nil {
		return models.LoadTestSummary{}, fmt.Errorf("load test summary %q has no metrics", name)
	}

	s := models.LoadTestSummary{Name: name, Passed: true}

	if m, ok := doc.Metrics["http_reqs"]; ok {
		s.Requests = int64(value(m.Count))
	}
	if m, ok := doc.Metrics["http_req_failed"]; ok {
		// Rate metrics export their ratio as value
		s.FailedRate = value(m.Value)
	}
	if m, ok := doc.Metrics["http_req_duration"]; ok {
		s.AvgMs = value(m.Avg)
		s.P95Ms = value(m.P95)
		s.MaxMs = value(m.Max)
	}
	if m, ok := doc.Metrics["checks"]; ok {
		s.Checks = int64(value(m.Passes) + value(m.Fails))
		s.ChecksFail = int64(value(m.Fails))
	}

	names := make([]string, 0, len(doc.Metrics))
	for n := range doc.Metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		for expr, crossed := range doc.Metrics[n].Thresholds {
			if s.Thresholds == nil {
				s.Thresholds = map[string]bool{}
			}
			s.Thresholds[n+": "+expr] = crossed
			if crossed {
				s.Passed = false
			}
		}
	}

	return s, nil
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// ReadSummaries parses every *.json summary in dir, in name order. A missing
// directory yields no summaries.
func ReadSummaries(dir string) ([]models.LoadTestSummary, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read summary directory: %w", err)
	}

	var summaries []models.LoadTestSummary
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".json"), "-summary")
		s, err := ParseSummary(name, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
