package report

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/ternarybob/vista/internal/models"
)

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Cases     []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
	Skipped   *junitMessage `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

// RenderJUnit renders the report as JUnit XML, one testsuite per suite name.
// Visual and layout failures are failures; environment and configuration
// failures are errors; baseline writes are skipped.
func RenderJUnit(r *models.Report) ([]byte, error) {
	root := junitTestSuites{Name: fmt.Sprintf("vista %s", r.Run.RunID)}

	index := map[string]int{}
	suiteMs := map[string]int64{}
	var totalMs int64
	for _, e := range r.Entries {
		suiteName := e.Suite
		if suiteName == "" {
			suiteName = "default"
		}
		i, ok := index[suiteName]
		if !ok {
			i = len(root.Suites)
			index[suiteName] = i
			root.Suites = append(root.Suites, junitTestSuite{
				Name:      suiteName,
				Timestamp: r.Run.StartedAt.UTC().Format("2006-01-02T15:04:05"),
			})
		}
		suite := &root.Suites[i]

		tc := junitTestCase{
			Name:      strings.TrimPrefix(e.Key, e.Suite+":"),
			ClassName: suiteName,
			Time:      seconds(e.DurationMs),
		}
		switch e.Status {
		case models.StatusFailedVisual:
			tc.Failure = &junitMessage{
				Message: fmt.Sprintf("%d pixels differ (%s)", e.DifferingPixels, percent(e.DifferencePercentage)),
				Type:    string(e.Status),
				Body:    artifactLines(e),
			}
			suite.Failures++
		case models.StatusFailedLayout:
			tc.Failure = &junitMessage{Message: e.Error, Type: string(e.Status), Body: artifactLines(e)}
			suite.Failures++
		case models.StatusFailedEnvironment, models.StatusFailedConfig:
			tc.Error = &junitMessage{Message: e.Error, Type: string(e.Status)}
			suite.Errors++
		case models.StatusBaselineCreated, models.StatusBaselineUpdated:
			tc.Skipped = &junitMessage{Message: Label(e.Status)}
			suite.Skipped++
		}
		if len(e.Warnings) > 0 {
			tc.SystemOut = strings.Join(e.Warnings, "\n")
		}

		suite.Cases = append(suite.Cases, tc)
		suite.Tests++
		suiteMs[suiteName] += e.DurationMs
		totalMs += e.DurationMs
	}

	for i := range root.Suites {
		root.Suites[i].Time = seconds(suiteMs[root.Suites[i].Name])
		root.Tests += root.Suites[i].Tests
		root.Failures += root.Suites[i].Failures
		root.Errors += root.Suites[i].Errors
		root.Skipped += root.Suites[i].Skipped
	}
	root.Time = seconds(totalMs)

	data, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(data, '\n')...), nil
}

func artifactLines(e models.ReportEntry) string {
	var lines []string
	for _, a := range []struct{ name, path string }{
		{"baseline", e.BaselinePath},
		{"actual", e.ActualPath},
		{"diff", e.DiffPath},
		{"composite", e.CompositePath},
	} {
		if a.path != "" {
			lines = append(lines, a.name+": "+a.path)
		}
	}
	return strings.Join(lines, "\n")
}

func seconds(ms int64) string {
	return fmt.Sprintf("%.3f", float64(ms)/1000)
}
