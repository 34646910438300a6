package sinks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
)

// SentrySink sends one event per failed key to a Sentry project
type SentrySink struct {
	storeURL  string
	publicKey string
	client    *http.Client
	logger    arbor.ILogger
}

type sentryEvent struct {
	EventID     string            `json:"event_id"`
	Timestamp   string            `json:"timestamp"`
	Level       string            `json:"level"`
	Logger      string            `json:"logger"`
	Platform    string            `json:"platform"`
	Message     string            `json:"message"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	Tags        map[string]string `json:"tags"`
	Extra       map[string]any    `json:"extra,omitempty"`
	Fingerprint []string          `json:"fingerprint"`
}

// NewSentrySink parses the DSN (https://<key>@<host>/<project>) and creates the sink
func NewSentrySink(config common.SentryConfig, client *http.Client, logger arbor.ILogger) (*SentrySink, error) {
	u, err := url.Parse(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid sentry dsn: %w", err)
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("invalid sentry dsn: missing public key")
	}
	project := strings.Trim(u.Path, "/")
	if project == "" {
		return nil, fmt.Errorf("invalid sentry dsn: missing project id")
	}

	// Projects may live under a path prefix: /prefix/<project>
	prefix := ""
	if i := strings.LastIndex(project, "/"); i >= 0 {
		prefix, project = "/"+project[:i], project[i+1:]
	}

	return &SentrySink{
		storeURL:  fmt.Sprintf("%s://%s%s/api/%s/store/", u.Scheme, u.Host, prefix, project),
		publicKey: u.User.Username(),
		client:    client,
		logger:    logger,
	}, nil
}

func (s *SentrySink) Name() string { return "sentry" }

// Publish sends an event for every failed entry. Events are grouped per key
// and status so repeated failures of the same key aggregate in Sentry.
func (s *SentrySink) Publish(ctx context.Context, report *models.Report) error {
	header := http.Header{}
	header.Set("X-Sentry-Auth", fmt.Sprintf(
		"Sentry sentry_version=7, sentry_client=vista/%s, sentry_key=%s",
		common.GetVersion(), s.publicKey))

	sent := 0
	for _, e := range report.Entries {
		if !e.Status.Failed() {
			continue
		}
		event := s.event(report, e)
		if err := postJSON(ctx, s.client, s.storeURL, event, header); err != nil {
			return fmt.Errorf("sentry store for %s: %w", e.Key, err)
		}
		sent++
	}

	s.logger.Debug().Int("events", sent).Msg("Sentry events sent")
	return nil
}

func (s *SentrySink) event(report *models.Report, e models.ReportEntry) sentryEvent {
	message := fmt.Sprintf("%s: %s", e.Key, e.Status)
	if e.Error != "" {
		message += ": " + e.Error
	}

	extra := map[string]any{
		"differing_pixels":      e.DifferingPixels,
		"difference_percentage": e.DifferencePercentage,
	}
	for name, path := range map[string]string{"baseline": e.BaselinePath, "actual": e.ActualPath, "diff": e.DiffPath} {
		if path != "" {
			extra[name] = path
		}
	}
	if len(e.Warnings) > 0 {
		extra["warnings"] = e.Warnings
	}

	level := "error"
	if e.Status == models.StatusFailedEnvironment {
		level = "warning"
	}

	return sentryEvent{
		EventID:     strings.ReplaceAll(uuid.New().String(), "-", ""),
		Timestamp:   report.GeneratedAt.UTC().Format(time.RFC3339),
		Level:       level,
		Logger:      "vista",
		Platform:    "go",
		Message:     message,
		Environment: report.Run.Environment,
		Release:     report.Run.Commit,
		Tags: map[string]string{
			"key":     e.Key,
			"status":  string(e.Status),
			"variant": e.Variant,
			"run_id":  report.Run.RunID,
			"branch":  report.Run.Branch,
		},
		Extra:       extra,
		Fingerprint: []string{e.Key, string(e.Status)},
	}
}
