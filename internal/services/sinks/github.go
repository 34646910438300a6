package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
	"golang.org/x/oauth2"
)

const maxStatusDescription = 140

// GitHubStatusSink sets a commit status for the run's commit
type GitHubStatusSink struct {
	config common.GitHubConfig
	client *github.Client
	logger arbor.ILogger
}

// NewGitHubStatusSink creates the sink with a token-authenticated client
func NewGitHubStatusSink(config common.GitHubConfig, logger arbor.ILogger) (*GitHubStatusSink, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if config.Context == "" {
		config.Context = "vista/visual-regression"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))
	if config.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
	}

	return &GitHubStatusSink{config: config, client: client, logger: logger}, nil
}

func (s *GitHubStatusSink) Name() string { return "github" }

// Publish sets success when nothing failed, failure otherwise
func (s *GitHubStatusSink) Publish(ctx context.Context, report *models.Report) error {
	commit := report.Run.Commit
	if commit == "" {
		return fmt.Errorf("github status requires a commit sha")
	}

	state := "success"
	if report.Summary.Failed > 0 {
		state = "failure"
	}
	description := statusDescription(report.Summary)

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(s.config.Context),
	}
	if s.config.TargetURL != "" {
		status.TargetURL = github.String(s.config.TargetURL)
	}

	_, _, err := s.client.Repositories.CreateStatus(ctx, s.config.Owner, s.config.Repo, commit, status)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			return &StatusError{StatusCode: ghErr.Response.StatusCode, Body: ghErr.Message}
		}
		return fmt.Errorf("github create status: %w", err)
	}

	s.logger.Debug().Str("commit", commit).Str("state", state).Msg("GitHub status set")
	return nil
}

func statusDescription(summary models.Summary) string {
	d := fmt.Sprintf("%d passed, %d failed", summary.Passed, summary.Failed)
	if n := summary.BaselinesCreated + summary.BaselinesUpdated; n > 0 {
		d += fmt.Sprintf(", %d baselines written", n)
	}
	if len(d) > maxStatusDescription {
		d = d[:maxStatusDescription]
	}
	return d
}
