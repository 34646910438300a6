// Package sinks publishes finished reports to external systems. Sink
// failures are logged and summarised; they never fail a run.
package sinks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"golang.org/x/time/rate"
)

// Delivery is the result of publishing to one sink
type Delivery struct {
	Sink     string
	Attempts int
	Err      error
}

// Dispatcher fans a report out to every configured sink. Requests share one
// rate limiter and each sink call is retried under the same policy.
type Dispatcher struct {
	sinks   []interfaces.ResultSink
	limiter *rate.Limiter
	retry   *RetryPolicy
	timeout time.Duration
	logger  arbor.ILogger
}

// NewDispatcher creates a dispatcher for the given sinks
func NewDispatcher(config common.SinksConfig, logger arbor.ILogger, sinks ...interfaces.ResultSink) *Dispatcher {
	gap := common.ParseDuration(config.RateLimit, 500*time.Millisecond)
	limit := rate.Inf
	if gap > 0 {
		limit = rate.Every(gap)
	}
	return &Dispatcher{
		sinks:   sinks,
		limiter: rate.NewLimiter(limit, 1),
		retry:   NewRetryPolicy(config.Retry),
		timeout: common.ParseDuration(config.Timeout, 15*time.Second),
		logger:  logger,
	}
}

// NewSinks builds the sinks enabled in configuration
func NewSinks(config common.SinksConfig, logger arbor.ILogger) ([]interfaces.ResultSink, error) {
	client := &http.Client{Timeout: common.ParseDuration(config.Timeout, 15*time.Second)}
	var sinks []interfaces.ResultSink

	if config.TestRail.Enabled {
		sinks = append(sinks, NewTestRailSink(config.TestRail, client, logger))
	}
	if config.Sentry.Enabled {
		s, err := NewSentrySink(config.Sentry, client, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if config.GitHub.Enabled {
		s, err := NewGitHubStatusSink(config.GitHub, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Len returns the number of sinks
func (d *Dispatcher) Len() int {
	return len(d.sinks)
}

// Publish sends the report to every sink in order and returns one delivery per sink
func (d *Dispatcher) Publish(ctx context.Context, report *models.Report) []Delivery {
	deliveries := make([]Delivery, 0, len(d.sinks))
	for _, sink := range d.sinks {
		attempts, err := d.retry.Execute(ctx, d.logger, func() (int, error) {
			if err := d.limiter.Wait(ctx); err != nil {
				return 0, fmt.Errorf("rate limit wait: %w", err)
			}
			callCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			err := sink.Publish(callCtx, report)
			return statusOf(err), err
		})

		deliveries = append(deliveries, Delivery{Sink: sink.Name(), Attempts: attempts, Err: err})
		if err != nil {
			d.logger.Warn().
				Str("sink", sink.Name()).
				Int("attempts", attempts).
				Err(err).
				Msg("Failed to publish report")
			continue
		}
		d.logger.Info().
			Str("sink", sink.Name()).
			Int("attempts", attempts).
			Msg("Report published")
	}
	return deliveries
}
