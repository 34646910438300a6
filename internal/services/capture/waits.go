package capture

import (
	"context"
	"time"

	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/browser"
)

// predicate reports true (met), false (not yet) or nil (not applicable)
type predicate func(ctx context.Context) (*bool, error)

// waitFor polls pred until it is met, not applicable, or timeout elapses.
// Only cancellation of ctx itself is returned as an error.
func (c *Controller) waitFor(ctx context.Context, signal models.WaitSignal, timeout time.Duration, pred predicate) (models.WaitReport, error) {
	start := c.now()
	report := models.WaitReport{Signal: signal}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		ready, err := pred(waitCtx)
		switch {
		case err != nil:
			lastErr = err
		case ready == nil:
			report.Result = models.WaitNotApplicable
			report.Elapsed = c.now().Sub(start)
			return report, nil
		case *ready:
			report.Result = models.WaitMet
			report.Elapsed = c.now().Sub(start)
			return report, nil
		}

		if err := c.sleep(waitCtx, c.config.PollInterval); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Result = models.WaitTimedOut
			report.Elapsed = c.now().Sub(start)
			if lastErr != nil {
				report.Error = lastErr.Error()
			}
			return report, nil
		}
	}
}

func boolPredicate(page interfaces.Page, script string) predicate {
	return func(ctx context.Context) (*bool, error) {
		var ready *bool
		if err := page.Evaluate(ctx, script, &ready); err != nil {
			return nil, err
		}
		return ready, nil
	}
}

// networkIdlePredicate is met once the document has loaded and the resource
// count has not changed for the idle window.
func (c *Controller) networkIdlePredicate(page interfaces.Page) predicate {
	lastCount := -1
	var stableSince time.Time
	met := true
	notMet := false

	return func(ctx context.Context) (*bool, error) {
		var complete bool
		if err := page.Evaluate(ctx, browser.ReadyStateScript, &complete); err != nil {
			return nil, err
		}
		if !complete {
			lastCount = -1
			return &notMet, nil
		}

		var count int
		if err := page.Evaluate(ctx, browser.ResourceCountScript, &count); err != nil {
			return nil, err
		}
		now := c.now()
		if count != lastCount {
			lastCount = count
			stableSince = now
			if c.config.NetworkIdleWindow <= 0 {
				return &met, nil
			}
			return &notMet, nil
		}
		if now.Sub(stableSince) >= c.config.NetworkIdleWindow {
			return &met, nil
		}
		return &notMet, nil
	}
}

func (c *Controller) defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
