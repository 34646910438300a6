// Package capture renders one test target into a bitmap.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/browser"
	"github.com/ternarybob/vista/internal/services/normalizer"
)

// MaskColor is painted over masked regions of every capture
var MaskColor = color.RGBA{R: 255, G: 0, B: 255, A: 255}

// Controller runs the capture procedure against a page
type Controller struct {
	config     Config
	normalizer *normalizer.Normalizer
	logger     arbor.ILogger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewController creates a capture controller
func NewController(config Config, norm *normalizer.Normalizer, logger arbor.ILogger) *Controller {
	c := &Controller{
		config:     config,
		normalizer: norm,
		logger:     logger,
		now:        time.Now,
	}
	c.sleep = c.defaultSleep
	return c
}

// Capture renders target on page in a fixed order: viewport, navigation,
// readiness waits, normalisation, optional scroll and settle, freeze, then
// snapshot with masks painted in.
//
// The page console is drained exactly once, on every return path. On failure
// the returned capture, when non-nil, carries diagnostics but no image.
func (c *Controller) Capture(ctx context.Context, page interfaces.Page, key models.Key, target models.Target, opts models.CaptureOptions) (result *models.Capture, err error) {
	result = &models.Capture{Key: key}
	defer func() {
		result.Console = page.DrainConsole()
	}()

	log := c.logger.WithCorrelationId(key.String())

	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		if err := page.SetViewport(ctx, opts.Viewport); err != nil {
			return result, c.abort(ctx, &CaptureError{Stage: "viewport", Err: err})
		}
	}

	if err := page.Navigate(ctx, target.URL, c.config.NavigationTimeout); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return result, &NavigationTimeoutError{URL: target.URL, Timeout: c.config.NavigationTimeout, Err: err}
		}
		return result, &NavigationError{URL: target.URL, Err: err}
	}

	waits := []struct {
		enabled bool
		signal  models.WaitSignal
		timeout time.Duration
		pred    predicate
	}{
		{opts.WaitForNetworkIdle, models.SignalNetworkIdle, c.config.NetworkIdleTimeout, c.networkIdlePredicate(page)},
		{opts.WaitForFonts, models.SignalFonts, c.config.FontsTimeout, boolPredicate(page, browser.FontsReadyScript)},
		{opts.WaitForImages, models.SignalImages, c.config.ImagesTimeout, boolPredicate(page, browser.ImagesReadyScript)},
	}
	for _, w := range waits {
		if !w.enabled {
			continue
		}
		report, err := c.waitFor(ctx, w.signal, w.timeout, w.pred)
		if err != nil {
			return result, err
		}
		result.Waits = append(result.Waits, report)
		if report.Degraded() {
			msg := fmt.Sprintf("%s wait timed out after %s; capturing in degraded mode", w.signal, w.timeout)
			result.Warnings = append(result.Warnings, msg)
			log.Warn().Str("signal", string(w.signal)).Dur("timeout", w.timeout).Str("last_error", report.Error).Msg("Readiness wait timed out")
		}
	}

	if c.normalizer != nil && !c.normalizer.Apply(ctx, page) {
		result.Warnings = append(result.Warnings, "style normalizer not applied")
	}

	var region models.Rect
	if target.IsElement() {
		region, err = c.locateTarget(ctx, page, target.Locators)
		if err != nil {
			return result, err
		}

		if opts.ScrollIntoView {
			if err := page.Evaluate(ctx, browser.ScrollToScript(region), nil); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("scroll into view failed: %v", err))
			}
			start := c.now()
			if err := c.sleep(ctx, c.config.SettleInterval); err != nil {
				return result, err
			}
			result.Waits = append(result.Waits, models.WaitReport{Signal: models.SignalSettle, Result: models.WaitMet, Elapsed: c.now().Sub(start)})

			// Layout may have shifted while settling
			region, err = c.resolveTarget(ctx, page, target.Locators)
			if err != nil {
				return result, err
			}
		}
	}

	if err := page.Evaluate(ctx, browser.FreezeScript, nil); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to freeze media and timers: %v", err))
	}

	var clip *models.Rect
	switch {
	case target.IsElement():
		clip = &region
	default:
		metrics, err := browser.Metrics(ctx, page)
		if err != nil {
			return result, c.abort(ctx, &CaptureError{Stage: "metrics", Err: err})
		}
		if target.FullPage {
			region = metrics.DocumentRect()
		} else {
			region = metrics.ViewportRect()
		}
	}

	maskRects, warnings := c.resolveMasks(ctx, page, opts)
	result.Warnings = append(result.Warnings, warnings...)

	data, err := page.Snapshot(ctx, clip, target.FullPage && !target.IsElement())
	if err != nil {
		return result, c.abort(ctx, &CaptureError{Stage: "snapshot", Err: err})
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return result, c.abort(ctx, &CaptureError{Stage: "decode", Err: err})
	}
	img := toRGBA(decoded)

	scale := 1.0
	if region.Width > 0 {
		scale = float64(img.Bounds().Dx()) / region.Width
	}
	result.Masks = paintMasks(img, maskRects, region, scale)
	result.Image = img
	result.CapturedAt = c.now().UTC()

	log.Debug().
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Int("masks", len(result.Masks)).
		Int("warnings", len(result.Warnings)).
		Msg("Capture complete")

	return result, nil
}

// abort prefers the context error when the run was cancelled
func (c *Controller) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// locateTarget re-polls resolveTarget until a locator matches or
// TargetTimeout elapses. Elements rendered after the readiness waits are
// still found. Ambiguity ends polling at once.
func (c *Controller) locateTarget(ctx context.Context, page interfaces.Page, locators []models.Locator) (models.Rect, error) {
	if c.config.TargetTimeout <= 0 {
		return c.resolveTarget(ctx, page, locators)
	}

	var region models.Rect
	var resolveErr error
	var missing *TargetNotFoundError
	found := true
	notFound := false

	pred := func(pollCtx context.Context) (*bool, error) {
		r, err := c.resolveTarget(pollCtx, page, locators)
		if err != nil && pollCtx.Err() != nil && ctx.Err() == nil {
			// Poll deadline hit mid-evaluation; keep the previous miss.
			return &notFound, nil
		}
		region, resolveErr = r, err
		if errors.As(err, &missing) {
			return &notFound, nil
		}
		return &found, nil
	}

	report, err := c.waitFor(ctx, models.SignalTarget, c.config.TargetTimeout, pred)
	if err != nil {
		return models.Rect{}, err
	}
	if report.Result == models.WaitMet {
		return region, resolveErr
	}
	if missing != nil {
		return models.Rect{}, missing
	}
	return models.Rect{}, &TargetNotFoundError{Locators: locators, Err: context.DeadlineExceeded}
}

// resolveTarget walks the locators in order; the first one with any visible
// match wins and must match exactly one element.
func (c *Controller) resolveTarget(ctx context.Context, page interfaces.Page, locators []models.Locator) (models.Rect, error) {
	var lastErr error
	for _, loc := range locators {
		rects, err := page.Locate(ctx, loc)
		if err != nil {
			if ctx.Err() != nil {
				return models.Rect{}, ctx.Err()
			}
			c.logger.Debug().Err(err).Str("locator", loc.String()).Msg("Locator evaluation failed")
			lastErr = err
			continue
		}
		switch len(rects) {
		case 0:
			continue
		case 1:
			return rects[0], nil
		default:
			return models.Rect{}, &AmbiguousTargetError{Locator: loc, Matches: len(rects)}
		}
	}
	return models.Rect{}, &TargetNotFoundError{Locators: locators, Err: lastErr}
}

// resolveMasks returns every mask in document coordinates. Mask selectors
// with no match are ignored.
func (c *Controller) resolveMasks(ctx context.Context, page interfaces.Page, opts models.CaptureOptions) ([]models.Rect, []string) {
	var rects []models.Rect
	var warnings []string
	for _, loc := range opts.MaskSelectors {
		matches, err := page.Locate(ctx, loc)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("mask %s could not be resolved: %v", loc, err))
			continue
		}
		rects = append(rects, matches...)
	}
	rects = append(rects, opts.MaskRects...)
	return rects, warnings
}

// paintMasks clips masks to the captured region, converts them to image
// pixels and paints them opaque. It returns the painted pixel rectangles.
func paintMasks(img *image.RGBA, masks []models.Rect, region models.Rect, scale float64) []models.Rect {
	var painted []models.Rect
	bounds := img.Bounds()
	for _, m := range masks {
		clipped := m.Intersect(region)
		if clipped.Empty() {
			continue
		}
		px := clipped.Translate(-region.X, -region.Y).Scale(scale)
		r := px.Pixels().Intersect(bounds)
		if r.Empty() {
			continue
		}
		draw.Draw(img, r, image.NewUniform(MaskColor), image.Point{}, draw.Src)
		painted = append(painted, models.Rect{
			X:      float64(r.Min.X),
			Y:      float64(r.Min.Y),
			Width:  float64(r.Dx()),
			Height: float64(r.Dy()),
		})
	}
	return painted
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
