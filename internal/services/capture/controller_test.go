package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/browser"
	"github.com/ternarybob/vista/internal/services/normalizer"
)

// fakePage is an in-memory page that records every primitive call
type fakePage struct {
	calls       []string
	navigateErr error
	locate      map[string][]models.Rect
	locateErr   map[string]error
	hiddenFor   int // Locate finds nothing for this many calls
	locates     int
	fontsReady  any
	imagesReady any
	metrics     browser.PageMetrics
	snapshot    image.Image
	snapshotErr error
	clip        *models.Rect
	console     []models.ConsoleEntry
	drains      int
}

func newFakePage(width, height int) *fakePage {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return &fakePage{
		locate:      map[string][]models.Rect{},
		locateErr:   map[string]error{},
		fontsReady:  true,
		imagesReady: true,
		metrics: browser.PageMetrics{
			ViewportWidth: float64(width), ViewportHeight: float64(height),
			DocumentWidth: float64(width), DocumentHeight: float64(height),
		},
		snapshot: img,
	}
}

func (p *fakePage) SetViewport(ctx context.Context, vp models.Viewport) error {
	p.calls = append(p.calls, "viewport:"+vp.String())
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.calls = append(p.calls, "navigate:"+url)
	p.console = append(p.console, models.ConsoleEntry{Level: "log", Text: "loaded " + url})
	return p.navigateErr
}

func (p *fakePage) Evaluate(ctx context.Context, expression string, out any) error {
	var value any
	switch {
	case expression == browser.ReadyStateScript:
		p.calls = append(p.calls, "eval:ready")
		value = true
	case expression == browser.ResourceCountScript:
		value = 3
	case expression == browser.FontsReadyScript:
		p.calls = append(p.calls, "eval:fonts")
		value = p.fontsReady
	case expression == browser.ImagesReadyScript:
		p.calls = append(p.calls, "eval:images")
		value = p.imagesReady
	case expression == browser.FreezeScript:
		p.calls = append(p.calls, "eval:freeze")
		value = true
	case strings.Contains(expression, normalizer.StyleElementID):
		p.calls = append(p.calls, "eval:normalize")
		value = true
	case strings.Contains(expression, "window.scrollTo"):
		p.calls = append(p.calls, "eval:scroll")
		value = true
	case strings.Contains(expression, "documentHeight"):
		p.calls = append(p.calls, "eval:metrics")
		value = p.metrics
	default:
		return fmt.Errorf("unexpected script: %.40s", expression)
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *fakePage) Locate(ctx context.Context, loc models.Locator) ([]models.Rect, error) {
	p.calls = append(p.calls, "locate:"+loc.String())
	p.locates++
	if p.locates <= p.hiddenFor {
		return nil, nil
	}
	if err := p.locateErr[loc.String()]; err != nil {
		return nil, err
	}
	return p.locate[loc.String()], nil
}

func (p *fakePage) Snapshot(ctx context.Context, clip *models.Rect, fullPage bool) ([]byte, error) {
	p.calls = append(p.calls, fmt.Sprintf("snapshot:full=%t", fullPage))
	p.clip = clip
	if p.snapshotErr != nil {
		return nil, p.snapshotErr
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, p.snapshot); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *fakePage) DrainConsole() []models.ConsoleEntry {
	p.drains++
	out := p.console
	p.console = nil
	return out
}

func (p *fakePage) Close() error { return nil }

func testController() *Controller {
	logger := arbor.NewLogger()
	cfg := Config{
		NavigationTimeout:  time.Second,
		NetworkIdleTimeout: 200 * time.Millisecond,
		NetworkIdleWindow:  0,
		FontsTimeout:       40 * time.Millisecond,
		ImagesTimeout:      40 * time.Millisecond,
		SettleInterval:     time.Millisecond,
		PollInterval:       5 * time.Millisecond,
		TargetTimeout:      40 * time.Millisecond,
	}
	return NewController(cfg, normalizer.New(common.NormalizerConfig{}, logger), logger)
}

var testKey = models.Key{Test: "hero", Variant: "chromium-desktop"}

func indexOf(calls []string, prefix string) int {
	for i, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

func TestCapture_ProcedureOrder(t *testing.T) {
	page := newFakePage(80, 40)
	page.locate["css=.hero"] = []models.Rect{{X: 10, Y: 10, Width: 40, Height: 20}}

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".hero")}}
	opts := models.CaptureOptions{
		WaitForNetworkIdle: true,
		WaitForFonts:       true,
		WaitForImages:      true,
		ScrollIntoView:     true,
		Viewport:           models.Viewport{Width: 1280, Height: 720},
	}

	capture, err := testController().Capture(context.Background(), page, testKey, target, opts)
	require.NoError(t, err)
	require.NotNil(t, capture.Image)

	order := []string{"viewport:", "navigate:", "eval:ready", "eval:fonts", "eval:images", "eval:normalize", "locate:", "eval:scroll", "eval:freeze", "snapshot:"}
	last := -1
	for _, step := range order {
		i := indexOf(page.calls, step)
		require.NotEqual(t, -1, i, "missing step %s in %v", step, page.calls)
		assert.Greater(t, i, last, "step %s out of order in %v", step, page.calls)
		last = i
	}

	require.NotNil(t, page.clip)
	assert.Equal(t, models.Rect{X: 10, Y: 10, Width: 40, Height: 20}, *page.clip)

	require.Len(t, capture.Waits, 4)
	for _, w := range capture.Waits {
		assert.Equal(t, models.WaitMet, w.Result, "signal %s", w.Signal)
	}
	assert.Empty(t, capture.Warnings)
}

func TestCapture_ConsoleDrainedOnce(t *testing.T) {
	page := newFakePage(10, 10)

	capture, err := testController().Capture(context.Background(), page, testKey, models.Target{URL: "https://example.test/a"}, models.CaptureOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.drains)
	require.Len(t, capture.Console, 1)
	assert.Equal(t, "loaded https://example.test/a", capture.Console[0].Text)

	// Errors drain too
	page = newFakePage(10, 10)
	page.snapshotErr = errors.New("renderer gone")
	capture, err = testController().Capture(context.Background(), page, testKey, models.Target{URL: "https://example.test/b"}, models.CaptureOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, page.drains)
	require.NotNil(t, capture)
	assert.Nil(t, capture.Image)
	assert.Len(t, capture.Console, 1)
}

func TestCapture_FirstMatchingLocatorWins(t *testing.T) {
	page := newFakePage(20, 10)
	page.locate["css=.hero-v2"] = []models.Rect{{X: 0, Y: 0, Width: 20, Height: 10}}
	page.locate["css=.hero"] = []models.Rect{{X: 0, Y: 0, Width: 5, Height: 5}, {X: 5, Y: 5, Width: 5, Height: 5}}

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{
		models.CSS("#missing"),
		models.CSS(".hero-v2"),
		models.CSS(".hero"),
	}}

	_, err := testController().Capture(context.Background(), page, testKey, target, models.CaptureOptions{})
	require.NoError(t, err)
	assert.NotContains(t, page.calls, "locate:css=.hero")
	assert.Equal(t, models.Rect{Width: 20, Height: 10}, *page.clip)
}

func TestCapture_AmbiguousTarget(t *testing.T) {
	page := newFakePage(20, 10)
	page.locate["css=.card"] = []models.Rect{{Width: 5, Height: 5}, {X: 6, Width: 5, Height: 5}}

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".card")}}
	_, err := testController().Capture(context.Background(), page, testKey, target, models.CaptureOptions{})

	var ambiguous *AmbiguousTargetError
	require.True(t, errors.As(err, &ambiguous))
	assert.Equal(t, 2, ambiguous.Matches)
	assert.Equal(t, -1, indexOf(page.calls, "snapshot:"))
}

func TestCapture_TargetNotFound(t *testing.T) {
	page := newFakePage(20, 10)
	page.locateErr["xpath=//div["] = errors.New("invalid xpath")

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".gone"), models.XPath("//div[")}}
	_, err := testController().Capture(context.Background(), page, testKey, target, models.CaptureOptions{})

	var notFound *TargetNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Len(t, notFound.Locators, 2)
	assert.ErrorContains(t, err, "invalid xpath")
}

func TestCapture_LateTargetIsFound(t *testing.T) {
	page := newFakePage(20, 10)
	page.hiddenFor = 3
	page.locate["css=.toast"] = []models.Rect{{X: 0, Y: 0, Width: 20, Height: 10}}

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".toast")}}
	capture, err := testController().Capture(context.Background(), page, testKey, target, models.CaptureOptions{})
	require.NoError(t, err)
	require.NotNil(t, capture.Image)
	assert.Equal(t, 4, page.locates)
	assert.Equal(t, models.Rect{Width: 20, Height: 10}, *page.clip)
}

func TestCapture_TargetNotFoundAfterRepoll(t *testing.T) {
	page := newFakePage(20, 10)

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".gone")}}
	start := time.Now()
	_, err := testController().Capture(context.Background(), page, testKey, target, models.CaptureOptions{})

	var notFound *TargetNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Greater(t, page.locates, 1, "locators are polled more than once")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, -1, indexOf(page.calls, "snapshot:"))
}

func TestCapture_TargetResolvedOnceWithoutTimeout(t *testing.T) {
	c := testController()
	c.config.TargetTimeout = 0
	page := newFakePage(20, 10)
	page.hiddenFor = 1
	page.locate["css=.toast"] = []models.Rect{{Width: 20, Height: 10}}

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".toast")}}
	_, err := c.Capture(context.Background(), page, testKey, target, models.CaptureOptions{})

	var notFound *TargetNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, 1, page.locates)
}

func TestCapture_TargetRepollStopsOnCancel(t *testing.T) {
	page := newFakePage(20, 10)
	c := testController()
	c.config.TargetTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".gone")}}
	_, err := c.Capture(ctx, page, testKey, target, models.CaptureOptions{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCapture_NavigationErrors(t *testing.T) {
	page := newFakePage(10, 10)
	page.navigateErr = fmt.Errorf("navigate: %w", context.DeadlineExceeded)

	_, err := testController().Capture(context.Background(), page, testKey, models.Target{URL: "https://slow.test/"}, models.CaptureOptions{})
	var timeout *NavigationTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "https://slow.test/", timeout.URL)

	page = newFakePage(10, 10)
	page.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	_, err = testController().Capture(context.Background(), page, testKey, models.Target{URL: "https://down.test/"}, models.CaptureOptions{})
	var navErr *NavigationError
	require.True(t, errors.As(err, &navErr))
	assert.Equal(t, -1, indexOf(page.calls, "snapshot:"))
}

func TestCapture_SoftWaitsDegrade(t *testing.T) {
	page := newFakePage(10, 10)
	page.fontsReady = false
	page.imagesReady = nil

	capture, err := testController().Capture(context.Background(), page, testKey, models.Target{URL: "https://example.test/"},
		models.CaptureOptions{WaitForFonts: true, WaitForImages: true})
	require.NoError(t, err)
	require.NotNil(t, capture.Image)

	require.Len(t, capture.Waits, 2)
	assert.Equal(t, models.SignalFonts, capture.Waits[0].Signal)
	assert.Equal(t, models.WaitTimedOut, capture.Waits[0].Result)
	assert.Equal(t, models.SignalImages, capture.Waits[1].Signal)
	assert.Equal(t, models.WaitNotApplicable, capture.Waits[1].Result)

	require.Len(t, capture.Warnings, 1)
	assert.Contains(t, capture.Warnings[0], "fonts wait timed out")
}

func TestCapture_MasksPaintedInPixelSpace(t *testing.T) {
	// Element is 40x20 CSS pixels rendered at 2x
	page := newFakePage(80, 40)
	page.locate["css=.hero"] = []models.Rect{{X: 10, Y: 10, Width: 40, Height: 20}}
	page.locate["css=.clock"] = []models.Rect{{X: 20, Y: 10, Width: 10, Height: 10}}

	target := models.Target{URL: "https://example.test/", Locators: []models.Locator{models.CSS(".hero")}}
	opts := models.CaptureOptions{
		MaskSelectors: []models.Locator{models.CSS(".clock"), models.CSS(".absent")},
		MaskRects:     []models.Rect{{X: 500, Y: 500, Width: 10, Height: 10}},
	}

	capture, err := testController().Capture(context.Background(), page, testKey, target, opts)
	require.NoError(t, err)

	require.Len(t, capture.Masks, 1)
	assert.Equal(t, models.Rect{X: 20, Y: 0, Width: 20, Height: 20}, capture.Masks[0])
	assert.Equal(t, MaskColor, capture.Image.RGBAAt(25, 5))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, capture.Image.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, capture.Image.RGBAAt(45, 25))
}

func TestCapture_ViewportMasksUseScrollOrigin(t *testing.T) {
	page := newFakePage(100, 50)
	page.metrics.ScrollY = 200

	opts := models.CaptureOptions{MaskRects: []models.Rect{{X: 0, Y: 210, Width: 10, Height: 10}}}
	capture, err := testController().Capture(context.Background(), page, testKey, models.Target{URL: "https://example.test/"}, opts)
	require.NoError(t, err)

	assert.Nil(t, page.clip)
	require.Len(t, capture.Masks, 1)
	assert.Equal(t, models.Rect{X: 0, Y: 10, Width: 10, Height: 10}, capture.Masks[0])
}

func TestCapture_CancelledContext(t *testing.T) {
	page := newFakePage(10, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page.navigateErr = context.Canceled

	_, err := testController().Capture(ctx, page, testKey, models.Target{URL: "https://example.test/"}, models.CaptureOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
