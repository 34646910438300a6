package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
)

// ChromeDPEngine drives one Chrome instance through chromedp. Each page is a
// separate tab.
type ChromeDPEngine struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        arbor.ILogger
	config        *common.BrowserConfig
	consoleLimit  int
	mu            sync.Mutex
	closed        bool
}

var _ interfaces.Engine = (*ChromeDPEngine)(nil)

// NewChromeDPEngine launches Chrome and verifies it responds
func NewChromeDPEngine(ctx context.Context, logger arbor.ILogger, config *common.BrowserConfig, consoleLimit int) (*ChromeDPEngine, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
		chromedp.Flag("force-color-profile", "srgb"),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(config.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	e := &ChromeDPEngine{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
		config:        config,
		consoleLimit:  consoleLimit,
	}

	startupTimeout := common.ParseDuration(config.StartupTimeout, 30*time.Second)

	// The first Run allocates the browser and must use the browser context itself
	if err := runWithin(ctx, startupTimeout, func() error { return chromedp.Run(browserCtx) }); err != nil {
		e.cancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	startCtx, startCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer startCancel()
	stop := context.AfterFunc(ctx, startCancel)
	defer stop()

	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		e.cancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	var title string
	if err := chromedp.Run(startCtx, chromedp.Title(&title)); err != nil {
		e.cancel()
		return nil, fmt.Errorf("browser failed responsiveness test: %w", err)
	}

	logger.Info().
		Str("engine", e.Name()).
		Bool("headless", config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return e, nil
}

// Name returns the engine identifier
func (e *ChromeDPEngine) Name() string {
	return EngineChromeDP
}

// NewPage opens a new tab with its own console buffer
func (e *ChromeDPEngine) NewPage(ctx context.Context) (interfaces.Page, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("browser engine is closed")
	}

	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	p := &chromedpPage{
		ctx:     tabCtx,
		cancel:  tabCancel,
		console: NewConsoleBuffer(e.consoleLimit),
		logger:  e.logger,
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch ev := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			p.console.Add(string(ev.Type), consoleArgsText(ev.Args))
		case *runtime.EventExceptionThrown:
			p.console.Add("exception", exceptionText(ev.ExceptionDetails))
		}
	})

	// First Run on the tab context creates the target
	if err := runWithin(ctx, 30*time.Second, func() error { return chromedp.Run(tabCtx) }); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return p, nil
}

// Close shuts down the browser
func (e *ChromeDPEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := chromedp.Cancel(e.browserCtx); err != nil {
		e.logger.Debug().Err(err).Msg("Browser cancel returned error")
	}
	e.cancel()
	e.logger.Debug().Str("engine", e.Name()).Msg("Browser closed")
	return nil
}

func (e *ChromeDPEngine) cancel() {
	e.browserCancel()
	e.allocCancel()
}

type chromedpPage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	console *ConsoleBuffer
	logger  arbor.ILogger
}

// run executes actions on the tab, bounded by both the caller's context and timeout
func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, timeout)
		defer timeoutCancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromedpPage) SetViewport(ctx context.Context, vp models.Viewport) error {
	opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(vp.Scale())}
	if vp.Mobile {
		opts = append(opts, chromedp.EmulateMobile)
	}
	return p.run(ctx, 0, chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height), opts...))
}

func (p *chromedpPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromedpPage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, 0, chromedp.Evaluate(expression, out, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}))
}

func (p *chromedpPage) Locate(ctx context.Context, loc models.Locator) ([]models.Rect, error) {
	return Locate(ctx, p, loc)
}

func (p *chromedpPage) Snapshot(ctx context.Context, clip *models.Rect, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	switch {
	case clip != nil:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithClip(&page.Viewport{X: clip.X, Y: clip.Y, Width: clip.Width, Height: clip.Height, Scale: 1}).
				WithCaptureBeyondViewport(true).
				WithFromSurface(true).
				Do(ctx)
			return err
		})
	case fullPage:
		action = chromedp.FullScreenshot(&buf, 100)
	default:
		action = chromedp.CaptureScreenshot(&buf)
	}

	if err := p.run(ctx, 0, action); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromedpPage) DrainConsole() []models.ConsoleEntry {
	return p.console.Drain()
}

func (p *chromedpPage) Close() error {
	if err := chromedp.Cancel(p.ctx); err != nil {
		p.logger.Debug().Err(err).Msg("Tab cancel returned error")
	}
	p.cancel()
	return nil
}

func consoleArgsText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, remoteText(arg.Value, arg.Description))
	}
	return strings.Join(parts, " ")
}

func exceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}

// remoteText renders a console argument; strings lose their JSON quoting
func remoteText(value []byte, description string) string {
	if len(value) == 0 {
		return description
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	return string(value)
}

// runWithin runs fn in the background and gives up after timeout or when ctx ends
func runWithin(ctx context.Context, timeout time.Duration, fn func() error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
