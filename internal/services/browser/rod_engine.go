package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
)

// RodEngine drives Chrome through go-rod
type RodEngine struct {
	launcher     *launcher.Launcher
	browser      *rod.Browser
	logger       arbor.ILogger
	config       *common.BrowserConfig
	consoleLimit int
	mu           sync.Mutex
	closed       bool
}

var _ interfaces.Engine = (*RodEngine)(nil)

// NewRodEngine launches a browser with the rod launcher and connects to it
func NewRodEngine(ctx context.Context, logger arbor.ILogger, config *common.BrowserConfig, consoleLimit int) (*RodEngine, error) {
	startTime := time.Now()
	startupTimeout := common.ParseDuration(config.StartupTimeout, 30*time.Second)

	l := launcher.New().
		Context(ctx).
		Headless(config.Headless).
		NoSandbox(config.NoSandbox).
		Set("hide-scrollbars").
		Set("font-render-hinting", "none").
		Set("force-color-profile", "srgb")
	if config.DisableGPU {
		l = l.Set("disable-gpu")
	}
	if config.ExecPath != "" {
		l = l.Bin(config.ExecPath)
	}

	var controlURL string
	err := runWithin(ctx, startupTimeout, func() error {
		u, err := l.Launch()
		controlURL = u
		return err
	})
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logger.Info().
		Str("engine", EngineRod).
		Bool("headless", config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser started")

	return &RodEngine{
		launcher:     l,
		browser:      browser,
		logger:       logger,
		config:       config,
		consoleLimit: consoleLimit,
	}, nil
}

// Name returns the engine identifier
func (e *RodEngine) Name() string {
	return EngineRod
}

// NewPage opens a blank page and starts collecting console events
func (e *RodEngine) NewPage(ctx context.Context) (interfaces.Page, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("browser engine is closed")
	}

	pg, err := e.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if e.config.UserAgent != "" {
		if err := pg.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: e.config.UserAgent}); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to set user agent")
		}
	}

	listenCtx, listenCancel := context.WithCancel(context.Background())
	p := &rodPage{
		page:         pg.Context(context.Background()),
		console:      NewConsoleBuffer(e.consoleLimit),
		listenCancel: listenCancel,
	}

	wait := pg.Context(listenCtx).EachEvent(
		func(ev *proto.RuntimeConsoleAPICalled) {
			p.console.Add(string(ev.Type), rodArgsText(ev.Args))
		},
		func(ev *proto.RuntimeExceptionThrown) {
			p.console.Add("exception", rodExceptionText(ev.ExceptionDetails))
		},
	)
	go wait()

	return p, nil
}

// Close disconnects and kills the browser process
func (e *RodEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.browser.Close()
	e.launcher.Kill()
	e.logger.Debug().Str("engine", e.Name()).Msg("Browser closed")
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type rodPage struct {
	page         *rod.Page
	console      *ConsoleBuffer
	listenCancel context.CancelFunc
}

func (p *rodPage) with(ctx context.Context, timeout time.Duration) *rod.Page {
	pg := p.page.Context(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	return pg
}

func (p *rodPage) SetViewport(ctx context.Context, vp models.Viewport) error {
	return p.with(ctx, 0).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: vp.Scale(),
		Mobile:            vp.Mobile,
	})
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg := p.with(ctx, timeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, expression string, out any) error {
	res, err := p.with(ctx, 0).Evaluate(&rod.EvalOptions{
		JS:           "() => (" + strings.TrimRight(strings.TrimSpace(expression), ";") + ")",
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if out == nil || res == nil || res.Value.Nil() {
		return nil
	}
	return res.Value.Unmarshal(out)
}

func (p *rodPage) Locate(ctx context.Context, loc models.Locator) ([]models.Rect, error) {
	return Locate(ctx, p, loc)
}

func (p *rodPage) Snapshot(ctx context.Context, clip *models.Rect, fullPage bool) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatPng,
		FromSurface: true,
	}
	if clip != nil {
		req.Clip = &proto.PageViewport{X: clip.X, Y: clip.Y, Width: clip.Width, Height: clip.Height, Scale: 1}
		req.CaptureBeyondViewport = true
		fullPage = false
	}

	data, err := p.with(ctx, 0).Screenshot(fullPage, req)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return data, nil
}

func (p *rodPage) DrainConsole() []models.ConsoleEntry {
	return p.console.Drain()
}

func (p *rodPage) Close() error {
	p.listenCancel()
	return p.page.Close()
}

func rodArgsText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if arg.Value.Nil() {
			parts = append(parts, arg.Description)
			continue
		}
		if s, ok := arg.Value.Val().(string); ok {
			parts = append(parts, s)
			continue
		}
		parts = append(parts, arg.Value.JSON("", ""))
	}
	return strings.Join(parts, " ")
}

func rodExceptionText(details *proto.RuntimeExceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
