package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"github.com/ternarybob/vista/internal/services/browser"
	"github.com/ternarybob/vista/internal/services/capture"
	"github.com/ternarybob/vista/internal/services/differ"
	"github.com/ternarybob/vista/internal/services/loadtest"
	"github.com/ternarybob/vista/internal/services/normalizer"
	"github.com/ternarybob/vista/internal/services/report"
	"github.com/ternarybob/vista/internal/services/runner"
	"github.com/ternarybob/vista/internal/services/sinks"
	"github.com/ternarybob/vista/internal/services/suite"
	"github.com/ternarybob/vista/internal/storage/badger"
	"github.com/ternarybob/vista/internal/storage/baselines"
)

// EngineFactory launches a browser engine
type EngineFactory func(ctx context.Context, logger arbor.ILogger, config *common.BrowserConfig, consoleLimit int) (interfaces.Engine, error)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	Baselines *baselines.Store
	History   interfaces.HistoryStorage // nil when history.path is empty

	// Pipeline
	Normalizer *normalizer.Normalizer
	Controller *capture.Controller
	Policy     differ.Policy
	Reports    *report.Builder
	Dispatcher *sinks.Dispatcher
	LoadTests  *loadtest.Runner

	newEngine EngineFactory
	engineMu  sync.Mutex
	engine    interfaces.Engine
}

// New initializes the application. The browser is not launched until the
// first run so report and history commands stay browser-free.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		newEngine: browser.NewEngine,
	}

	if err := app.initStorage(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("engine", cfg.Browser.Engine).
		Str("baselines_dir", cfg.Baselines.Dir).
		Str("results_dir", cfg.Results.Dir).
		Bool("history", app.History != nil).
		Int("sinks", app.Dispatcher.Len()).
		Msg("Application initialization complete")

	return app, nil
}

// WithEngineFactory replaces the browser launcher
func (a *App) WithEngineFactory(f EngineFactory) *App {
	a.newEngine = f
	return a
}

func (a *App) initStorage() error {
	store, err := baselines.NewStore(a.Logger, &a.Config.Baselines)
	if err != nil {
		return err
	}
	a.Baselines = store

	if a.Config.History.Path == "" {
		a.Logger.Debug().Msg("Run history disabled (no history.path)")
		return nil
	}
	history, err := badger.NewHistoryStorage(a.Logger, a.Config.History)
	if err != nil {
		return err
	}
	a.History = history
	return nil
}

func (a *App) initServices() error {
	a.Normalizer = normalizer.New(a.Config.Normalizer, a.Logger)
	a.Controller = capture.NewController(capture.NewConfig(a.Config), a.Normalizer, a.Logger)
	a.Policy = differ.NewPolicy(a.Config.Threshold)
	a.Reports = report.NewBuilder(a.Config.Report, a.Config.Results.Dir, a.Logger)

	enabled, err := sinks.NewSinks(a.Config.Sinks, a.Logger)
	if err != nil {
		return err
	}
	a.Dispatcher = sinks.NewDispatcher(a.Config.Sinks, a.Logger, enabled...)

	a.LoadTests = loadtest.NewRunner(a.Config.LoadTest, a.Logger)
	return nil
}

// Engine returns the browser engine, launching it on first use
func (a *App) Engine(ctx context.Context) (interfaces.Engine, error) {
	a.engineMu.Lock()
	defer a.engineMu.Unlock()

	if a.engine != nil {
		return a.engine, nil
	}
	engine, err := a.newEngine(ctx, a.Logger, &a.Config.Browser, a.Config.Capture.ConsoleBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	a.engine = engine
	return engine, nil
}

// Jobs loads suites and expands them into capture jobs. With no paths the
// configured run.suites are used. Suite paths in keys are relative to run.suites_root.
func (a *App) Jobs(paths []string) ([]suite.Job, error) {
	if len(paths) == 0 {
		paths = a.Config.Run.Suites
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no suite files given and run.suites is empty")
	}
	suites, err := suite.LoadAll(a.Config.Run.SuitesRoot, paths, a.Logger)
	if err != nil {
		return nil, err
	}
	return suite.Expand(suites, a.Config.Run.BaseURL)
}

// Runner builds a runner over the launched engine
func (a *App) Runner(ctx context.Context) (*runner.Runner, error) {
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}

	r := runner.NewRunner(engine, a.Controller, a.Baselines, a.Policy, a.Reports, a.Logger).
		WithSinks(a.Dispatcher).
		WithKeepPassing(a.Config.Results.KeepPassing).
		WithLoadTests(a.readLoadTests)
	if a.History != nil {
		r = r.WithHistory(a.History)
	}
	return r, nil
}

// Run loads the suites, runs every job in mode and returns the result.
// run.timeout bounds the whole run when set.
func (a *App) Run(ctx context.Context, mode models.RunMode, paths []string) (*runner.Result, error) {
	jobs, err := a.Jobs(paths)
	if err != nil {
		return nil, err
	}

	if timeout := common.ParseDuration(a.Config.Run.Timeout, 0); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r, err := a.Runner(ctx)
	if err != nil {
		return nil, err
	}

	rc := common.NewRunContext(a.Config, mode, time.Now())
	return r.Run(ctx, rc, jobs)
}

// RebuildReport rewrites the report documents of a finished run from its
// results.json
func (a *App) RebuildReport(runID string) (*models.Report, error) {
	rep, err := report.Load(a.Reports.RunDir(runID))
	if err != nil {
		return nil, err
	}
	if err := a.Reports.Write(rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (a *App) readLoadTests(ctx context.Context) []models.LoadTestSummary {
	summaries, err := loadtest.ReadSummaries(a.Config.LoadTest.SummaryDir)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to read load-test summaries")
	}
	return summaries
}

// Close releases the browser and the history database, in reverse order of
// acquisition
func (a *App) Close() error {
	var errs []error

	a.engineMu.Lock()
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser")
			errs = append(errs, err)
		} else {
			a.Logger.Info().Msg("Browser closed")
		}
		a.engine = nil
	}
	a.engineMu.Unlock()

	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close history storage")
			errs = append(errs, err)
		}
		a.History = nil
	}

	return errors.Join(errs...)
}
