package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development", "staging", "production"
	Run         RunConfig        `toml:"run"`
	Browser     BrowserConfig    `toml:"browser"`
	Capture     CaptureConfig    `toml:"capture"`
	Normalizer  NormalizerConfig `toml:"normalizer"`
	Threshold   ThresholdConfig  `toml:"threshold"`
	Baselines   BaselinesConfig  `toml:"baselines"`
	Results     ResultsConfig    `toml:"results"`
	Report      ReportConfig     `toml:"report"`
	History     HistoryConfig    `toml:"history"`
	Sinks       SinksConfig      `toml:"sinks"`
	Schedule    ScheduleConfig   `toml:"schedule"`
	LoadTest    LoadTestConfig   `toml:"loadtest"`
	Logging     LoggingConfig    `toml:"logging"`
}

// RunConfig controls one run of the capture pipeline
type RunConfig struct {
	BaseURL    string   `toml:"base_url" validate:"omitempty,url"` // Prefix for relative test paths
	Suites     []string `toml:"suites"`                            // Suite files run when none are given on the command line
	SuitesRoot string   `toml:"suites_root"`                       // Suite paths in keys are relative to this (empty = working directory)
	Retries    int      `toml:"retries" validate:"gte=0,lte=10"`   // Retries for environment failures per key
	Timeout    string   `toml:"timeout"`                           // Whole-run timeout, e.g. "30m" (empty = none)
}

// BrowserConfig selects and configures the browser engine
type BrowserConfig struct {
	Engine            string `toml:"engine" validate:"oneof=chromedp rod"` // "chromedp" (default) or "rod"
	Headless          bool   `toml:"headless"`
	NoSandbox         bool   `toml:"no_sandbox"`
	DisableGPU        bool   `toml:"disable_gpu"`
	UserAgent         string `toml:"user_agent"`
	ExecPath          string `toml:"exec_path"`          // Browser binary (empty = engine default lookup)
	NavigationTimeout string `toml:"navigation_timeout"` // Hard navigation timeout, e.g. "30s"
	StartupTimeout    string `toml:"startup_timeout"`    // Startup check timeout, e.g. "30s"
}

// CaptureConfig holds the soft readiness wait timeouts
type CaptureConfig struct {
	NetworkIdleTimeout string `toml:"network_idle_timeout"` // e.g. "10s"
	NetworkIdleWindow  string `toml:"network_idle_window"`  // Quiet period that counts as idle, e.g. "500ms"
	FontsTimeout       string `toml:"fonts_timeout"`
	ImagesTimeout      string `toml:"images_timeout"`
	SettleInterval     string `toml:"settle_interval"` // Pause after scroll-into-view
	PollInterval       string `toml:"poll_interval"`   // Readiness predicate poll rate
	TargetTimeout      string `toml:"target_timeout"`  // How long locators are re-polled before the target counts as missing
	ConsoleBuffer      int    `toml:"console_buffer" validate:"gte=0"`
}

// NormalizerConfig controls the injected stabilising style sheet
type NormalizerConfig struct {
	DynamicSelectors []string `toml:"dynamic_selectors"` // Appended to the built-in list
	ExtraCSS         string   `toml:"extra_css"`
	Disabled         bool     `toml:"disabled"`
}

// ThresholdConfig is the default comparison policy
type ThresholdConfig struct {
	Pixel         float64 `toml:"pixel" validate:"gte=0,lte=1"`          // Per-pixel similarity threshold (0 strict, 1 lenient)
	MaxDiffPixels int     `toml:"max_diff_pixels" validate:"gte=0"`      // Absolute gate, inclusive
	MaxDiffRatio  float64 `toml:"max_diff_ratio" validate:"gte=0,lte=1"` // Relative gate, inclusive
}

type BaselinesConfig struct {
	Dir string `toml:"dir" validate:"required"`
}

type ResultsConfig struct {
	Dir         string `toml:"dir" validate:"required"`
	KeepPassing bool   `toml:"keep_passing"` // Also write actual images for passing keys
}

// ReportConfig controls which report documents are written
type ReportConfig struct {
	Title          string   `toml:"title"`
	Formats        []string `toml:"formats" validate:"dive,oneof=json markdown html pdf junit"`
	CompositeWidth int      `toml:"composite_width" validate:"gte=0"` // Max width of side-by-side composites
}

// HistoryConfig configures the run-history database
type HistoryConfig struct {
	Path           string `toml:"path"`                      // Database directory (empty disables history)
	ResetOnStartup bool   `toml:"reset_on_startup"`          // Delete recorded runs on startup
	SyncWrites     bool   `toml:"sync_writes"`               // Fsync each run record
	MaxRuns        int    `toml:"max_runs" validate:"gte=0"` // Oldest runs beyond this are pruned (0 = keep all)
}

// SinksConfig configures the external result sinks
type SinksConfig struct {
	RateLimit string         `toml:"rate_limit"` // Minimum gap between sink requests, e.g. "500ms"
	Timeout   string         `toml:"timeout"`    // Per-request timeout
	Retry     RetryConfig    `toml:"retry"`
	TestRail  TestRailConfig `toml:"testrail"`
	Sentry    SentryConfig   `toml:"sentry"`
	GitHub    GitHubConfig   `toml:"github"`
}

type RetryConfig struct {
	MaxAttempts    int    `toml:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
}

// TestRailConfig posts per-key results to a test-case-management run
type TestRailConfig struct {
	Enabled bool              `toml:"enabled"`
	URL     string            `toml:"url" validate:"required_if=Enabled true,omitempty,url"`
	User    string            `toml:"user"`
	APIKey  string            `toml:"api_key"`
	RunID   int               `toml:"run_id"`
	Cases   map[string]int    `toml:"cases"` // Key string -> case id
	Extra   map[string]string `toml:"extra"`
}

// SentryConfig sends one event per failed key to an error-tracking project
type SentryConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn" validate:"required_if=Enabled true"`
}

// GitHubConfig sets a commit status for the run's commit
type GitHubConfig struct {
	Enabled   bool   `toml:"enabled"`
	Token     string `toml:"token"`
	Owner     string `toml:"owner" validate:"required_if=Enabled true"`
	Repo      string `toml:"repo" validate:"required_if=Enabled true"`
	Context   string `toml:"context"`
	TargetURL string `toml:"target_url"`
	BaseURL   string `toml:"base_url"` // GitHub Enterprise API URL
}

// ScheduleConfig drives repeated runs
type ScheduleConfig struct {
	Cron string `toml:"cron"` // Standard 5-field cron expression
}

// LoadTestConfig configures the external load generator
type LoadTestConfig struct {
	Binary     string   `toml:"binary"`      // e.g. "k6"
	Args       []string `toml:"args"`        // Extra arguments before the script
	Scripts    []string `toml:"scripts"`     // Scripts run by "vista loadtest"
	SummaryDir string   `toml:"summary_dir"` // Existing summaries folded into reports
}

type LoggingConfig struct {
	Level      string   `toml:"level"` // "debug", "info", "warn", "error"
	Output     []string `toml:"output" validate:"dive,oneof=stdout console file"`
	TimeFormat string   `toml:"time_format"`                  // Default "15:04:05.000"
	Dir        string   `toml:"dir"`                          // Log and crash file directory
	JSON       bool     `toml:"json"`                         // JSON lines instead of logfmt
	MaxSizeMB  int      `toml:"max_size_mb" validate:"gte=0"` // vista.log rotation size
	MaxBackups int      `toml:"max_backups" validate:"gte=0"` // Rotated files kept
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Run: RunConfig{
			Retries: 1,
		},
		Browser: BrowserConfig{
			Engine:            "chromedp",
			Headless:          true,
			NoSandbox:         false,
			DisableGPU:        true,
			UserAgent:         "",
			NavigationTimeout: "30s",
			StartupTimeout:    "30s",
		},
		Capture: CaptureConfig{
			NetworkIdleTimeout: "10s",
			NetworkIdleWindow:  "500ms",
			FontsTimeout:       "5s",
			ImagesTimeout:      "5s",
			SettleInterval:     "300ms",
			PollInterval:       "100ms",
			TargetTimeout:      "2s",
			ConsoleBuffer:      200,
		},
		Threshold: ThresholdConfig{
			Pixel:         0.1,
			MaxDiffPixels: 50,
			MaxDiffRatio:  0.001,
		},
		Baselines: BaselinesConfig{
			Dir: "./baselines",
		},
		Results: ResultsConfig{
			Dir: "./results",
		},
		Report: ReportConfig{
			Title:          "Visual Regression Report",
			Formats:        []string{"json", "markdown", "html", "junit"},
			CompositeWidth: 1800,
		},
		History: HistoryConfig{
			Path:    "./data/history",
			MaxRuns: 500,
		},
		Sinks: SinksConfig{
			RateLimit: "500ms",
			Timeout:   "15s",
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: "1s",
				MaxBackoff:     "15s",
			},
			GitHub: GitHubConfig{
				Context: "vista/visual-regression",
			},
		},
		LoadTest: LoadTestConfig{
			Binary: "k6",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
			Dir:        "./logs",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> .env -> env.
// Later files override earlier ones. CLI flags are applied afterwards by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VISTA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Run configuration
	if baseURL := os.Getenv("VISTA_BASE_URL"); baseURL != "" {
		config.Run.BaseURL = baseURL
	}
	if retries := os.Getenv("VISTA_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Run.Retries = r
		}
	}
	if timeout := os.Getenv("VISTA_RUN_TIMEOUT"); timeout != "" {
		config.Run.Timeout = timeout
	}

	// Browser configuration
	if engine := os.Getenv("VISTA_BROWSER_ENGINE"); engine != "" {
		config.Browser.Engine = engine
	}
	if headless := os.Getenv("VISTA_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if noSandbox := os.Getenv("VISTA_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = ns
		}
	}
	if execPath := os.Getenv("VISTA_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if navTimeout := os.Getenv("VISTA_NAVIGATION_TIMEOUT"); navTimeout != "" {
		config.Browser.NavigationTimeout = navTimeout
	}

	// Threshold configuration
	if pixel := os.Getenv("VISTA_THRESHOLD_PIXEL"); pixel != "" {
		if p, err := strconv.ParseFloat(pixel, 64); err == nil {
			config.Threshold.Pixel = p
		}
	}
	if maxPixels := os.Getenv("VISTA_THRESHOLD_MAX_DIFF_PIXELS"); maxPixels != "" {
		if mp, err := strconv.Atoi(maxPixels); err == nil {
			config.Threshold.MaxDiffPixels = mp
		}
	}
	if maxRatio := os.Getenv("VISTA_THRESHOLD_MAX_DIFF_RATIO"); maxRatio != "" {
		if mr, err := strconv.ParseFloat(maxRatio, 64); err == nil {
			config.Threshold.MaxDiffRatio = mr
		}
	}

	// Paths
	if dir := os.Getenv("VISTA_BASELINES_DIR"); dir != "" {
		config.Baselines.Dir = dir
	}
	if dir := os.Getenv("VISTA_RESULTS_DIR"); dir != "" {
		config.Results.Dir = dir
	}
	if root := os.Getenv("VISTA_SUITES_ROOT"); root != "" {
		config.Run.SuitesRoot = root
	}
	if path := os.Getenv("VISTA_HISTORY_PATH"); path != "" {
		config.History.Path = path
	}

	// Sink credentials
	if key := os.Getenv("VISTA_TESTRAIL_API_KEY"); key != "" {
		config.Sinks.TestRail.APIKey = key
	}
	if user := os.Getenv("VISTA_TESTRAIL_USER"); user != "" {
		config.Sinks.TestRail.User = user
	}
	if dsn := os.Getenv("VISTA_SENTRY_DSN"); dsn != "" {
		config.Sinks.Sentry.DSN = dsn
	} else if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		config.Sinks.Sentry.DSN = dsn
	}
	if token := os.Getenv("VISTA_GITHUB_TOKEN"); token != "" {
		config.Sinks.GitHub.Token = token
	} else if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		config.Sinks.GitHub.Token = token
	}

	// Schedule
	if cron := os.Getenv("VISTA_SCHEDULE_CRON"); cron != "" {
		config.Schedule.Cron = cron
	}

	// Logging configuration
	if level := os.Getenv("VISTA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if jsonLogs := os.Getenv("VISTA_LOG_JSON"); jsonLogs != "" {
		if j, err := strconv.ParseBool(jsonLogs); err == nil {
			config.Logging.JSON = j
		}
	}
	if output := os.Getenv("VISTA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config (highest priority)
func ApplyFlagOverrides(config *Config, baseURL, engine string, headless *bool) {
	if baseURL != "" {
		config.Run.BaseURL = baseURL
	}
	if engine != "" {
		config.Browser.Engine = engine
	}
	if headless != nil {
		config.Browser.Headless = *headless
	}
}

// Validate checks struct constraints and duration fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"run.timeout":                  c.Run.Timeout,
		"browser.navigation_timeout":   c.Browser.NavigationTimeout,
		"browser.startup_timeout":      c.Browser.StartupTimeout,
		"capture.network_idle_timeout": c.Capture.NetworkIdleTimeout,
		"capture.network_idle_window":  c.Capture.NetworkIdleWindow,
		"capture.fonts_timeout":        c.Capture.FontsTimeout,
		"capture.images_timeout":       c.Capture.ImagesTimeout,
		"capture.settle_interval":      c.Capture.SettleInterval,
		"capture.poll_interval":        c.Capture.PollInterval,
		"capture.target_timeout":       c.Capture.TargetTimeout,
		"sinks.rate_limit":             c.Sinks.RateLimit,
		"sinks.timeout":                c.Sinks.Timeout,
		"sinks.retry.initial_backoff":  c.Sinks.Retry.InitialBackoff,
		"sinks.retry.max_backoff":      c.Sinks.Retry.MaxBackoff,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}
	return nil
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// HasFormat reports whether a report format is enabled
func (c ReportConfig) HasFormat(format string) bool {
	for _, f := range c.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
