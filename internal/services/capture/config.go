package capture

import (
	"time"

	"github.com/ternarybob/vista/internal/common"
)

// Config holds the capture timings
type Config struct {
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	NetworkIdleWindow  time.Duration
	FontsTimeout       time.Duration
	ImagesTimeout      time.Duration
	SettleInterval     time.Duration
	PollInterval       time.Duration
	TargetTimeout      time.Duration // Zero resolves locators once
}

// NewConfig reads capture timings from application configuration
func NewConfig(config *common.Config) Config {
	return Config{
		NavigationTimeout:  common.ParseDuration(config.Browser.NavigationTimeout, 30*time.Second),
		NetworkIdleTimeout: common.ParseDuration(config.Capture.NetworkIdleTimeout, 10*time.Second),
		NetworkIdleWindow:  common.ParseDuration(config.Capture.NetworkIdleWindow, 500*time.Millisecond),
		FontsTimeout:       common.ParseDuration(config.Capture.FontsTimeout, 5*time.Second),
		ImagesTimeout:      common.ParseDuration(config.Capture.ImagesTimeout, 5*time.Second),
		SettleInterval:     common.ParseDuration(config.Capture.SettleInterval, 300*time.Millisecond),
		PollInterval:       common.ParseDuration(config.Capture.PollInterval, 100*time.Millisecond),
		TargetTimeout:      common.ParseDuration(config.Capture.TargetTimeout, 2*time.Second),
	}
}
