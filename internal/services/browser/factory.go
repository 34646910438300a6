package browser

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
)

// Engine names accepted by browser.engine
const (
	EngineChromeDP = "chromedp"
	EngineRod      = "rod"
)

// NewEngine launches the configured browser engine. A launch failure is
// environment-wide and aborts the run.
func NewEngine(ctx context.Context, logger arbor.ILogger, config *common.BrowserConfig, consoleLimit int) (interfaces.Engine, error) {
	switch config.Engine {
	case "", EngineChromeDP:
		return NewChromeDPEngine(ctx, logger, config, consoleLimit)
	case EngineRod:
		return NewRodEngine(ctx, logger, config, consoleLimit)
	default:
		return nil, fmt.Errorf("unsupported browser engine: %s (supported: %s, %s)", config.Engine, EngineChromeDP, EngineRod)
	}
}
