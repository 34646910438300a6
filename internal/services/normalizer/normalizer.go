// Package normalizer injects the style sheet that makes rendered pages
// repeatable: no motion, no dynamic content, no caret.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
)

// StyleElementID is the id of the injected <style> element
const StyleElementID = "vista-normalizer"

// DefaultDynamicSelectors hide content that changes between otherwise
// identical page loads.
var DefaultDynamicSelectors = []string{
	"[data-testid*='timestamp']",
	"[data-testid*='counter']",
	"[data-dynamic]",
	"[data-live]",
	"time[datetime]",
	".timestamp",
	".live-indicator",
	".ad",
	".ads",
	"[id^='google_ads']",
	"iframe",
	"[class*='chat-widget']",
	"[id*='intercom']",
	"[id*='cookie-banner']",
	"[class*='cookie-consent']",
	"[id*='onetrust']",
}

const baseCSS = `*, *::before, *::after {
  animation-delay: -0.0001s !important;
  animation-duration: 0s !important;
  animation-iteration-count: 1 !important;
  animation-play-state: paused !important;
  animation-fill-mode: forwards !important;
  transition-duration: 0s !important;
  transition-delay: 0s !important;
  caret-color: transparent !important;
  scroll-behavior: auto !important;
}
html {
  scroll-behavior: auto !important;
  -webkit-font-smoothing: antialiased !important;
  -moz-osx-font-smoothing: grayscale !important;
  text-rendering: geometricPrecision !important;
}
::selection {
  background: transparent !important;
  color: inherit !important;
}
input, textarea, [contenteditable] {
  caret-color: transparent !important;
}
video {
  visibility: hidden !important;
}
`

// Evaluator is the page capability the normalizer needs
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// Normalizer builds and applies the override style sheet
type Normalizer struct {
	stylesheet string
	disabled   bool
	logger     arbor.ILogger
}

// New creates a normalizer from configuration
func New(config common.NormalizerConfig, logger arbor.ILogger) *Normalizer {
	selectors := append([]string{}, DefaultDynamicSelectors...)
	for _, s := range config.DynamicSelectors {
		if s = strings.TrimSpace(s); s != "" {
			selectors = append(selectors, s)
		}
	}

	return &Normalizer{
		stylesheet: buildStylesheet(selectors, config.ExtraCSS),
		disabled:   config.Disabled,
		logger:     logger,
	}
}

// Stylesheet returns the full style sheet; identical for identical config
func (n *Normalizer) Stylesheet() string {
	return n.stylesheet
}

func buildStylesheet(selectors []string, extra string) string {
	var b strings.Builder
	b.WriteString(baseCSS)
	// One rule per selector so a selector the browser rejects only drops its own rule
	for _, s := range selectors {
		fmt.Fprintf(&b, "%s { visibility: hidden !important; }\n", s)
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}

// applyScript creates or replaces the single normalizer style element
func (n *Normalizer) applyScript() string {
	css, _ := json.Marshal(n.stylesheet)
	id, _ := json.Marshal(StyleElementID)
	return fmt.Sprintf(`(function(id, css) {
  var el = document.getElementById(id);
  if (!el) {
    el = document.createElement("style");
    el.id = id;
    (document.head || document.documentElement).appendChild(el);
  }
  el.textContent = css;
  void document.documentElement.offsetHeight;
  return true;
})(%s, %s)`, id, css)
}

// Apply installs the style sheet on the page. Failures are logged and
// reported to the caller as false; they never abort a capture.
func (n *Normalizer) Apply(ctx context.Context, page Evaluator) bool {
	if n.disabled {
		return true
	}

	var ok bool
	if err := page.Evaluate(ctx, n.applyScript(), &ok); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to apply style normalizer, continuing without it")
		return false
	}
	if !ok {
		n.logger.Warn().Msg("Style normalizer did not confirm installation")
		return false
	}
	n.logger.Debug().Int("bytes", len(n.stylesheet)).Msg("Style normalizer applied")
	return true
}
