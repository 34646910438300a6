package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/vista/internal/models"
)

// Evaluator is the part of a page the shared scripts need
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// locateTemplate returns the document-space boxes of visible matches.
// Invalid selectors throw, which surfaces as an evaluation error.
const locateTemplate = `(function(kind, value) {
  var nodes = [];
  if (kind === "xpath") {
    var snap = document.evaluate(value, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    for (var i = 0; i < snap.snapshotLength; i++) nodes.push(snap.snapshotItem(i));
  } else {
    nodes = Array.prototype.slice.call(document.querySelectorAll(value));
  }
  var out = [];
  for (var j = 0; j < nodes.length; j++) {
    var el = nodes[j];
    if (!(el instanceof Element)) continue;
    var style = window.getComputedStyle(el);
    if (style.display === "none" || style.visibility === "hidden" || parseFloat(style.opacity) === 0) continue;
    var r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) continue;
    out.push({x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height});
  }
  return out;
})(%s, %s)`

// LocateScript builds the expression that resolves a locator
func LocateScript(loc models.Locator) string {
	kind, _ := json.Marshal(string(loc.KindOrDefault()))
	value, _ := json.Marshal(loc.Value)
	return fmt.Sprintf(locateTemplate, kind, value)
}

// Locate resolves a locator to the boxes of its visible matches
func Locate(ctx context.Context, page Evaluator, loc models.Locator) ([]models.Rect, error) {
	var rects []models.Rect
	if err := page.Evaluate(ctx, LocateScript(loc), &rects); err != nil {
		return nil, fmt.Errorf("locate %s: %w", loc, err)
	}
	return rects, nil
}

// Readiness predicates. Each returns true, false, or null when the signal
// does not apply to the page.
const (
	ReadyStateScript = `document.readyState === "complete"`

	ResourceCountScript = `(window.performance && performance.getEntriesByType) ? performance.getEntriesByType("resource").length : 0`

	FontsReadyScript = `(document.fonts && document.fonts.status) ? document.fonts.status === "loaded" : null`

	ImagesReadyScript = `(function() {
  var imgs = Array.prototype.slice.call(document.images || []);
  if (imgs.length === 0) return null;
  return imgs.every(function(img) { return img.complete; });
})()`
)

// FreezeScript pauses media, cancels pending timers and animation frames,
// and finishes running web animations.
const FreezeScript = `(function() {
  document.querySelectorAll("video, audio").forEach(function(m) {
    try { m.pause(); } catch (e) {}
  });
  var last = window.setTimeout(function() {}, 0);
  for (var i = 0; i <= last; i++) { window.clearTimeout(i); window.clearInterval(i); }
  if (window.requestAnimationFrame) {
    var raf = window.requestAnimationFrame(function() {});
    for (var k = 0; k <= raf; k++) window.cancelAnimationFrame(k);
  }
  if (document.getAnimations) {
    document.getAnimations().forEach(function(a) {
      try { a.finish(); } catch (e) { try { a.pause(); } catch (e2) {} }
    });
  }
  return true;
})()`

// PageMetrics is the scroll position and document size
type PageMetrics struct {
	ScrollX        float64 `json:"scrollX"`
	ScrollY        float64 `json:"scrollY"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
	DocumentWidth  float64 `json:"documentWidth"`
	DocumentHeight float64 `json:"documentHeight"`
}

// ViewportRect returns the visible region in document coordinates
func (m PageMetrics) ViewportRect() models.Rect {
	return models.Rect{X: m.ScrollX, Y: m.ScrollY, Width: m.ViewportWidth, Height: m.ViewportHeight}
}

// DocumentRect returns the whole document
func (m PageMetrics) DocumentRect() models.Rect {
	return models.Rect{Width: m.DocumentWidth, Height: m.DocumentHeight}
}

const metricsScript = `(function() {
  var de = document.documentElement, body = document.body;
  return {
    scrollX: window.scrollX,
    scrollY: window.scrollY,
    viewportWidth: window.innerWidth,
    viewportHeight: window.innerHeight,
    documentWidth: Math.max(de.scrollWidth, body ? body.scrollWidth : 0),
    documentHeight: Math.max(de.scrollHeight, body ? body.scrollHeight : 0)
  };
})()`

// Metrics reads the page scroll position and document size
func Metrics(ctx context.Context, page Evaluator) (PageMetrics, error) {
	var m PageMetrics
	if err := page.Evaluate(ctx, metricsScript, &m); err != nil {
		return PageMetrics{}, fmt.Errorf("read page metrics: %w", err)
	}
	return m, nil
}

// ScrollToScript scrolls so the rectangle's top-left is in view
func ScrollToScript(r models.Rect) string {
	return fmt.Sprintf(`(function() { window.scrollTo({left: %g, top: %g, behavior: "instant"}); return true; })()`,
		max(0, r.X), max(0, r.Y))
}
