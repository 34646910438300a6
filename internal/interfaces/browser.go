package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/vista/internal/models"
)

// Engine is a launched browser able to open isolated pages.
type Engine interface {
	Name() string
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is the narrow surface the capture pipeline needs from a browser tab:
// navigate, evaluate script, locate elements and take a raster snapshot.
type Page interface {
	SetViewport(ctx context.Context, vp models.Viewport) error

	// Navigate loads url and waits for the load event. Exceeding timeout is a
	// hard failure.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Evaluate runs a JavaScript expression, awaiting returned promises, and
	// unmarshals the JSON result into out (nil discards it).
	Evaluate(ctx context.Context, expression string, out any) error

	// Locate returns the document-relative bounding boxes of every visible
	// element matched by the locator.
	Locate(ctx context.Context, locator models.Locator) ([]models.Rect, error)

	// Snapshot returns PNG bytes of the clip region (document coordinates), or
	// of the full page or viewport when clip is nil.
	Snapshot(ctx context.Context, clip *models.Rect, fullPage bool) ([]byte, error)

	// DrainConsole returns and clears console messages buffered since the
	// last drain.
	DrainConsole() []models.ConsoleEntry

	Close() error
}
