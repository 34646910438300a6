package interfaces

import (
	"context"

	"github.com/ternarybob/vista/internal/models"
)

// ResultSink is an external system that receives a finished report. Sinks
// are fire-and-forget: their failure never fails a run.
type ResultSink interface {
	Name() string
	Publish(ctx context.Context, report *models.Report) error
}
