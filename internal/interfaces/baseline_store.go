package interfaces

import (
	"context"
	"errors"
	"image"

	"github.com/ternarybob/vista/internal/models"
)

var (
	// ErrBaselineNotFound means no baseline exists yet for a key: a first run,
	// not a regression.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrBaselineExists is returned by Create when a baseline is already stored.
	ErrBaselineExists = errors.New("baseline already exists")
)

// BaselineReader is the read-only view comparison runs work against.
type BaselineReader interface {
	Get(ctx context.Context, key models.Key) (image.Image, error)
	Exists(ctx context.Context, key models.Key) (bool, error)
	Path(key models.Key) string
	List(ctx context.Context) ([]models.Key, error)
}

// BaselineStore adds the two write paths. Put overwrites and is reserved for
// the explicit update action; Create only ever fills a missing slot.
type BaselineStore interface {
	BaselineReader
	Put(ctx context.Context, key models.Key, img image.Image, runID string) error
	Create(ctx context.Context, key models.Key, img image.Image, runID string) error
}
