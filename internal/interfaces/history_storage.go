package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/vista/internal/models"
)

// ErrRunNotFound is returned when a run id is not in history.
var ErrRunNotFound = errors.New("run not found")

// HistoryStorage persists finished runs for trend inspection.
type HistoryStorage interface {
	SaveRun(ctx context.Context, record *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	KeyHistory(ctx context.Context, key models.Key, limit int) ([]models.KeyResult, error)
	Close() error
}
