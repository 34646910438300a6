package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// HistoryStorage persists finished runs in Badger
type HistoryStorage struct {
	store  *badgerhold.Store
	config common.HistoryConfig
	logger arbor.ILogger
}

var _ interfaces.HistoryStorage = (*HistoryStorage)(nil)

// NewHistoryStorage opens the history database at config.Path
func NewHistoryStorage(logger arbor.ILogger, config common.HistoryConfig) (*HistoryStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.SyncWrites = config.SyncWrites
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", config.Path, err)
	}

	if config.ResetOnStartup {
		if err := store.Badger().DropAll(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reset history: %w", err)
		}
		logger.Info().Str("path", config.Path).Msg("Run history reset (reset_on_startup=true)")
	}

	logger.Debug().
		Str("path", config.Path).
		Bool("sync_writes", config.SyncWrites).
		Int("max_runs", config.MaxRuns).
		Msg("Run history opened")

	return &HistoryStorage{store: store, config: config, logger: logger}, nil
}

// SaveRun upserts the record, then prunes the oldest runs beyond max_runs.
func (s *HistoryStorage) SaveRun(ctx context.Context, record *models.RunRecord) error {
	if record.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	s.logger.Debug().Str("run_id", record.ID).Int("outcomes", len(record.Outcomes)).Msg("Run saved to history")

	return s.prune()
}

func (s *HistoryStorage) prune() error {
	if s.config.MaxRuns <= 0 {
		return nil
	}
	count, err := s.store.Count(&models.RunRecord{}, badgerhold.Where("ID").Ne(""))
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}
	excess := int(count) - s.config.MaxRuns
	if excess <= 0 {
		return nil
	}

	var oldest []models.RunRecord
	if err := s.store.Find(&oldest, badgerhold.Where("ID").Ne("").SortBy("StartedAt").Limit(excess)); err != nil {
		return fmt.Errorf("failed to find runs to prune: %w", err)
	}
	for _, run := range oldest {
		if err := s.store.Delete(run.ID, models.RunRecord{}); err != nil {
			return fmt.Errorf("failed to prune run %s: %w", run.ID, err)
		}
	}
	s.logger.Debug().Int("pruned", len(oldest)).Int("max_runs", s.config.MaxRuns).Msg("Run history pruned")
	return nil
}

func (s *HistoryStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var record models.RunRecord
	if err := s.store.Get(id, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &record, nil
}

// ListRuns returns runs newest first. A limit of 0 returns every run.
func (s *HistoryStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.RunRecord
	if err := s.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.RunRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// KeyHistory returns the results recorded for one key, newest first
func (s *HistoryStorage) KeyHistory(ctx context.Context, key models.Key, limit int) ([]models.KeyResult, error) {
	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}

	var results []models.KeyResult
	for _, run := range runs {
		for _, o := range run.Outcomes {
			if o.Key != key {
				continue
			}
			results = append(results, models.KeyResult{
				RunID:                run.ID,
				StartedAt:            run.StartedAt,
				Status:               o.Status,
				DifferingPixels:      o.DifferingPixels,
				DifferencePercentage: o.DifferencePercentage,
			})
			break
		}
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *HistoryStorage) Close() error {
	return s.store.Close()
}
