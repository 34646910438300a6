package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vista/internal/common"
	"github.com/ternarybob/vista/internal/interfaces"
	"github.com/ternarybob/vista/internal/models"
)

func newTestHistory(t *testing.T) *HistoryStorage {
	t.Helper()
	config := common.HistoryConfig{Path: filepath.Join(t.TempDir(), "history")}
	h, err := NewHistoryStorage(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

var heroKey = models.Key{Suite: "home.toml", Test: "hero", Variant: "chromium-desktop"}

func record(i int, status models.Status) *models.RunRecord {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour)
	outcomes := []models.Outcome{
		{Key: models.Key{Suite: "home.toml", Test: "nav", Variant: "chromium-desktop"}, Status: models.StatusPassed},
		{Key: heroKey, Status: status, DifferingPixels: i * 10},
	}
	return &models.RunRecord{
		ID:          fmt.Sprintf("run_%02d", i),
		Environment: "staging",
		Mode:        models.ModeCompare,
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
		Summary:     models.Summarize(outcomes),
		Outcomes:    outcomes,
	}
}

func TestHistoryStorage_SaveAndGet(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	rec := record(1, models.StatusFailedVisual)
	require.NoError(t, h.SaveRun(ctx, rec))

	got, err := h.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, heroKey, got.Outcomes[1].Key)
}

func TestHistoryStorage_GetMissing(t *testing.T) {
	h := newTestHistory(t)

	_, err := h.GetRun(context.Background(), "run_missing")
	assert.ErrorIs(t, err, interfaces.ErrRunNotFound)
}

func TestHistoryStorage_SaveRequiresID(t *testing.T) {
	h := newTestHistory(t)
	assert.Error(t, h.SaveRun(context.Background(), &models.RunRecord{}))
}

func TestHistoryStorage_ListNewestFirst(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for _, i := range []int{2, 0, 3, 1} {
		require.NoError(t, h.SaveRun(ctx, record(i, models.StatusPassed)))
	}

	runs, err := h.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, "run_03", runs[0].ID)
	assert.Equal(t, "run_00", runs[3].ID)

	runs, err = h.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_03", runs[0].ID)
	assert.Equal(t, "run_02", runs[1].ID)
}

func TestHistoryStorage_KeyHistory(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	require.NoError(t, h.SaveRun(ctx, record(0, models.StatusBaselineCreated)))
	require.NoError(t, h.SaveRun(ctx, record(1, models.StatusPassed)))
	require.NoError(t, h.SaveRun(ctx, record(2, models.StatusFailedVisual)))

	results, err := h.KeyHistory(ctx, heroKey, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "run_02", results[0].RunID)
	assert.Equal(t, models.StatusFailedVisual, results[0].Status)
	assert.Equal(t, 20, results[0].DifferingPixels)
	assert.Equal(t, models.StatusBaselineCreated, results[2].Status)

	results, err = h.KeyHistory(ctx, heroKey, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = h.KeyHistory(ctx, models.Key{Test: "unknown", Variant: "chromium-desktop"}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHistoryStorage_ResetOnStartup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	ctx := context.Background()

	h, err := NewHistoryStorage(arbor.NewLogger(), common.HistoryConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, h.SaveRun(ctx, record(0, models.StatusPassed)))
	require.NoError(t, h.Close())

	h, err = NewHistoryStorage(arbor.NewLogger(), common.HistoryConfig{Path: path, ResetOnStartup: true})
	require.NoError(t, err)
	defer h.Close()

	runs, err := h.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHistoryStorage_PrunesBeyondMaxRuns(t *testing.T) {
	config := common.HistoryConfig{Path: filepath.Join(t.TempDir(), "history"), MaxRuns: 3, SyncWrites: true}
	h, err := NewHistoryStorage(arbor.NewLogger(), config)
	require.NoError(t, err)
	defer h.Close()
	ctx := context.Background()

	for _, i := range []int{4, 0, 2, 1, 3} {
		require.NoError(t, h.SaveRun(ctx, record(i, models.StatusPassed)))
	}

	runs, err := h.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run_04", runs[0].ID)
	assert.Equal(t, "run_02", runs[2].ID)

	_, err = h.GetRun(ctx, "run_00")
	assert.ErrorIs(t, err, interfaces.ErrRunNotFound)
}

func TestHistoryStorage_RequiresPath(t *testing.T) {
	_, err := NewHistoryStorage(arbor.NewLogger(), common.HistoryConfig{})
	assert.Error(t, err)
}
