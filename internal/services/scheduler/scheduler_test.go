package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 2 * * 1-5", false},
		{"@hourly", false},
		{"", true},
		{"* * * * * *", true}, // seconds field is not accepted
		{"not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Parse(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewScheduler_Validates(t *testing.T) {
	logger := arbor.NewLogger()
	noop := func(ctx context.Context) error { return nil }

	_, err := NewScheduler("bogus", noop, logger)
	assert.Error(t, err)

	_, err = NewScheduler("* * * * *", nil, logger)
	assert.Error(t, err)

	s, err := NewScheduler("* * * * *", noop, logger)
	require.NoError(t, err)
	assert.Equal(t, "* * * * *", s.Status().Schedule)
}

func TestTrigger_RecordsOutcome(t *testing.T) {
	fail := true
	s, err := NewScheduler("@daily", func(ctx context.Context) error {
		if fail {
			return errors.New("2 keys failed")
		}
		return nil
	}, arbor.NewLogger())
	require.NoError(t, err)

	err = s.Trigger(context.Background())
	assert.EqualError(t, err, "2 keys failed")
	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, "2 keys failed", st.LastError)
	require.NotNil(t, st.LastRun)
	assert.False(t, st.Busy)

	fail = false
	require.NoError(t, s.Trigger(context.Background()))
	st = s.Status()
	assert.Equal(t, 2, st.Runs)
	assert.Empty(t, st.LastError)
}

func TestTrigger_SkipsOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	s, err := NewScheduler("@daily", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, arbor.NewLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background()) }()
	<-started

	assert.ErrorIs(t, s.Trigger(context.Background()), ErrRunInProgress)
	assert.True(t, s.Status().Busy)

	close(release)
	require.NoError(t, <-done)

	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
}

func TestTrigger_RecoversPanic(t *testing.T) {
	s, err := NewScheduler("@daily", func(ctx context.Context) error {
		panic("boom")
	}, arbor.NewLogger())
	require.NoError(t, err)

	err = s.Trigger(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, s.Status().Busy)
}

func TestStartStop(t *testing.T) {
	s, err := NewScheduler("*/5 * * * *", func(ctx context.Context) error { return nil }, arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	st := s.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.NextRun)
	assert.True(t, st.NextRun.After(time.Now()))

	s.Stop()
	assert.False(t, s.Status().Running)
	assert.Nil(t, s.Status().NextRun)

	// Stop is idempotent
	s.Stop()
}

func TestStop_CancelsInFlightRun(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool
	s, err := NewScheduler("@daily", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}, arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	go s.trigger()
	<-started

	s.Stop()
	assert.True(t, sawCancel.Load())
	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, context.Canceled.Error(), st.LastError)
}
