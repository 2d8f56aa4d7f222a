package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/model"
)

var _ agent.ResultSink = (*Store)(nil)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(id string, started time.Time, status model.RunStatus) agent.Result {
	done := started.Add(time.Minute)
	id7 := 7
	return agent.Result{
		ExecutionID: id,
		Goal:        "open chart for patient 1234",
		Tag:         "chart",
		Status:      status,
		Output:      "chart open",
		Steps:       2,
		History: []model.AgentStep{
			{Step: 1, Action: model.ActionClick, TargetID: &id7, Success: true, Timestamp: started},
			{Step: 2, Action: model.ActionFinish, Success: true, Timestamp: done},
		},
		StartedAt:   started,
		CompletedAt: &done,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveResult(ctx, result("run-1", started, model.StatusFinished)))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFinished, got.Status)
	assert.Equal(t, "chart open", got.Output)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(started.Add(time.Minute)))
	require.Len(t, got.History, 2)
	require.NotNil(t, got.History[0].TargetID)
	assert.Equal(t, 7, *got.History[0].TargetID)
}

func TestStore_GetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveReplaces(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	started := time.Now()

	r := result("run-1", started, model.StatusRunning)
	r.CompletedAt = nil
	require.NoError(t, s.SaveResult(ctx, r))
	require.NoError(t, s.SaveResult(ctx, result("run-1", started, model.StatusStopped)))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusStopped, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveResult(ctx, result(id, base.Add(time.Duration(i)*time.Hour), model.StatusFinished)))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ExecutionID)
	assert.Equal(t, "b", runs[1].ExecutionID)
	assert.Nil(t, runs[0].History)
}
