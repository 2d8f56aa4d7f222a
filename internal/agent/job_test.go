package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/queue"
)

type statusLog struct {
	mu   sync.Mutex
	seen []model.RunStatus
}

func (s *statusLog) SetCurrentStatus(st model.RunStatus) {
	s.mu.Lock()
	s.seen = append(s.seen, st)
	s.mu.Unlock()
}

func jobWith(t *testing.T, req JobRequest) queue.Job {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return queue.NewJob("acme", payload)
}

func TestJobHandler_RunsExecution(t *testing.T) {
	var goal string
	d := deciderFunc(func(_ context.Context, req DecisionRequest) (*Decision, error) {
		goal = req.Goal
		return decide(`{"action":"finish","status":"finished","output":"ok"}`), nil
	})
	tracker := &Tracker{}
	l := newTestLoop(&fakePerceiver{}, d, &fakeDispatcher{}, nil, WithTracker(tracker))
	statuses := &statusLog{}

	err := l.JobHandler(statuses)(context.Background(), jobWith(t, JobRequest{Goal: "find patient 42"}))
	require.NoError(t, err)
	assert.Equal(t, "find patient 42", goal)
	assert.Equal(t, []model.RunStatus{model.StatusRunning, model.StatusFinished}, statuses.seen)
	require.NotNil(t, tracker.Current())
	assert.Equal(t, "acme", tracker.Current().Snapshot().Tag)
}

func TestJobHandler_ErrorRunFailsJob(t *testing.T) {
	d := deciderFunc(func(context.Context, DecisionRequest) (*Decision, error) {
		return decide(`{"action":"wait","duration":0}`), nil
	})
	l := newTestLoop(&fakePerceiver{}, d, &fakeDispatcher{}, nil)

	err := l.JobHandler(nil)(context.Background(), jobWith(t, JobRequest{Goal: "g", MaxSteps: 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max steps (2) reached")
}

func TestJobHandler_RejectsBadPayload(t *testing.T) {
	l := newTestLoop(&fakePerceiver{}, nil, &fakeDispatcher{}, nil)

	err := l.JobHandler(nil)(context.Background(), queue.NewJob("t", json.RawMessage(`{"goal":`)))
	assert.Error(t, err)

	err = l.JobHandler(nil)(context.Background(), jobWith(t, JobRequest{}))
	assert.ErrorContains(t, err, "goal is required")
}
