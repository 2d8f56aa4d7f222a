package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/queue"
)

// JobRequest is the payload of a queued automation job.
type JobRequest struct {
	Goal        string `yaml:"goal"                   json:"goal"`
	CallbackURL string `yaml:"callback_url,omitempty" json:"callback_url,omitempty"`
	MaxSteps    int    `yaml:"max_steps,omitempty"    json:"max_steps,omitempty"`
}

// Validate rejects requests the loop cannot run.
func (r JobRequest) Validate() error {
	if r.Goal == "" {
		return errors.New("goal is required")
	}
	if r.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative, got %d", r.MaxSteps)
	}
	return nil
}

// StatusSink receives the status of the execution a job is running.
type StatusSink interface {
	SetCurrentStatus(s model.RunStatus)
}

// JobHandler runs each queued job as one execution and mirrors its status
// into status. The job fails when the run ends in error.
func (l *Loop) JobHandler(status StatusSink) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var req JobRequest
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			return fmt.Errorf("decoding job %s: %w", job.ID, err)
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}

		exec := NewExecution(req.Goal, job.Tag)
		if status != nil {
			exec.OnStatus(status.SetCurrentStatus)
		}
		res := l.Run(ctx, exec, RunOptions{CallbackURL: req.CallbackURL, MaxSteps: req.MaxSteps})
		if res.Status == model.StatusError {
			return fmt.Errorf("execution %s: %s", res.ExecutionID, res.Error)
		}
		return nil
	}
}
