package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mj1618/portal-pilot/internal/model"
)

// Result is the final (or in-flight) record of one execution.
type Result struct {
	ExecutionID string            `yaml:"execution_id"           json:"execution_id"`
	Goal        string            `yaml:"goal"                   json:"goal"`
	Tag         string            `yaml:"tag,omitempty"          json:"tag,omitempty"`
	Status      model.RunStatus   `yaml:"status"                 json:"status"`
	Output      string            `yaml:"output,omitempty"       json:"output,omitempty"`
	Error       string            `yaml:"error,omitempty"        json:"error,omitempty"`
	Steps       int               `yaml:"steps"                  json:"steps"`
	History     []model.AgentStep `yaml:"history"                json:"history"`
	StartedAt   time.Time         `yaml:"started_at"             json:"started_at"`
	CompletedAt *time.Time        `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// ExecutionContext owns the status and history of one execution. The loop
// running it is the only writer; other goroutines read through Snapshot
// and Status.
type ExecutionContext struct {
	mu          sync.RWMutex
	id          string
	goal        string
	tag         string
	status      model.RunStatus
	history     []model.AgentStep
	output      string
	errMsg      string
	startedAt   time.Time
	completedAt *time.Time
	observer    func(model.RunStatus)
}

// NewExecution returns an idle execution for goal.
func NewExecution(goal, tag string) *ExecutionContext {
	return &ExecutionContext{
		id:        uuid.NewString(),
		goal:      goal,
		tag:       tag,
		status:    model.StatusIdle,
		startedAt: time.Now(),
	}
}

// ID returns the execution id.
func (e *ExecutionContext) ID() string { return e.id }

// Goal returns the goal text.
func (e *ExecutionContext) Goal() string { return e.goal }

// OnStatus registers fn to be called after every status change.
func (e *ExecutionContext) OnStatus(fn func(model.RunStatus)) {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
}

// Status returns the current run status.
func (e *ExecutionContext) Status() model.RunStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// setStatus applies a legal transition and reports whether it happened.
func (e *ExecutionContext) setStatus(s model.RunStatus) bool {
	e.mu.Lock()
	if !model.CanTransition(e.status, s) {
		e.mu.Unlock()
		return false
	}
	e.status = s
	fn := e.observer
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return true
}

// finish moves to a terminal status and records output or error text. It
// is a no-op once the execution is already terminal.
func (e *ExecutionContext) finish(s model.RunStatus, output, errMsg string) bool {
	e.mu.Lock()
	if !model.CanTransition(e.status, s) {
		e.mu.Unlock()
		return false
	}
	e.status = s
	if output != "" {
		e.output = output
	}
	if errMsg != "" {
		e.errMsg = errMsg
	}
	now := time.Now()
	e.completedAt = &now
	fn := e.observer
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return true
}

func (e *ExecutionContext) appendStep(step model.AgentStep) {
	e.mu.Lock()
	e.history = append(e.history, step)
	e.mu.Unlock()
}

// recent returns copies of the last n steps.
func (e *ExecutionContext) recent(n int) []model.AgentStep {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]model.AgentStep(nil), h...)
}

// Snapshot returns a copy safe to hand to other goroutines.
func (e *ExecutionContext) Snapshot() Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := Result{
		ExecutionID: e.id,
		Goal:        e.goal,
		Tag:         e.tag,
		Status:      e.status,
		Output:      e.output,
		Error:       e.errMsg,
		Steps:       len(e.history),
		History:     append([]model.AgentStep(nil), e.history...),
		StartedAt:   e.startedAt,
	}
	if e.completedAt != nil {
		t := *e.completedAt
		r.CompletedAt = &t
	}
	return r
}

// Tracker publishes the execution currently being driven.
type Tracker struct {
	cur atomic.Pointer[ExecutionContext]
}

// Set publishes e.
func (t *Tracker) Set(e *ExecutionContext) { t.cur.Store(e) }

// Current returns the latest execution, or nil.
func (t *Tracker) Current() *ExecutionContext { return t.cur.Load() }
