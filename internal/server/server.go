// Package server exposes the automation stack over an HTTP API and as MCP
// tools.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/halt"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/mj1618/portal-pilot/internal/queue"
	"github.com/mj1618/portal-pilot/internal/wait"
)

// Waiter blocks on visual conditions.
type Waiter interface {
	WaitFor(ctx context.Context, target wait.Signature, obstacles []wait.Obstacle, opts wait.Options) (*model.Point, error)
	WaitForDisappear(ctx context.Context, target wait.Signature, opts wait.Options) (bool, error)
}

// RunReader reads finished runs.
type RunReader interface {
	Recent(ctx context.Context, limit int) ([]agent.Result, error)
	Get(ctx context.Context, id string) (agent.Result, error)
}

// Deps are the components the server drives. Runs, Input and Gatherer are
// optional.
type Deps struct {
	Perceiver  Perceiver
	Dispatcher agent.Dispatcher
	Waiter     Waiter
	Jobs       *queue.Processor
	Tracker    *agent.Tracker
	Flag       *halt.Flag
	Runs       RunReader
	Input      platform.Inputter
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

// Options tune request handling.
type Options struct {
	CacheTTL time.Duration
	Capture  capture.Options
	Wait     wait.Options
}

// Server holds the shared state of the HTTP and MCP front ends.
type Server struct {
	deps   Deps
	opts   Options
	cache  *ScreenCache
	logger *zap.Logger

	// jobCtx bounds queued jobs; it outlives any single request
	jobCtx context.Context

	// actMu serializes direct screen interaction from tool calls
	actMu sync.Mutex
}

// New returns a server. Jobs submitted through it run under jobCtx.
func New(jobCtx context.Context, deps Deps, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = &agent.Tracker{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		deps:   deps,
		opts:   opts,
		cache:  NewScreenCache(opts.CacheTTL),
		logger: logger.Named("server"),
		jobCtx: jobCtx,
	}
}

// Cache exposes the screen cache.
func (s *Server) Cache() *ScreenCache {
	return s.cache
}

// SubmitJob validates req and queues it under tag.
func (s *Server) SubmitJob(tag string, req agent.JobRequest) (queue.Job, int, bool, error) {
	if err := req.Validate(); err != nil {
		return queue.Job{}, 0, false, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return queue.Job{}, 0, false, err
	}
	job := queue.NewJob(tag, payload)
	pos, started := s.deps.Jobs.Submit(s.jobCtx, job)
	return job, pos, started, nil
}

// RequestStop raises the stop flag.
func (s *Server) RequestStop() {
	s.deps.Flag.Request()
	s.logger.Warn("stop requested")
}

// holdScreen serializes direct interaction from tool calls and refuses it
// while a queued job owns the screen.
func (s *Server) holdScreen() (release func(), err error) {
	s.actMu.Lock()
	if s.deps.Jobs == nil {
		return s.actMu.Unlock, nil
	}
	releaseScreen, err := s.deps.Jobs.HoldScreen()
	if err != nil {
		s.actMu.Unlock()
		return nil, err
	}
	return func() {
		releaseScreen()
		s.actMu.Unlock()
	}, nil
}

// execute runs actions against the latest screen, or against screenID when
// given, then drops cached parses.
func (s *Server) execute(ctx context.Context, payloads []model.ActionPayload, screenID string) (ActionResult, error) {
	if len(payloads) == 0 {
		return ActionResult{}, errors.New("no actions given")
	}
	release, err := s.holdScreen()
	if err != nil {
		return ActionResult{}, err
	}
	defer release()
	defer s.cache.InvalidateAll()

	screen := s.cache.Latest()
	if screenID == "" && screen != nil {
		screenID = screen.ID
	}

	res := ActionResult{ScreenID: screenID}
	actions := make([]model.AgentAction, 0, len(payloads))
	for _, p := range payloads {
		a, err := p.ToAction(screenID)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
		}
		actions = append(actions, a)
	}

	if len(actions) == 1 {
		ok, err := s.deps.Dispatcher.Execute(ctx, actions[0], screen)
		if err != nil {
			return res, err
		}
		res.OK = ok
		if ok {
			res.Executed = 1
		}
		return res, nil
	}

	br, err := s.deps.Dispatcher.ExecuteBatch(ctx, actions, screen)
	if err != nil {
		return res, err
	}
	res.OK = br.AllOK
	res.Executed = br.Executed
	return res, nil
}

// ActionResult reports a direct action or batch.
type ActionResult struct {
	OK       bool     `yaml:"ok"                 json:"ok"`
	Executed int      `yaml:"executed"           json:"executed"`
	ScreenID string   `yaml:"screen_id,omitempty" json:"screen_id,omitempty"`
	Warnings []string `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}
