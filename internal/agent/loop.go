// Package agent runs the perception, decision and action cycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/dispatch"
	"github.com/mj1618/portal-pilot/internal/halt"
	"github.com/mj1618/portal-pilot/internal/metrics"
	"github.com/mj1618/portal-pilot/internal/model"
)

// Config bounds a run.
type Config struct {
	MaxSteps      int           `mapstructure:"max_steps"`
	StepDelay     time.Duration `mapstructure:"step_delay"`
	HistoryWindow int           `mapstructure:"history_window"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{MaxSteps: 30, StepDelay: time.Second, HistoryWindow: 10}
}

// Perceiver captures and parses the screen.
type Perceiver interface {
	Perceive(ctx context.Context, opts capture.Options) (*model.ParsedScreen, capture.Frame, error)
}

// Dispatcher executes actions.
type Dispatcher interface {
	Execute(ctx context.Context, a model.AgentAction, screen *model.ParsedScreen) (bool, error)
	ExecuteBatch(ctx context.Context, actions []model.AgentAction, screen *model.ParsedScreen) (dispatch.BatchResult, error)
}

// Loop wires perception, decision and dispatch together.
type Loop struct {
	perceiver  Perceiver
	decider    Decider
	dispatcher Dispatcher
	flag       *halt.Flag
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics

	auditor Auditor
	sink    ResultSink
	tracker *Tracker
	client  *http.Client
}

// Option configures optional Loop collaborators.
type Option func(*Loop)

// WithAuditor stores every step screenshot through a.
func WithAuditor(a Auditor) Option { return func(l *Loop) { l.auditor = a } }

// WithResultSink hands every final result to s.
func WithResultSink(s ResultSink) Option { return func(l *Loop) { l.sink = s } }

// WithTracker publishes running executions on t.
func WithTracker(t *Tracker) Option { return func(l *Loop) { l.tracker = t } }

// WithMetrics records loop metrics on m.
func WithMetrics(m *metrics.Metrics) Option { return func(l *Loop) { l.metrics = m } }

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option { return func(l *Loop) { l.logger = logger } }

// NewLoop returns a loop.
func NewLoop(p Perceiver, d Decider, disp Dispatcher, flag *halt.Flag, cfg Config, opts ...Option) *Loop {
	l := &Loop{
		perceiver:  p,
		decider:    d,
		dispatcher: disp,
		flag:       flag,
		cfg:        cfg,
		logger:     zap.NewNop(),
		client:     &http.Client{},
	}
	for _, o := range opts {
		o(l)
	}
	if l.flag == nil {
		l.flag = halt.New(0)
	}
	if l.metrics == nil {
		l.metrics = metrics.New(nil)
	}
	if l.tracker == nil {
		l.tracker = &Tracker{}
	}
	if l.cfg.MaxSteps < 1 {
		l.cfg.MaxSteps = DefaultConfig().MaxSteps
	}
	l.logger = l.logger.Named("agent")
	return l
}

// RunOptions are per-run settings.
type RunOptions struct {
	// CallbackURL receives the final result as JSON when set.
	CallbackURL string
	// MaxSteps overrides the configured budget when positive.
	MaxSteps int
	// Capture restricts perception, e.g. to a region of interest.
	Capture capture.Options
}

// errBudget marks an exhausted step budget.
var errBudget = errors.New("step budget exhausted")

// Run drives exec until it finishes, fails, is stopped or exhausts its
// step budget. The returned result always carries completion time, step
// count and full history.
func (l *Loop) Run(ctx context.Context, exec *ExecutionContext, opts RunOptions) Result {
	maxSteps := l.cfg.MaxSteps
	if opts.MaxSteps > 0 {
		maxSteps = opts.MaxSteps
	}
	log := l.logger.With(zap.String("execution_id", exec.ID()))
	l.tracker.Set(exec)
	exec.setStatus(model.StatusRunning)
	log.Info("run started", zap.String("goal", exec.Goal()), zap.Int("max_steps", maxSteps))

	status, output, errMsg := l.steps(ctx, log, exec, maxSteps, opts)
	if !exec.finish(status, output, errMsg) {
		// a terminal status was already recorded
		status = exec.Status()
	}

	res := exec.Snapshot()
	l.metrics.Runs.WithLabelValues(string(res.Status)).Inc()
	fields := []zap.Field{zap.String("status", string(res.Status)), zap.Int("steps", res.Steps)}
	if res.Error != "" {
		fields = append(fields, zap.String("error", res.Error))
	}
	log.Info("run finished", fields...)

	// post-run reporting must not be cut short by the run's own cancellation
	reportCtx := context.WithoutCancel(ctx)
	if opts.CallbackURL != "" {
		if err := postResult(reportCtx, l.client, opts.CallbackURL, res); err != nil {
			log.Warn("result callback failed", zap.String("url", opts.CallbackURL), zap.Error(err))
		}
	}
	if l.sink != nil {
		if err := l.sink.SaveResult(reportCtx, res); err != nil {
			log.Warn("saving result failed", zap.Error(err))
		}
	}
	return res
}

func (l *Loop) steps(ctx context.Context, log *zap.Logger, exec *ExecutionContext, maxSteps int, opts RunOptions) (model.RunStatus, string, string) {
	for step := 1; step <= maxSteps; step++ {
		status, output, errMsg, done := l.step(ctx, log.With(zap.Int("step", step)), exec, step, opts)
		if done {
			return status, output, errMsg
		}
		if step == maxSteps {
			break
		}
		if err := l.flag.Sleep(ctx, l.cfg.StepDelay); err != nil {
			return stopped(log, err)
		}
	}
	msg := fmt.Sprintf("max steps (%d) reached without completion", maxSteps)
	log.Warn("run exhausted its step budget", zap.Error(errBudget), zap.Int("max_steps", maxSteps))
	return model.StatusError, "", msg
}

// step runs one perception, decision and action cycle. done reports that
// the run reached a terminal status.
func (l *Loop) step(ctx context.Context, log *zap.Logger, exec *ExecutionContext, step int, opts RunOptions) (status model.RunStatus, output, errMsg string, done bool) {
	if err := l.checkStop(ctx); err != nil {
		status, output, errMsg = stopped(log, err)
		return status, output, errMsg, true
	}

	screen, frame, err := l.perceiver.Perceive(ctx, opts.Capture)
	if err != nil {
		if l.isStop(ctx, err) {
			status, output, errMsg = stopped(log, err)
			return status, output, errMsg, true
		}
		log.Error("perception failed", zap.Error(err))
		return model.StatusError, "", fmt.Sprintf("perception failed at step %d: %v", step, err), true
	}

	shotURL := ""
	if l.auditor != nil {
		if ref, err := l.auditor.Store(ctx, exec.ID(), step, frame); err != nil {
			log.Warn("audit screenshot failed", zap.Error(err))
		} else {
			shotURL = ref
		}
	}

	req := newDecisionRequest(exec, step, l.cfg.HistoryWindow, screen, shotURL)
	dec, err := l.decider.Decide(ctx, req)
	if err != nil {
		if l.isStop(ctx, err) {
			status, output, errMsg = stopped(log, err)
			return status, output, errMsg, true
		}
		var de *DecisionError
		if errors.As(err, &de) {
			log.Error("decision round trip failed", zap.Int("http_status", de.StatusCode), zap.String("raw", de.Body), zap.Error(err))
		} else {
			log.Error("decision round trip failed", zap.Error(err))
		}
		return model.StatusError, "", fmt.Sprintf("decision failed at step %d: %v", step, err), true
	}
	l.metrics.LoopSteps.Inc()

	hint := model.ParseRunStatus(dec.Status)
	switch hint {
	case model.StatusFinished, model.StatusPatientNotFound:
		exec.appendStep(model.AgentStep{
			Step:      step,
			Action:    model.ActionFinish,
			Reasoning: dec.Reasoning,
			Success:   true,
			Timestamp: time.Now(),
		})
		log.Info("decision service reported completion", zap.String("status", string(hint)))
		return hint, dec.OutputText(), "", true
	case model.StatusError:
		exec.appendStep(model.AgentStep{Step: step, Action: model.ActionFinish, Reasoning: dec.Reasoning, Timestamp: time.Now()})
		msg := dec.OutputText()
		if msg == "" {
			msg = dec.Reasoning
		}
		if msg == "" {
			msg = "decision service reported an error"
		}
		return model.StatusError, "", msg, true
	case model.StatusStopped:
		return model.StatusStopped, "", "stopped by decision service", true
	}

	var stepRec model.AgentStep
	if len(dec.Batch) > 0 {
		stepRec, err = l.runBatch(ctx, log, dec, screen)
	} else {
		stepRec, err = l.runSingle(ctx, log, dec, screen)
	}
	stepRec.Step = step
	stepRec.Timestamp = time.Now()
	if err != nil {
		stepRec.Error = "stopped"
		exec.appendStep(stepRec)
		status, output, errMsg = stopped(log, err)
		return status, output, errMsg, true
	}
	exec.appendStep(stepRec)
	return model.StatusRunning, "", "", false
}

func (l *Loop) runSingle(ctx context.Context, log *zap.Logger, dec *Decision, screen *model.ParsedScreen) (model.AgentStep, error) {
	a, convErr := dec.ToAction(screen.ID)
	if convErr != nil {
		log.Warn("degraded decision to wait", zap.String("action", dec.Action), zap.Error(convErr))
		a.Reasoning = joinReason(a.Reasoning, convErr.Error())
	}
	rec := model.AgentStep{Action: a.Kind, TargetID: a.TargetID(), Reasoning: a.Reasoning}
	ok, err := l.dispatcher.Execute(ctx, a, screen)
	if err != nil {
		return rec, err
	}
	rec.Success = ok
	if !ok {
		rec.Error = fmt.Sprintf("%s action failed", a.Kind)
	}
	log.Info("executed action", zap.String("kind", string(a.Kind)), zap.Bool("success", ok), zap.String("reasoning", a.Reasoning))
	return rec, nil
}

func (l *Loop) runBatch(ctx context.Context, log *zap.Logger, dec *Decision, screen *model.ParsedScreen) (model.AgentStep, error) {
	actions := make([]model.AgentAction, 0, len(dec.Batch))
	for i, p := range dec.Batch {
		a, convErr := p.ToAction(screen.ID)
		if convErr != nil {
			log.Warn("degraded batch entry to wait", zap.Int("index", i), zap.Error(convErr))
		}
		actions = append(actions, a)
	}
	rec := model.AgentStep{Action: actions[0].Kind, TargetID: actions[0].TargetID(), Reasoning: dec.Reasoning, BatchSize: len(actions)}
	res, err := l.dispatcher.ExecuteBatch(ctx, actions, screen)
	if err != nil {
		return rec, err
	}
	rec.Success = res.AllOK
	if !res.AllOK {
		rec.Error = fmt.Sprintf("batch stopped after %d of %d actions", res.Executed, len(actions))
	}
	log.Info("executed batch", zap.Int("size", len(actions)), zap.Int("executed", res.Executed), zap.Bool("success", res.AllOK))
	return rec, nil
}

func (l *Loop) checkStop(ctx context.Context) error {
	if err := l.flag.Check(); err != nil {
		return err
	}
	return ctx.Err()
}

// isStop reports whether err (or the run context) signals cancellation. A
// stop flag raised during a blocking call is consumed here.
func (l *Loop) isStop(ctx context.Context, err error) bool {
	if halt.IsStop(err) || ctx.Err() != nil {
		return true
	}
	return l.flag.Check() != nil
}

func stopped(log *zap.Logger, err error) (model.RunStatus, string, string) {
	log.Info("run stopped", zap.Error(err))
	return model.StatusStopped, "", "stopped: " + err.Error()
}

func joinReason(reason, suffix string) string {
	if reason == "" {
		return suffix
	}
	return reason + " (" + suffix + ")"
}
