package agent

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/capture"
	"github.com/mj1618/portal-pilot/internal/model"
)

// Narrowed decision vocabulary of the scan variants.
const (
	scanScroll   = "scroll"
	scanClick    = "click"
	scanWait     = "wait"
	scanFound    = "found"
	scanNotFound = "not_found"
)

var scanVocabulary = []string{scanScroll, scanClick, scanWait, scanFound, scanNotFound}

// ScanResult is the outcome of a narrowed scan.
type ScanResult struct {
	Found       bool             `yaml:"found"                  json:"found"`
	Element     *model.UIElement `yaml:"element,omitempty"      json:"element,omitempty"`
	CheckedTabs []string         `yaml:"checked_tabs,omitempty" json:"checked_tabs,omitempty"`
	Scrolls     int              `yaml:"scrolls"                json:"scrolls"`
	Steps       int              `yaml:"steps"                  json:"steps"`
	Reasoning   string           `yaml:"reasoning,omitempty"    json:"reasoning,omitempty"`
}

// TabScanOptions configure ScanTabs.
type TabScanOptions struct {
	Goal string
	// Tabs are the sub-view names to check; the first is assumed open.
	Tabs     []string
	MaxSteps int
	Capture  capture.Options
}

// ScrollSearchOptions configure ScrollSearch.
type ScrollSearchOptions struct {
	Goal       string
	MaxScrolls int
	MaxSteps   int
	Capture    capture.Options
}

// scanDecision is one narrowed decision together with the screen it was
// made for.
type scanDecision struct {
	verb   string
	dec    *Decision
	screen *model.ParsedScreen
}

// decideNarrow runs perception and one decision call restricted to the
// scan vocabulary. Verbs outside the vocabulary degrade to wait.
func (l *Loop) decideNarrow(ctx context.Context, exec *ExecutionContext, step int, aux map[string]any, capOpts capture.Options) (scanDecision, error) {
	if err := l.checkStop(ctx); err != nil {
		return scanDecision{}, err
	}
	screen, _, err := l.perceiver.Perceive(ctx, capOpts)
	if err != nil {
		return scanDecision{}, fmt.Errorf("perception failed at step %d: %w", step, err)
	}
	req := newDecisionRequest(exec, step, l.cfg.HistoryWindow, screen, "")
	req.Context = aux
	req.AllowedActions = scanVocabulary
	dec, err := l.decider.Decide(ctx, req)
	if err != nil {
		return scanDecision{}, err
	}
	verb := strings.ToLower(strings.TrimSpace(dec.Action))
	verb = strings.NewReplacer("-", "_", " ", "_").Replace(verb)
	switch verb {
	case scanScroll, scanClick, scanWait, scanFound, scanNotFound:
	case "notfound", "missing":
		verb = scanNotFound
	default:
		l.logger.Warn("scan decision outside vocabulary, waiting", zap.String("action", dec.Action))
		verb = scanWait
	}
	return scanDecision{verb: verb, dec: dec, screen: screen}, nil
}

// act dispatches a scroll, click or wait decision and records it on exec.
func (l *Loop) act(ctx context.Context, exec *ExecutionContext, step int, sd scanDecision) (model.AgentAction, bool, error) {
	payload := sd.dec.ActionPayload
	payload.Action = sd.verb
	if sd.verb == scanScroll && payload.Direction == "" {
		payload.Direction = string(model.ScrollDown)
	}
	a, convErr := payload.ToAction(sd.screen.ID)
	if convErr != nil {
		a.Reasoning = joinReason(a.Reasoning, convErr.Error())
	}
	ok, err := l.dispatcher.Execute(ctx, a, sd.screen)
	if err != nil {
		return a, false, err
	}
	exec.appendStep(model.AgentStep{Step: step, Action: a.Kind, TargetID: a.TargetID(), Reasoning: a.Reasoning, Success: ok})
	return a, ok, nil
}

func foundElement(sd scanDecision) *model.UIElement {
	if sd.dec.TargetID == nil {
		return nil
	}
	if el, ok := sd.screen.Element(int(*sd.dec.TargetID)); ok {
		return &el
	}
	return nil
}

// ScanTabs looks for the goal across several tabs. The decision service
// sees which tabs were checked and which remain, clicks tabs, and answers
// found or not_found for the tab currently shown.
func (l *Loop) ScanTabs(ctx context.Context, opts TabScanOptions) (ScanResult, error) {
	if len(opts.Tabs) == 0 {
		return ScanResult{}, fmt.Errorf("scan tabs: no tabs given")
	}
	maxSteps := opts.MaxSteps
	if maxSteps < 1 {
		maxSteps = len(opts.Tabs) * 4
	}
	exec := NewExecution(opts.Goal, "scan-tabs")
	exec.setStatus(model.StatusRunning)
	log := l.logger.With(zap.String("scan", "tabs"), zap.String("execution_id", exec.ID()))

	current := opts.Tabs[0]
	remaining := append([]string(nil), opts.Tabs...)
	var checked []string
	res := ScanResult{}

	for step := 1; step <= maxSteps; step++ {
		res.Steps = step
		aux := map[string]any{
			"current_tab":    current,
			"checked_tabs":   checked,
			"remaining_tabs": remaining,
		}
		sd, err := l.decideNarrow(ctx, exec, step, aux, opts.Capture)
		if err != nil {
			res.CheckedTabs = checked
			return res, err
		}
		res.Reasoning = sd.dec.Reasoning

		switch sd.verb {
		case scanFound:
			res.Found = true
			res.Element = foundElement(sd)
			if !slices.Contains(checked, current) {
				checked = append(checked, current)
			}
			res.CheckedTabs = checked
			log.Info("found", zap.String("tab", current))
			return res, nil
		case scanNotFound:
			// a repeated answer for an already checked tab counts once
			if slices.Contains(remaining, current) {
				checked = append(checked, current)
				remaining = without(remaining, current)
			}
			log.Info("tab checked", zap.String("tab", current), zap.Int("remaining", len(remaining)))
			if len(remaining) == 0 {
				res.CheckedTabs = checked
				return res, nil
			}
			continue
		}

		a, ok, err := l.act(ctx, exec, step, sd)
		if err != nil {
			res.CheckedTabs = checked
			return res, err
		}
		if ok && a.Kind == model.ActionClick && a.Target != nil {
			if el, found := sd.screen.Resolve(*a.Target); found {
				for _, tab := range remaining {
					if el.MatchesText(tab, false) {
						current = tab
						break
					}
				}
			}
		}
		if err := l.flag.Sleep(ctx, l.cfg.StepDelay); err != nil {
			res.CheckedTabs = checked
			return res, err
		}
	}
	res.CheckedTabs = checked
	log.Warn("tab scan exhausted its step budget", zap.Int("max_steps", maxSteps))
	return res, nil
}

// ScrollSearch scrolls through a long list until the decision service
// reports the goal found, gives up, or MaxScrolls scrolls were made.
func (l *Loop) ScrollSearch(ctx context.Context, opts ScrollSearchOptions) (ScanResult, error) {
	maxScrolls := opts.MaxScrolls
	if maxScrolls < 1 {
		maxScrolls = 10
	}
	maxSteps := opts.MaxSteps
	if maxSteps < 1 {
		maxSteps = maxScrolls * 2
	}
	exec := NewExecution(opts.Goal, "scroll-search")
	exec.setStatus(model.StatusRunning)
	log := l.logger.With(zap.String("scan", "scroll"), zap.String("execution_id", exec.ID()))

	res := ScanResult{}
	for step := 1; step <= maxSteps; step++ {
		res.Steps = step
		aux := map[string]any{
			"scroll_count": res.Scrolls,
			"max_scrolls":  maxScrolls,
		}
		sd, err := l.decideNarrow(ctx, exec, step, aux, opts.Capture)
		if err != nil {
			return res, err
		}
		res.Reasoning = sd.dec.Reasoning

		switch sd.verb {
		case scanFound:
			res.Found = true
			res.Element = foundElement(sd)
			return res, nil
		case scanNotFound:
			return res, nil
		case scanScroll:
			if res.Scrolls >= maxScrolls {
				log.Info("scroll budget exhausted", zap.Int("max_scrolls", maxScrolls))
				return res, nil
			}
		}

		a, ok, err := l.act(ctx, exec, step, sd)
		if err != nil {
			return res, err
		}
		if ok && a.Kind == model.ActionScroll {
			res.Scrolls++
		}
		if err := l.flag.Sleep(ctx, l.cfg.StepDelay); err != nil {
			return res, err
		}
	}
	log.Warn("scroll search exhausted its step budget", zap.Int("max_steps", maxSteps))
	return res, nil
}

func without(list []string, item string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != item {
			out = append(out, s)
		}
	}
	return out
}
