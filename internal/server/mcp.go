package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/mj1618/portal-pilot/internal/version"
	"github.com/mj1618/portal-pilot/internal/wait"
)

// toText serializes a tool result to YAML.
func toText(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(b)
}

// NewMCP builds an MCP server exposing the automation tools.
func (s *Server) NewMCP() *mcpserver.MCPServer {
	m := mcpserver.NewMCPServer("portal-pilot", version.Version)

	m.AddTool(
		mcp.NewTool("parse_screen",
			mcp.WithDescription("Capture the screen and detect UI elements with the vision service. Returns element ids, types, text, boxes and centers. Element ids are valid for this screen only."),
			mcp.WithString("region", mcp.Description("Restrict to region x,y,w,h")),
			mcp.WithBoolean("fresh", mcp.Description("Bypass the short-lived screen cache")),
		),
		s.handleParseScreen,
	)

	m.AddTool(
		mcp.NewTool("execute_action",
			mcp.WithDescription("Perform one action: click, double_click, drag, type, key, hotkey, scroll, wait. target_id refers to the last parsed screen."),
			mcp.WithString("action", mcp.Description("Action kind"), mcp.Required()),
			mcp.WithNumber("target_id", mcp.Description("Element id from parse_screen")),
			mcp.WithString("screen_id", mcp.Description("Screen the target_id belongs to (default: last parsed)")),
			mcp.WithNumber("x", mcp.Description("X coordinate when no target_id")),
			mcp.WithNumber("y", mcp.Description("Y coordinate when no target_id")),
			mcp.WithNumber("end_x", mcp.Description("Drag end X")),
			mcp.WithNumber("end_y", mcp.Description("Drag end Y")),
			mcp.WithString("text", mcp.Description("Text to type")),
			mcp.WithString("key", mcp.Description("Key or chord, e.g. 'enter' or 'ctrl+a'")),
			mcp.WithString("direction", mcp.Description("Scroll direction: up, down, left, right")),
			mcp.WithNumber("amount", mcp.Description("Scroll clicks (default: 3)")),
			mcp.WithNumber("duration", mcp.Description("Wait seconds")),
		),
		s.handleExecuteAction,
	)

	m.AddTool(
		mcp.NewTool("execute_batch",
			mcp.WithDescription("Perform several actions in order against one screen, stopping at the first failure"),
			mcp.WithArray("actions", mcp.Description("Array of action objects {action, target_id, coords, text, key, keys, direction, scroll_amount, duration}"), mcp.Required()),
			mcp.WithString("screen_id", mcp.Description("Screen the target ids belong to (default: last parsed)")),
		),
		s.handleExecuteBatch,
	)

	m.AddTool(
		mcp.NewTool("wait_for",
			mcp.WithDescription("Wait until an element with the given text appears (or disappears with gone), dismissing listed obstacles on the way"),
			mcp.WithString("text", mcp.Description("Text the element must contain"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Element type filter")),
			mcp.WithBoolean("exact", mcp.Description("Require exact text match")),
			mcp.WithString("region", mcp.Description("Search only region x,y,w,h")),
			mcp.WithBoolean("gone", mcp.Description("Wait until the element is no longer visible")),
			mcp.WithBoolean("click", mcp.Description("Click the element once found")),
			mcp.WithNumber("timeout", mcp.Description("Max seconds to wait (default: 30)")),
			mcp.WithNumber("interval", mcp.Description("Polling interval in ms (default: 500)")),
			mcp.WithArray("obstacles", mcp.Description("Array of {text, key} obstacles; without key the obstacle is clicked")),
		),
		s.handleWaitFor,
	)

	m.AddTool(
		mcp.NewTool("submit_job",
			mcp.WithDescription("Queue a goal for the autonomous control loop"),
			mcp.WithString("goal", mcp.Description("What the run should achieve"), mcp.Required()),
			mcp.WithString("tag", mcp.Description("Label shown in the queue")),
			mcp.WithString("callback_url", mcp.Description("URL that receives the final result")),
			mcp.WithNumber("max_steps", mcp.Description("Step budget override")),
		),
		s.handleSubmitJobTool,
	)

	m.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("Show pending jobs and the status of the running execution"),
		),
		s.handleQueueStatus,
	)

	m.AddTool(
		mcp.NewTool("stop",
			mcp.WithDescription("Stop the running execution at its next check"),
		),
		s.handleStopTool,
	)

	return m
}

// ServeMCP runs m on transport until ctx is done. stdio ends with stdin.
func ServeMCP(ctx context.Context, m *mcpserver.MCPServer, transport, addr string) error {
	switch transport {
	case "stdio":
		return mcpserver.ServeStdio(m)
	case "streamable-http":
		httpServer := mcpserver.NewStreamableHTTPServer(m)
		errc := make(chan error, 1)
		go func() { errc <- httpServer.Start(addr) }()
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	default:
		return fmt.Errorf("unsupported transport: %s (use stdio or streamable-http)", transport)
	}
}

func (s *Server) handleParseScreen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	opts := s.opts.Capture
	if r := stringParam(params, "region", ""); r != "" {
		b, err := platform.ParseBBox(r)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts.Region = b
	}
	if boolParam(params, "fresh", false) {
		s.cache.InvalidateAll()
	}

	screen, err := s.cache.Parse(ctx, s.deps.Perceiver, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(toText(screen)), nil
}

// payloadFromParams builds an action payload from flat tool arguments.
func payloadFromParams(params map[string]any) model.ActionPayload {
	p := model.ActionPayload{
		Action:    stringParam(params, "action", ""),
		Text:      stringParam(params, "text", ""),
		Key:       stringParam(params, "key", ""),
		Direction: stringParam(params, "direction", ""),
		Reasoning: "tool call",
	}
	if hasParam(params, "target_id") {
		id := model.FlexInt(intParam(params, "target_id", 0))
		p.TargetID = &id
	}
	if hasParam(params, "x") && hasParam(params, "y") {
		p.Coords = &model.WirePoint{X: intParam(params, "x", 0), Y: intParam(params, "y", 0)}
	}
	if hasParam(params, "end_x") && hasParam(params, "end_y") {
		p.EndCoords = &model.WirePoint{X: intParam(params, "end_x", 0), Y: intParam(params, "end_y", 0)}
	}
	if hasParam(params, "amount") {
		n := model.FlexInt(intParam(params, "amount", 0))
		p.ScrollAmount = &n
	}
	if hasParam(params, "duration") {
		d := floatParam(params, "duration", 0)
		p.Duration = &d
	}
	return p
}

func (s *Server) handleExecuteAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	res, err := s.execute(ctx, []model.ActionPayload{payloadFromParams(params)}, stringParam(params, "screen_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.OK {
		return mcp.NewToolResultError(toText(res)), nil
	}
	return mcp.NewToolResultText(toText(res)), nil
}

func (s *Server) handleExecuteBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	raw, ok := params["actions"]
	if !ok {
		return mcp.NewToolResultError("actions parameter is required"), nil
	}
	// round-trip through JSON so payload decoding stays in one place
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var payloads []model.ActionPayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return mcp.NewToolResultError("actions must be an array of action objects: " + err.Error()), nil
	}

	res, err := s.execute(ctx, payloads, stringParam(params, "screen_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.OK {
		return mcp.NewToolResultError(toText(res)), nil
	}
	return mcp.NewToolResultText(toText(res)), nil
}

// WaitResult reports a wait_for call.
type WaitResult struct {
	Found   bool         `yaml:"found"             json:"found"`
	Gone    bool         `yaml:"gone,omitempty"    json:"gone,omitempty"`
	At      *model.Point `yaml:"at,omitempty"      json:"at,omitempty"`
	Elapsed string       `yaml:"elapsed"           json:"elapsed"`
	Target  string       `yaml:"target"            json:"target"`
}

func (s *Server) handleWaitFor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	target := wait.Signature{
		Text:  stringParam(params, "text", ""),
		Type:  stringParam(params, "type", ""),
		Exact: boolParam(params, "exact", false),
	}
	if r := stringParam(params, "region", ""); r != "" {
		b, err := platform.ParseBBox(r)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		target.Region = b
	}

	opts := s.opts.Wait
	if hasParam(params, "timeout") {
		opts.Timeout = time.Duration(floatParam(params, "timeout", 0) * float64(time.Second))
	}
	if hasParam(params, "interval") {
		opts.PollInterval = time.Duration(intParam(params, "interval", 0)) * time.Millisecond
	}
	opts.Click = boolParam(params, "click", false)

	obstacles, err := s.obstaclesFromParams(params["obstacles"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	release, err := s.holdScreen()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defer release()
	defer s.cache.InvalidateAll()

	start := time.Now()
	res := WaitResult{Target: target.String()}
	if boolParam(params, "gone", false) {
		gone, err := s.deps.Waiter.WaitForDisappear(ctx, target, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res.Gone = gone
		res.Found = !gone
	} else {
		pt, err := s.deps.Waiter.WaitFor(ctx, target, obstacles, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res.Found = pt != nil
		res.At = pt
	}
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return mcp.NewToolResultText(toText(res)), nil
}

func (s *Server) obstaclesFromParams(raw any) ([]wait.Obstacle, error) {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, nil
	}
	if s.deps.Input == nil {
		return nil, fmt.Errorf("obstacles need input simulation, which is not available")
	}
	obstacles := make([]wait.Obstacle, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("obstacles[%d] must be an object", i)
		}
		sig := wait.Signature{
			Name:  stringParam(m, "name", ""),
			Text:  stringParam(m, "text", ""),
			Exact: boolParam(m, "exact", false),
		}
		if sig.Text == "" {
			return nil, fmt.Errorf("obstacles[%d] needs text", i)
		}
		if key := strings.TrimSpace(stringParam(m, "key", "")); key != "" {
			obstacles = append(obstacles, wait.KeyObstacle(sig, s.deps.Input, key))
		} else {
			obstacles = append(obstacles, wait.ClickObstacle(sig, s.deps.Input))
		}
	}
	return obstacles, nil
}

func (s *Server) handleSubmitJobTool(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	req := agent.JobRequest{
		Goal:        stringParam(params, "goal", ""),
		CallbackURL: stringParam(params, "callback_url", ""),
		MaxSteps:    intParam(params, "max_steps", 0),
	}
	job, pos, started, err := s.SubmitJob(stringParam(params, "tag", ""), req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(toText(SubmitJobResponse{JobID: job.ID, Position: pos, Started: started})), nil
}

func (s *Server) handleQueueStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(toText(s.deps.Jobs.Queue().Status())), nil
}

func (s *Server) handleStopTool(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.RequestStop()
	return mcp.NewToolResultText("stop: requested\n"), nil
}
