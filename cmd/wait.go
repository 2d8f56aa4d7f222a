package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/portal-pilot/internal/config"
	"github.com/mj1618/portal-pilot/internal/output"
	"github.com/mj1618/portal-pilot/internal/platform"
	"github.com/mj1618/portal-pilot/internal/server"
	"github.com/mj1618/portal-pilot/internal/wait"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for an element to appear or disappear",
	Long: `Poll the parsed screen until an element matching --text (and --type) is
seen twice in a row, or with --gone until it is no longer seen.

Obstacles are dismissed while waiting. Each --obstacle is "text" (click it),
"text=click" or "text=key:<key>" (press the key). Obstacles from
watch.obstacles in the config are always included.

Examples:
  portal-pilot wait --text "Search results" --timeout 20
  portal-pilot wait --text "Submit" --click --obstacle "Session expiring=key:enter"
  portal-pilot wait --text "Loading" --gone`,
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().String("text", "", "Element text to wait for (required)")
	waitCmd.Flags().String("type", "", "Element type, e.g. button, text, icon")
	waitCmd.Flags().Bool("exact", false, "Require an exact text match instead of a substring")
	waitCmd.Flags().String("region", "", "Only look inside x,y,w,h")
	waitCmd.Flags().StringArray("obstacle", nil, "Obstacle to dismiss: text, text=click or text=key:<key> (repeatable)")
	waitCmd.Flags().Bool("gone", false, "Wait until the element is no longer visible")
	waitCmd.Flags().Bool("click", false, "Click the element once it is confirmed")
	waitCmd.Flags().Duration("timeout", 0, "Max time to wait (default: wait.timeout)")
	_ = waitCmd.MarkFlagRequired("text")
}

func runWait(cmd *cobra.Command, args []string) error {
	text, _ := cmd.Flags().GetString("text")
	kind, _ := cmd.Flags().GetString("type")
	exact, _ := cmd.Flags().GetBool("exact")
	region, _ := cmd.Flags().GetString("region")
	obstacleFlags, _ := cmd.Flags().GetStringArray("obstacle")
	gone, _ := cmd.Flags().GetBool("gone")
	click, _ := cmd.Flags().GetBool("click")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	target := wait.Signature{Text: text, Type: kind, Exact: exact}
	if region != "" {
		b, err := platform.ParseBBox(region)
		if err != nil {
			return err
		}
		target.Region = b
	}

	extra := make([]config.ObstacleConfig, 0, len(obstacleFlags))
	for _, s := range obstacleFlags {
		o, err := parseObstacleFlag(s)
		if err != nil {
			return err
		}
		extra = append(extra, o)
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	obstacles, err := buildObstacles(extra, rt.provider.Inputter)
	if err != nil {
		return err
	}
	obstacles = append(obstacles, rt.obstacles...)

	opts := cfg.Wait
	opts.Click = click
	if timeout > 0 {
		opts.Timeout = timeout
	}

	start := time.Now()
	res := server.WaitResult{Target: target.String()}
	if gone {
		ok, err := rt.waiter.WaitForDisappear(cmd.Context(), target, opts)
		if err != nil {
			return err
		}
		res.Gone = ok
		res.Found = !ok
	} else {
		pt, err := rt.waiter.WaitFor(cmd.Context(), target, obstacles, opts)
		if err != nil {
			return err
		}
		res.Found = pt != nil
		res.At = pt
	}
	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if err := output.Print(res); err != nil {
		return err
	}
	if gone && !res.Gone || !gone && !res.Found {
		return fmt.Errorf("timed out after %s waiting for %s", res.Elapsed, res.Target)
	}
	return nil
}

// parseObstacleFlag reads "text", "text=click" or "text=key:<key>".
func parseObstacleFlag(s string) (config.ObstacleConfig, error) {
	text, how, hasHow := strings.Cut(s, "=")
	text = strings.TrimSpace(text)
	if text == "" {
		return config.ObstacleConfig{}, fmt.Errorf("obstacle %q: text is required", s)
	}
	o := config.ObstacleConfig{Signature: wait.Signature{Name: text, Text: text}}
	if !hasHow {
		return o, nil
	}
	how = strings.TrimSpace(how)
	switch {
	case how == "" || how == "click":
		o.Action = "click"
	case strings.HasPrefix(how, "key:"):
		o.Action = "key"
		o.Key = strings.TrimSpace(strings.TrimPrefix(how, "key:"))
		if o.Key == "" {
			return config.ObstacleConfig{}, fmt.Errorf("obstacle %q: key is empty", s)
		}
	default:
		return config.ObstacleConfig{}, fmt.Errorf("obstacle %q: expected click or key:<key> after '='", s)
	}
	return o, nil
}
