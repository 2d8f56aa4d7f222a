package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/output"
)

// DoResult is the output of a batch do command.
type DoResult struct {
	OK       bool     `yaml:"ok"                  json:"ok"`
	Steps    int      `yaml:"steps"               json:"steps"`
	Executed int      `yaml:"executed"            json:"executed"`
	ScreenID string   `yaml:"screen_id,omitempty" json:"screen_id,omitempty"`
	Warnings []string `yaml:"warnings,omitempty"  json:"warnings,omitempty"`
	Error    string   `yaml:"error,omitempty"     json:"error,omitempty"`
}

var doCmd = &cobra.Command{
	Use:   "do",
	Short: "Execute a batch of actions read from stdin",
	Long: `Execute a sequence of actions from a YAML (or JSON) list on stdin.

Each step is an action payload in the same shape the decision service
returns. When any step names a target_id the screen is parsed first and
every id refers to that parse. Steps run in order with a short pause between
them; the batch stops at the first failed step.

Example:
  portal-pilot do <<'EOF'
  - action: click
    target_id: 12
  - action: type
    text: "Doe, Jane"
  - action: key
    key: enter
  - action: wait
    duration: 2
  EOF`,
	RunE: runDo,
}

func init() {
	rootCmd.AddCommand(doCmd)
	doCmd.Flags().String("region", "", "Region of interest for the initial parse, x,y,w,h")
}

func runDo(cmd *cobra.Command, args []string) error {
	region, _ := cmd.Flags().GetString("region")

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	payloads, err := decodePayloads(data)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}

	var screen *model.ParsedScreen
	if needsScreen(payloads) {
		opts, err := rt.captureOptions(region)
		if err != nil {
			return err
		}
		screen, _, err = rt.perceiver.Perceive(cmd.Context(), opts)
		if err != nil {
			return err
		}
	}

	screenID := ""
	if screen != nil {
		screenID = screen.ID
	}
	actions, warnings := toActions(payloads, screenID)

	res, err := rt.disp.ExecuteBatch(cmd.Context(), actions, screen)
	result := DoResult{
		OK:       err == nil && res.AllOK,
		Steps:    len(actions),
		Executed: res.Executed,
		ScreenID: screenID,
		Warnings: warnings,
	}
	if err != nil {
		result.Error = err.Error()
	}
	if perr := output.Print(result); perr != nil {
		return perr
	}
	if !result.OK {
		return fmt.Errorf("batch stopped after %d of %d steps", result.Executed, result.Steps)
	}
	return nil
}

// decodePayloads reads a YAML or JSON list of action payloads. The list is
// round-tripped through JSON so ids and coordinates get the same lenient
// decoding as decision service replies.
func decodePayloads(data []byte) ([]model.ActionPayload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no steps provided on stdin: pipe a YAML list of actions")
	}
	var raw []any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML steps: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no steps provided: expected a YAML list of actions")
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert steps: %w", err)
	}
	var payloads []model.ActionPayload
	if err := json.Unmarshal(asJSON, &payloads); err != nil {
		return nil, fmt.Errorf("invalid step: %w", err)
	}
	return payloads, nil
}

func needsScreen(payloads []model.ActionPayload) bool {
	for _, p := range payloads {
		if p.TargetID != nil {
			return true
		}
	}
	return false
}

// toActions converts payloads, collecting one warning per degraded step.
func toActions(payloads []model.ActionPayload, screenID string) ([]model.AgentAction, []string) {
	actions := make([]model.AgentAction, 0, len(payloads))
	var warnings []string
	for i, p := range payloads {
		a, err := p.ToAction(screenID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("step %d: %v", i+1, err))
		}
		actions = append(actions, a)
	}
	return actions, warnings
}
