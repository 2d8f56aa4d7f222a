package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/model"
	"github.com/mj1618/portal-pilot/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one execution towards a goal and print the result",
	Long: `Run the perceive, decide and act loop until the decision service reports
the goal finished, an error occurs, the step budget runs out or the run is
interrupted. Ctrl-C stops the run at the next check point.

Examples:
  portal-pilot run --goal "Open the eligibility tab for patient 1234"
  portal-pilot run --goal "Download the EOB" --max-steps 40 --callback http://127.0.0.1:9000/done`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("goal", "", "Goal in natural language (required)")
	runCmd.Flags().String("tag", "cli", "Tag recorded with the execution")
	runCmd.Flags().Int("max-steps", 0, "Step budget (default: loop.max_steps)")
	runCmd.Flags().String("callback", "", "URL that receives the final result as JSON")
	runCmd.Flags().String("region", "", "Restrict perception to x,y,w,h")
	_ = runCmd.MarkFlagRequired("goal")
}

func runRun(cmd *cobra.Command, args []string) error {
	goal, _ := cmd.Flags().GetString("goal")
	tag, _ := cmd.Flags().GetString("tag")
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	callback, _ := cmd.Flags().GetString("callback")
	region, _ := cmd.Flags().GetString("region")

	req := agent.JobRequest{Goal: goal, CallbackURL: callback, MaxSteps: maxSteps}
	if err := req.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	capOpts, err := rt.captureOptions(region)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := rt.newLoop()
	res := loop.Run(ctx, agent.NewExecution(req.Goal, tag), agent.RunOptions{
		CallbackURL: req.CallbackURL,
		MaxSteps:    req.MaxSteps,
		Capture:     capOpts,
	})
	if err := output.Print(res); err != nil {
		return err
	}
	if res.Status == model.StatusError {
		return errRunFailed(res)
	}
	return nil
}

func errRunFailed(res agent.Result) error {
	return fmt.Errorf("run %s failed after %d steps: %s", res.ExecutionID, res.Steps, res.Error)
}
