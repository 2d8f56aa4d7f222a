package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/output"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Search the screen for an element with a narrowed decision vocabulary",
}

var scanTabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "Check sub-views one by one until the goal element is found",
	Long: `Open each listed tab in turn and ask the decision service whether the goal
is visible. The first tab is assumed to be open already.

Example:
  portal-pilot scan tabs --goal "Prior authorization number" --tabs Summary,Claims,Authorizations`,
	RunE: runScanTabs,
}

var scanScrollCmd = &cobra.Command{
	Use:   "scroll",
	Short: "Scroll until the goal element is found or the scroll budget runs out",
	Long: `Scroll the current view and ask the decision service after every scroll
whether the goal is visible.

Example:
  portal-pilot scan scroll --goal "Claim 88412" --max-scrolls 15`,
	RunE: runScanScroll,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanTabsCmd, scanScrollCmd)
	for _, c := range []*cobra.Command{scanTabsCmd, scanScrollCmd} {
		c.Flags().String("goal", "", "What to look for (required)")
		c.Flags().Int("max-steps", 0, "Decision budget (default depends on the scan)")
		c.Flags().String("region", "", "Restrict perception to x,y,w,h")
		_ = c.MarkFlagRequired("goal")
	}
	scanTabsCmd.Flags().String("tabs", "", "Comma-separated tab names, current tab first (required)")
	_ = scanTabsCmd.MarkFlagRequired("tabs")
	scanScrollCmd.Flags().Int("max-scrolls", 10, "Maximum number of scrolls")
}

func runScanTabs(cmd *cobra.Command, args []string) error {
	goal, _ := cmd.Flags().GetString("goal")
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	region, _ := cmd.Flags().GetString("region")
	tabsStr, _ := cmd.Flags().GetString("tabs")

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	capOpts, err := rt.captureOptions(region)
	if err != nil {
		return err
	}
	res, err := rt.newLoop().ScanTabs(cmd.Context(), agent.TabScanOptions{
		Goal:     goal,
		Tabs:     splitList(tabsStr),
		MaxSteps: maxSteps,
		Capture:  capOpts,
	})
	if err != nil {
		return err
	}
	return output.Print(res)
}

func runScanScroll(cmd *cobra.Command, args []string) error {
	goal, _ := cmd.Flags().GetString("goal")
	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	region, _ := cmd.Flags().GetString("region")
	maxScrolls, _ := cmd.Flags().GetInt("max-scrolls")

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	capOpts, err := rt.captureOptions(region)
	if err != nil {
		return err
	}
	res, err := rt.newLoop().ScrollSearch(cmd.Context(), agent.ScrollSearchOptions{
		Goal:       goal,
		MaxScrolls: maxScrolls,
		MaxSteps:   maxSteps,
		Capture:    capOpts,
	})
	if err != nil {
		return err
	}
	return output.Print(res)
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
