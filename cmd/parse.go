package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mj1618/portal-pilot/internal/output"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Capture the screen and print the parsed elements",
	Long: `Capture the screen (or a region of it), send it to the vision service and
print the resulting elements with their ids, boxes and click centers.

Examples:
  portal-pilot parse
  portal-pilot parse --region 0,120,1280,600 --format json`,
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().String("region", "", "Region of interest as x,y,w,h")
	parseCmd.Flags().Bool("raw", false, "Include the raw vision blob")
}

func runParse(cmd *cobra.Command, args []string) error {
	region, _ := cmd.Flags().GetString("region")
	raw, _ := cmd.Flags().GetBool("raw")

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	opts, err := rt.captureOptions(region)
	if err != nil {
		return err
	}
	screen, _, err := rt.perceiver.Perceive(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if !raw {
		screen.Raw = ""
	}
	return output.Print(screen)
}
