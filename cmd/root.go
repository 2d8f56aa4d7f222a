package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mj1618/portal-pilot/internal/config"
	"github.com/mj1618/portal-pilot/internal/observability"
	"github.com/mj1618/portal-pilot/internal/output"
	"github.com/mj1618/portal-pilot/internal/version"
)

var (
	// cfg and logger are set by the root PersistentPreRunE.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "portal-pilot",
	Short: "Drive web portals through screen vision and simulated input",
	Long: `portal-pilot navigates portal UIs unattended: it parses screenshots into
element lists with a vision service, asks a decision service what to do next,
and carries the action out with simulated mouse and keyboard input.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.Commit, version.BuildDate)
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./portal-pilot.yaml or ./configs/portal-pilot.yaml)")
	rootCmd.PersistentFlags().String("format", "", "Output format: yaml, json")
	rootCmd.PersistentFlags().Bool("pretty", false, "Indent JSON output")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		path, _ := rootCmd.PersistentFlags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Log)
		logger = observability.GetLogger()

		format, _ := rootCmd.PersistentFlags().GetString("format")
		f, err := output.ParseFormat(format)
		if err != nil {
			return err
		}
		output.OutputFormat = f
		output.PrettyOutput, _ = rootCmd.PersistentFlags().GetBool("pretty")
		return nil
	}
}
