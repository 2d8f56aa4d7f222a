package cmd

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/output"
	"github.com/mj1618/portal-pilot/internal/queue"
	"github.com/mj1618/portal-pilot/internal/remote"
)

// StatusReport is the output of the status command.
type StatusReport struct {
	Queue     queue.Status  `yaml:"queue"               json:"queue"`
	Execution *agent.Result `yaml:"execution,omitempty" json:"execution,omitempty"`
}

// StopResult is the output of the stop command.
type StopResult struct {
	Requested bool   `yaml:"requested"           json:"requested"`
	Via       string `yaml:"via"                 json:"via"`
	Receivers *int64 `yaml:"receivers,omitempty" json:"receivers,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the queue and current execution of a running server",
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running server to stop its current execution",
	Long: `Request a cooperative stop. The running execution ends with status
"stopped" at its next check point; queued jobs are not removed.

By default the request goes to the HTTP API at server.addr. With --remote it
is published on the redis stop channel instead, reaching every listening
server.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(statusCmd, stopCmd)
	for _, c := range []*cobra.Command{statusCmd, stopCmd} {
		c.Flags().String("addr", "", "Server address (default: server.addr)")
	}
	stopCmd.Flags().Bool("remote", false, "Publish the stop on redis instead of calling the HTTP API")
	stopCmd.Flags().String("reason", "", "Reason recorded by listeners (with --remote)")
}

func serverAddr(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		return addr
	}
	return cfg.Server.Addr
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverAddr(cmd))
	var report StatusReport
	if err := client.getJSON(cmd.Context(), "/v1/queue", &report.Queue); err != nil {
		return err
	}
	var exec agent.Result
	switch err := client.getJSON(cmd.Context(), "/v1/execution", &exec); {
	case err == nil:
		report.Execution = &exec
	case !errors.Is(err, errNotFound):
		return err
	}
	return output.Print(report)
}

func runStop(cmd *cobra.Command, args []string) error {
	useRemote, _ := cmd.Flags().GetBool("remote")
	if !useRemote {
		if err := newAPIClient(serverAddr(cmd)).post(cmd.Context(), "/v1/stop"); err != nil {
			return err
		}
		return output.Print(StopResult{Requested: true, Via: "http"})
	}

	rc := cfg.Redis
	reason, _ := cmd.Flags().GetString("reason")
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	defer rdb.Close()
	n, err := remote.Publish(cmd.Context(), rdb, rc.StopChannel, reason)
	if err != nil {
		return err
	}
	if err := output.Print(StopResult{Requested: n > 0, Via: "redis", Receivers: &n}); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no listeners on %s", rc.StopChannel)
	}
	return nil
}
