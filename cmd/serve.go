package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/queue"
	"github.com/mj1618/portal-pilot/internal/remote"
	"github.com/mj1618/portal-pilot/internal/runstore"
	"github.com/mj1618/portal-pilot/internal/server"
	"github.com/mj1618/portal-pilot/internal/supervise"
	"github.com/mj1618/portal-pilot/internal/wait"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job API, MCP tools and background watchers",
	Long: `Start the HTTP job API and, when enabled, an MCP server exposing
parse_screen, execute_action, execute_batch, wait_for, submit_job,
queue_status and stop as tools.

Background tasks warm up the vision service, dismiss configured modals while
idle, verify the idle screen on a schedule and listen for remote stop
requests on redis.

Examples:
  portal-pilot serve
  portal-pilot serve --addr 127.0.0.1:9000 --mcp --transport stdio`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
	serveCmd.Flags().Bool("mcp", false, "Enable the MCP server (overrides mcp.enabled)")
	serveCmd.Flags().String("transport", "", "MCP transport: stdio, streamable-http (overrides mcp.transport)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if on, _ := cmd.Flags().GetBool("mcp"); on {
		cfg.MCP.Enabled = true
	}
	if t, _ := cmd.Flags().GetString("transport"); t != "" {
		cfg.MCP.Transport = t
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := &agent.Tracker{}
	loop := rt.newLoop(agent.WithTracker(tracker), agent.WithResultSink(store))
	q := queue.New()
	proc := queue.NewProcessor(q, loop.JobHandler(q), logger, rt.metrics)

	capOpts, err := rt.captureOptions("")
	if err != nil {
		return err
	}
	srv := server.New(ctx, server.Deps{
		Perceiver:  rt.perceiver,
		Dispatcher: rt.disp,
		Waiter:     rt.waiter,
		Jobs:       proc,
		Tracker:    tracker,
		Flag:       rt.flag,
		Runs:       store,
		Input:      rt.provider.Inputter,
		Gatherer:   rt.registry,
		Logger:     logger,
	}, server.Options{
		CacheTTL: cfg.MCP.CacheTTL,
		Capture:  capOpts,
		Wait:     cfg.Wait,
	})

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		logger.Info("http api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.MCP.Enabled {
		g.Go(func() error {
			logger.Info("mcp server starting", zap.String("transport", cfg.MCP.Transport), zap.String("addr", cfg.MCP.Addr))
			if err := server.ServeMCP(gctx, srv.NewMCP(), cfg.MCP.Transport, cfg.MCP.Addr); err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		})
	}

	sup := supervise.New(logger, rt.metrics)
	if err := startTasks(gctx, sup, rt, q); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		// let a running job observe the stop before draining
		rt.flag.Request()
		sup.Wait()
		proc.Wait()
		return nil
	})

	err = g.Wait()
	logger.Info("shut down")
	return err
}

func startTasks(ctx context.Context, sup *supervise.Supervisor, rt *runtime, q *queue.Queue) error {
	sup.Go(ctx, "vision-warmup", supervise.WarmUp(rt.parser))

	dismisser := wait.NewDismisser(rt.waiter)
	sup.Go(ctx, "modal-watcher", supervise.ModalWatcher(dismisser, rt.obstacles, rt.cfg.Watch.ModalInterval, q.Processing, rt.logger))

	if text := rt.cfg.Watch.IdleText; text != "" {
		schedule, err := supervise.ParseSchedule(rt.cfg.Watch.IdleSchedule)
		if err != nil {
			return err
		}
		sig := wait.Signature{Name: "idle screen", Text: text}
		sup.Go(ctx, "idle-verifier", supervise.IdleVerifier(wait.NewVisionLocator(rt.perceiver), sig, schedule, q.Processing, rt.metrics, rt.logger))
	}

	if rc := rt.cfg.Redis; rc.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		listener := remote.NewListener(rdb, rc.StopChannel, rt.flag, rt.logger)
		sup.Go(ctx, "remote-stop", func(ctx context.Context) error {
			return listener.Listen(ctx)
		})
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
	}
	return nil
}
