package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/miyabi-dev/miyabi/internal/agent"
	"github.com/miyabi-dev/miyabi/internal/artifact"
	"github.com/miyabi-dev/miyabi/internal/config"
	"github.com/miyabi-dev/miyabi/internal/dag"
	"github.com/miyabi-dev/miyabi/internal/dispatcher"
	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/platform"
	"github.com/miyabi-dev/miyabi/internal/routing"
	"github.com/miyabi-dev/miyabi/internal/scanner"
	"github.com/miyabi-dev/miyabi/internal/scheduler"
	"github.com/miyabi-dev/miyabi/internal/session"
	"github.com/miyabi-dev/miyabi/internal/supervisor"
	"github.com/miyabi-dev/miyabi/internal/telemetry"
	"github.com/miyabi-dev/miyabi/internal/worktree"
	"github.com/spf13/cobra"
)

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Continuously scan repositories and dispatch the highest-priority item",
	Long: `Runs the Supervisor (C9) as a long-lived loop: on every tick it
picks the single highest-priority ready item across the configured
repositories and runs it through the same decompose/schedule/dispatch
pipeline as 'agent run', then sleeps until the next interval.

Example:
  miyabi auto --repo org/myapp --interval 30s
  miyabi auto --repo org/myapp --dry-run`,
	RunE: runAuto,
}

func init() {
	rootCmd.AddCommand(autoCmd)

	autoCmd.Flags().StringSlice("repo", nil, "owner/repo to watch (repeatable)")
	autoCmd.Flags().Duration("interval", 30*time.Second, "scan interval")
	autoCmd.Flags().Duration("max-duration", 0, "stop the loop after this long (0 = run until interrupted)")
	autoCmd.Flags().Bool("scan-todos", false, "also scan for TODO/FIXME markers on every tick")
	autoCmd.Flags().Bool("dry-run", false, "decide what would run without dispatching")
	_ = autoCmd.MarkFlagRequired("repo")
}

func runAuto(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	repoFlags, _ := cmd.Flags().GetStringSlice("repo")
	interval, _ := cmd.Flags().GetDuration("interval")
	maxDuration, _ := cmd.Flags().GetDuration("max-duration")
	scanTodos, _ := cmd.Flags().GetBool("scan-todos")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var repos []supervisor.Repo
	for _, rf := range repoFlags {
		owner, repo, ok := strings.Cut(rf, "/")
		if !ok {
			return emitErr(errs.New(errs.CodeValidation, "--repo must be owner/repo, got %q", rf))
		}
		repos = append(repos, supervisor.Repo{Owner: owner, Repo: repo})
	}

	cfg, err := config.Load()
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeConfig, err, "loading configuration"))
	}

	token, err := resolveToken(ctx, cfg)
	if err != nil {
		return emitErr(errs.AsError(err))
	}
	gw := platform.NewGHGateway(token)

	cwd, err := os.Getwd()
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeInternal, err, "resolving working directory"))
	}

	store, err := artifact.NewStore(filepath.Join(cwd, ".miyabi", "artifacts"))
	if err != nil {
		return emitErr(errs.AsError(err))
	}
	wtMgr := worktree.NewManager(cwd)
	sessMgr := session.NewManager(cfg.Scheduler.MaxConcurrency)

	project, err := scanner.LoadProjectInfo(cwd)
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeInternal, err, "loading saved project info"))
	}
	router := routing.NewRouter(&cfg.Routing)
	for _, adapterName := range router.Adapters() {
		if !agent.Exists(adapterName) {
			return emitErr(errs.New(errs.CodeValidation, "routing config references unregistered agent adapter %q", adapterName))
		}
	}
	tracer := newTracer(cfg.Observability)
	defer func() { _ = tracer.Stop(context.Background()) }()
	disp := dispatcher.New(gw, store, dispatcher.WithProject(project), dispatcher.WithRouter(router), dispatcher.WithTracer(tracer))

	fileSink, err := telemetry.NewFileSink(filepath.Join(cwd, ".miyabi", "events"))
	if err != nil {
		return emitErr(errs.AsError(err))
	}
	promSink := telemetry.NewPrometheusSink()
	sinks := []telemetry.Sink{fileSink, promSink}
	if cfg.Cloud.Provider == "gcp" {
		sinks = append(sinks, telemetry.NewGCPLogSink(strings.Join(repoFlags, ",")))
	}
	bus := telemetry.NewBus(sinks...)

	executor := func(ctx context.Context, decision supervisor.Decision) error {
		fmt.Printf("dispatching %s/%s#%d (priority %d): %s\n",
			decision.Owner, decision.Repo, decision.Item, decision.Priority, decision.Reason)

		item, err := gw.GetItem(ctx, decision.Owner, decision.Repo, decision.Item)
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}

		result := dag.Decompose(*item, "")
		if result.HasCycles {
			_ = bus.Emit(telemetry.Event{Kind: telemetry.EventCycleDetected, Owner: decision.Owner, Repo: decision.Repo, Item: decision.Item})
			fmt.Printf("  skipping: dependency cycle detected in %s\n", strings.Join(dag.FindCyclePath(result.DAG), " -> "))
			return nil
		}

		state := scheduler.NewState(result.DAG, cfg.Scheduler.MaxConcurrency, cfg.Scheduler.MaxRetries)
		return state.Run(ctx, func(ctx context.Context, task dag.Task) error {
			_ = bus.Emit(telemetry.Event{Kind: telemetry.EventTaskDispatched, Owner: decision.Owner, Repo: decision.Repo, Item: decision.Item, TaskID: task.ID, AgentKind: string(task.AgentKind)})

			wt, err := wtMgr.CreateWorktree(ctx, string(task.AgentKind), decision.Owner, decision.Repo, decision.Item, "main")
			if err != nil {
				return err
			}
			defer wtMgr.UpdateAgentStatus(wt.Path, worktree.StatusIdle)

			sess, err := sessMgr.CreateSession(task.ID, decision.Owner, decision.Repo, decision.Item, task.AgentKind, wt.Path, 0)
			if err != nil {
				return err
			}
			if err := disp.Dispatch(ctx, decision.Owner, decision.Repo, task, wt.Path); err != nil {
				_ = sessMgr.FailSession(sess.ID, err)
				_ = bus.Emit(telemetry.Event{Kind: telemetry.EventTaskFailed, Owner: decision.Owner, Repo: decision.Repo, Item: decision.Item, TaskID: task.ID, AgentKind: string(task.AgentKind), Message: err.Error()})
				return err
			}
			_ = bus.Emit(telemetry.Event{Kind: telemetry.EventTaskCompleted, Owner: decision.Owner, Repo: decision.Repo, Item: decision.Item, TaskID: task.ID, AgentKind: string(task.AgentKind)})
			return sessMgr.CompleteSession(sess.ID)
		})
	}

	loop := supervisor.New(gw, executor, supervisor.Config{
		Repos:        repos,
		Interval:     interval,
		MaxDuration:  maxDuration,
		ScanTodos:    scanTodos,
		TodoScanRoot: cwd,
		DryRun:       dryRun,
	})

	return emitErr(errs.AsError(loop.Run(ctx)))
}
