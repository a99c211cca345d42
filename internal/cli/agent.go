package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

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
	"github.com/miyabi-dev/miyabi/internal/telemetry"
	"github.com/miyabi-dev/miyabi/internal/worktree"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Work a single GitHub issue end to end",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Decompose an issue into a task DAG and dispatch it",
	Long: `Fetches an issue, decomposes it into a dependency DAG (C5),
then drives the scheduler (C6) and dispatcher (C8) over it: each ready
task gets its own git worktree and a dispatched agent, with artifacts
(diff, review verdict, PR) persisted between tasks.

Example:
  miyabi agent run --repo org/myapp --issue 42
  miyabi agent run --repo org/myapp --issue 42 --dry-run`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentRunCmd)

	agentRunCmd.Flags().String("repo", "", "owner/repo to work in")
	agentRunCmd.Flags().String("issue", "", "issue number, comma list, or range to decompose and dispatch (e.g. 42 or 40-45,50)")
	agentRunCmd.Flags().Bool("dry-run", false, "decompose and print the DAG without dispatching any task")
	agentRunCmd.Flags().String("model", "", "override the routed model for this run, as adapter:model (e.g. claude-code:opus)")
	_ = agentRunCmd.MarkFlagRequired("repo")
	_ = agentRunCmd.MarkFlagRequired("issue")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repoFlag, _ := cmd.Flags().GetString("repo")
	issueFlag, _ := cmd.Flags().GetString("issue")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	modelFlag, _ := cmd.Flags().GetString("model")

	owner, repo, ok := strings.Cut(repoFlag, "/")
	if !ok {
		return emitErr(errs.New(errs.CodeValidation, "--repo must be owner/repo, got %q", repoFlag))
	}

	issueStrs, err := ExpandRanges([]string{issueFlag})
	if err != nil {
		return emitErr(errs.Wrap(errs.CodeValidation, err, "parsing --issue"))
	}
	issues := make([]int, 0, len(issueStrs))
	for _, s := range issueStrs {
		n, _ := strconv.Atoi(s)
		issues = append(issues, n)
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

	phaseRouting := cfg.Routing
	if modelFlag != "" {
		phaseRouting.Default = routing.ParseModelSpec(modelFlag)
	}
	router := routing.NewRouter(&phaseRouting)
	for _, adapterName := range router.Adapters() {
		if !agent.Exists(adapterName) {
			return emitErr(errs.New(errs.CodeValidation, "routing config references unregistered agent adapter %q", adapterName))
		}
	}

	var cwd string
	var store *artifact.Store
	var wtMgr *worktree.Manager
	var sessMgr *session.Manager
	var disp *dispatcher.Dispatcher
	var bus *telemetry.Bus
	if !dryRun {
		cwd, err = os.Getwd()
		if err != nil {
			return emitErr(errs.Wrap(errs.CodeInternal, err, "resolving working directory"))
		}

		store, err = artifact.NewStore(filepath.Join(cwd, ".miyabi", "artifacts"))
		if err != nil {
			return emitErr(errs.AsError(err))
		}

		wtMgr = worktree.NewManager(cwd)
		sessMgr = session.NewManager(cfg.Scheduler.MaxConcurrency)

		project, err := scanner.LoadProjectInfo(cwd)
		if err != nil {
			return emitErr(errs.Wrap(errs.CodeInternal, err, "loading saved project info"))
		}
		tracer := newTracer(cfg.Observability)
		defer func() { _ = tracer.Stop(context.Background()) }()
		disp = dispatcher.New(gw, store, dispatcher.WithProject(project), dispatcher.WithRouter(router), dispatcher.WithTracer(tracer))

		fileSink, err := telemetry.NewFileSink(filepath.Join(cwd, ".miyabi", "events"))
		if err != nil {
			return emitErr(errs.AsError(err))
		}
		sinks := []telemetry.Sink{fileSink}
		if cfg.Cloud.Provider == "gcp" {
			sinks = append(sinks, telemetry.NewGCPLogSink(fmt.Sprintf("%s-%s", owner, repo)))
		}
		bus = telemetry.NewBus(sinks...)
	}

	var aggCompleted, aggTotal, aggFailed, aggSkipped int
	for _, issue := range issues {
		item, err := gw.GetItem(ctx, owner, repo, issue)
		if err != nil {
			return emitErr(errs.AsError(err))
		}
		if item == nil {
			return emitErr(errs.New(errs.CodeValidation, "issue #%d not found in %s", issue, repoFlag))
		}

		result := dag.Decompose(*item, "")
		if result.HasCycles {
			cycle := dag.FindCyclePath(result.DAG)
			return emitErr(errs.New(errs.CodeValidation, "dependency cycle detected: %s", strings.Join(cycle, " -> ")).
				WithDetails(map[string]any{"cycle": cycle}))
		}

		if dryRun {
			if len(issues) == 1 {
				return printDAG(result)
			}
			fmt.Printf("issue #%d:\n", issue)
			if err := printDAG(result); err != nil {
				return err
			}
			continue
		}

		state := scheduler.NewState(result.DAG, cfg.Scheduler.MaxConcurrency, cfg.Scheduler.MaxRetries)
		dispatch := runAgentDispatchFunc(bus, wtMgr, sessMgr, disp, owner, repo, issue)

		if err := state.Run(ctx, dispatch); err != nil {
			return emitErr(errs.AsError(err))
		}

		completed, total, failed, skipped := state.GetProgress()
		aggCompleted += completed
		aggTotal += total
		aggFailed += failed
		aggSkipped += skipped
	}

	if dryRun {
		return nil
	}

	summary := fmt.Sprintf("%d/%d tasks completed (%d failed, %d skipped)", aggCompleted, aggTotal, aggFailed, aggSkipped)

	if viper.GetBool("json") {
		env := errs.Success(map[string]any{
			"completed": aggCompleted, "total": aggTotal, "failed": aggFailed, "skipped": aggSkipped,
		}, summary)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	fmt.Println(summary)
	if aggFailed > 0 {
		return errs.New(errs.CodeAgentExecutionFailed, "%d task(s) failed", aggFailed)
	}
	return nil
}

// runAgentDispatchFunc builds the per-task dispatch closure for one issue,
// shared between a single-issue run and a --issue range/list expansion.
func runAgentDispatchFunc(bus *telemetry.Bus, wtMgr *worktree.Manager, sessMgr *session.Manager, disp *dispatcher.Dispatcher, owner, repo string, issue int) func(context.Context, dag.Task) error {
	return func(ctx context.Context, task dag.Task) error {
		_ = bus.Emit(telemetry.Event{Kind: telemetry.EventTaskDispatched, Owner: owner, Repo: repo, Item: issue, TaskID: task.ID, AgentKind: string(task.AgentKind)})

		wt, err := wtMgr.CreateWorktree(ctx, string(task.AgentKind), owner, repo, issue, "main")
		if err != nil {
			return err
		}
		defer wtMgr.UpdateAgentStatus(wt.Path, worktree.StatusIdle)

		sess, err := sessMgr.CreateSession(task.ID, owner, repo, issue, task.AgentKind, wt.Path, 0)
		if err != nil {
			return err
		}

		if err := disp.Dispatch(ctx, owner, repo, task, wt.Path); err != nil {
			_ = sessMgr.FailSession(sess.ID, err)
			_ = bus.Emit(telemetry.Event{Kind: telemetry.EventTaskFailed, Owner: owner, Repo: repo, Item: issue, TaskID: task.ID, AgentKind: string(task.AgentKind), Message: err.Error()})
			return err
		}
		_ = bus.Emit(telemetry.Event{Kind: telemetry.EventTaskCompleted, Owner: owner, Repo: repo, Item: issue, TaskID: task.ID, AgentKind: string(task.AgentKind)})
		return sessMgr.CompleteSession(sess.ID)
	}
}

func printDAG(result dag.DecomposeResult) error {
	if viper.GetBool("json") {
		env := errs.Success(result, fmt.Sprintf("%d task(s) across %d level(s)", len(result.Tasks), len(result.DAG.Levels)))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	}
	for i, level := range result.DAG.Levels {
		fmt.Printf("level %d: %s\n", i, strings.Join(level, ", "))
	}
	return nil
}
