// Package dispatcher implements the Agent Dispatcher (C8): it resolves a
// dag.Task's agent kind to a registered agent.Agent adapter, builds and
// runs that adapter's command inside the task's worktree as a plain
// subprocess, parses its structured output, persists results to the
// artifact store, and emits an audit event for the dispatch.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/miyabi-dev/miyabi/internal/agent"
	"github.com/miyabi-dev/miyabi/internal/artifact"
	"github.com/miyabi-dev/miyabi/internal/audit"
	"github.com/miyabi-dev/miyabi/internal/dag"
	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/observability"
	"github.com/miyabi-dev/miyabi/internal/platform"
	"github.com/miyabi-dev/miyabi/internal/routing"
	"github.com/miyabi-dev/miyabi/internal/scanner"
	"github.com/miyabi-dev/miyabi/internal/scope"
	"github.com/miyabi-dev/miyabi/internal/security"
	"github.com/miyabi-dev/miyabi/internal/skills"
	"github.com/miyabi-dev/miyabi/internal/statemachine"
)

// commandValidator gates every subprocess command the Dispatcher runs, so
// an agent adapter's generated command line (or the fixed test/PR
// commands below) can't smuggle shell metacharacters into exec.Command
// even though it never touches an actual shell.
var commandValidator = security.NewCommandValidator()

// skillSelector composes the phase-relevant subset of the embedded skill
// library (internal/skills) into session.IterationContext.SkillsPrompt, so
// an agent invoked for e.g. the CodeGen phase gets the implement/test
// skills prepended to its prompt rather than only the safety/environment
// skills that apply everywhere. A manifest or skill file failing to parse
// degrades to an empty selector rather than failing dispatch: skills are a
// prompt enrichment, not a precondition for running an agent.
var skillSelector = newSkillSelector()

func newSkillSelector() *skills.Selector {
	manifest, err := skills.LoadManifest()
	if err != nil {
		return skills.NewSelector(nil)
	}
	loaded, err := skills.LoadSkills(manifest)
	if err != nil {
		return skills.NewSelector(nil)
	}
	return skills.NewSelector(loaded)
}

// Verdict is the outcome a Review agent reports for one task.
type Verdict string

const (
	VerdictAdvance Verdict = "ADVANCE"
	VerdictIterate Verdict = "ITERATE"
	VerdictBlocked Verdict = "BLOCKED"
)

// verdictPattern matches the structured signal line a Review agent emits
// to report its verdict.
var verdictPattern = regexp.MustCompile(`(?m)^MIYABI_VERDICT:[ \t]+(ADVANCE|ITERATE|BLOCKED)[ \t]*(.*)$`)

// Runner abstracts subprocess execution, matching the CommandRunner shape
// used throughout the rest of the module.
type Runner func(ctx context.Context, dir string, env []string, name string, args ...string) *exec.Cmd

func defaultRunner(ctx context.Context, dir string, env []string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd
}

// Dispatcher wires a dag.Task to a registered agent.Agent adapter and
// executes it.
type Dispatcher struct {
	gateway platform.Gateway
	store   *artifact.Store
	runner  Runner
	project *scanner.ProjectInfo
	router  *routing.Router
	tracer  observability.Tracer
}

// New constructs a Dispatcher.
func New(gateway platform.Gateway, store *artifact.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{gateway: gateway, store: store, runner: defaultRunner, router: routing.NewRouter(nil), tracer: &observability.NoOpTracer{}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRunner overrides the subprocess runner (for tests).
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) { d.runner = r }
}

// WithProject supplies the build/test/lint commands `miyabi init`
// detected for the repository, so the Test agent kind can run the real
// test command instead of a structured no-op.
func WithProject(info *scanner.ProjectInfo) Option {
	return func(d *Dispatcher) { d.project = info }
}

// WithRouter supplies a phase-to-adapter/model router built from
// config.Config.Routing, so a project can pin a different adapter or
// model per agent kind (e.g. a cheaper model for Issue analysis, a
// stronger one for Review) instead of the fixed claude-code default.
func WithRouter(r *routing.Router) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.router = r
		}
	}
}

// WithTracer supplies a Langfuse tracer so each dispatched task's phase and
// generation are exported for trace inspection. Dispatchers default to
// observability.NoOpTracer when Langfuse credentials aren't configured.
func WithTracer(t observability.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// binaryNameFor maps a registered agent.Agent name to the CLI binary that
// BuildCommand's arguments (which carry no binary name of their own,
// having been designed for a container ENTRYPOINT) should be run under.
func binaryNameFor(adapterName string) string {
	switch adapterName {
	case "claude-code":
		return "claude"
	default:
		return adapterName
	}
}

// adapterNameFor maps an agent kind to the registered agent.Agent name.
// Deploy and Test have no teacher-provided adapter; Dispatch handles them
// as structured no-ops per the Open Question decision recorded in
// DESIGN.md (their contracts are frozen, not yet backed by a real
// deployment/test runner).
func adapterNameFor(kind statemachine.AgentKind) (string, bool) {
	switch kind {
	case statemachine.AgentCodeGen:
		return "claude-code", true
	case statemachine.AgentReview:
		return "claude-code", true
	case statemachine.AgentIssue:
		return "claude-code", true
	default:
		return "", false
	}
}

// Dispatch runs one task: Issue.analyze, CodeGen.generate, Review.review,
// PR.create (with precondition checks against prior artifacts),
// Coordinator.execute, and structured no-ops for Deploy/Test.
func (d *Dispatcher) Dispatch(ctx context.Context, owner, repo string, task dag.Task, worktreePath string) error {
	switch task.AgentKind {
	case statemachine.AgentPR:
		return d.dispatchPR(ctx, owner, repo, task)
	case statemachine.AgentDeploy:
		return d.store.Save(owner, repo, itemNumber(task), artifact.KindTestLog, map[string]string{"status": "skipped", "reason": "deploy agent kind is a structured no-op"})
	case statemachine.AgentTest:
		return d.dispatchTest(ctx, owner, repo, task, worktreePath)
	default:
		return d.dispatchAgent(ctx, owner, repo, task, worktreePath)
	}
}

func itemNumber(task dag.Task) int {
	n := 0
	fmt.Sscanf(task.Metadata["issue"], "%d", &n)
	return n
}

func (d *Dispatcher) dispatchAgent(ctx context.Context, owner, repo string, task dag.Task, worktreePath string) error {
	name, ok := adapterNameFor(task.AgentKind)
	if !ok {
		return errs.New(errs.CodeValidation, "no agent adapter registered for kind %s", task.AgentKind)
	}

	phase := strings.ToUpper(string(task.AgentKind))
	model := d.router.ModelForPhase(phase)
	if model.Adapter != "" {
		name = model.Adapter
	}

	a, err := agent.Get(name)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "resolving agent adapter %s", name)
	}

	session := &agent.Session{
		ID:          task.ID,
		Repository:  fmt.Sprintf("%s/%s", owner, repo),
		WorkDir:     worktreePath,
		ActiveTask:  fmt.Sprintf("%d", itemNumber(task)),
		PackagePath: task.PackagePath,
	}
	skillsPrompt := skillSelector.SelectForPhase(phase)
	if model.Model != "" || skillsPrompt != "" {
		session.IterationContext = &agent.IterationContext{Phase: phase, ModelOverride: model.Model, SkillsPrompt: skillsPrompt}
	}

	envMap := a.BuildEnv(session, 1)
	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cmdArgs := a.BuildCommand(session, 1)
	if len(cmdArgs) == 0 {
		return errs.New(errs.CodeInternal, "agent %s produced an empty command", name)
	}
	// Only the binary itself is checked against the allowlist: cmdArgs,
	// including the agent prompt, reach exec.Command's argv directly
	// (never a shell), so injection-pattern scanning would do nothing but
	// reject legitimate prompts containing code with pipes or semicolons.
	binary := binaryNameFor(name)
	if err := commandValidator.ValidateCommand(binary, nil); err != nil {
		return errs.Wrap(errs.CodeValidation, err, "validating agent %s command", name)
	}

	trace := d.tracer.StartTrace(task.ID, observability.TraceOptions{
		Workflow: string(task.AgentKind), Repository: fmt.Sprintf("%s/%s", owner, repo), SessionID: task.ID,
	})
	span := d.tracer.StartPhase(trace, phase, observability.SpanOptions{Iteration: 1, MaxIterations: 1})
	started := time.Now()

	cmd := d.runner(ctx, worktreePath, env, binary, cmdArgs...)
	var prompt string
	if sp, ok := a.(agent.StdinPromptProvider); ok {
		if p := sp.GetStdinPrompt(session, 1); p != "" {
			prompt = p
			cmd.Stdin = strings.NewReader(p)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	durationMs := time.Since(started).Milliseconds()
	exitCode := 0
	if runErr != nil {
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			d.tracer.RecordGeneration(span, observability.GenerationInput{Name: name, Model: model.Model, Input: prompt, Status: "error", DurationMs: durationMs})
			d.tracer.EndPhase(span, "error", durationMs)
			d.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: "failed"})
			return errs.Wrap(errs.CodeAgentExecutionFailed, runErr, "running agent %s", name)
		}
	}

	genStatus := "completed"
	if exitCode != 0 {
		genStatus = "error"
	}
	d.tracer.RecordGeneration(span, observability.GenerationInput{
		Name: name, Model: model.Model, Input: prompt, Output: stdout.String(), Status: genStatus, DurationMs: durationMs,
	})
	d.tracer.EndPhase(span, genStatus, durationMs)

	result, parseErr := a.ParseOutput(exitCode, stdout.String(), stderr.String())
	if parseErr != nil {
		d.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: "failed"})
		return errs.Wrap(errs.CodeAgentExecutionFailed, parseErr, "parsing agent %s output", name)
	}
	if !result.Success {
		d.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: "failed"})
		return errs.New(errs.CodeAgentExecutionFailed, "agent %s reported failure: %s", name, result.Error).
			WithDetails(map[string]any{"exitCode": exitCode})
	}
	d.tracer.CompleteTrace(trace, observability.CompleteOptions{Status: "completed"})

	if task.PackagePath != "" {
		validator := scope.NewValidator(worktreePath, task.PackagePath)
		scopeResult, scopeErr := validator.ValidateChanges()
		if scopeErr != nil {
			return errs.Wrap(errs.CodeAgentExecutionFailed, scopeErr, "validating package scope for agent %s", name)
		}
		if !scopeResult.Valid {
			// Revert the agent's out-of-scope edits so the worktree isn't left
			// dirty for the next task dispatched against it; the scope
			// violation itself is still reported as a failure.
			if resetErr := validator.ResetChanges(); resetErr != nil {
				return errs.Wrap(errs.CodeAgentExecutionFailed, resetErr, "reverting out-of-scope changes from agent %s", name)
			}
			return errs.New(errs.CodeAgentExecutionFailed, "%s", validator.FormatViolationError(scopeResult)).
				WithDetails(map[string]any{"outOfScope": scopeResult.OutOfScopeFiles})
		}
	}

	kind := kindForTask(task)
	if err := d.store.Save(owner, repo, itemNumber(task), kind, result); err != nil {
		return err
	}

	var auditEvents []audit.Event
	if name == "codex" {
		auditEvents = audit.ExtractFromCodexOutput(result.Events, name, task.ID)
	} else {
		auditEvents = audit.ExtractFromClaudeCode(result.Events, name, task.ID)
	}
	if len(auditEvents) > 0 {
		if err := d.store.Save(owner, repo, itemNumber(task), artifact.KindAuditLog, auditEvents); err != nil {
			return err
		}
	}

	if task.AgentKind == statemachine.AgentReview {
		verdict, feedback := parseVerdict(result.RawTextContent)
		return d.store.Save(owner, repo, itemNumber(task), artifact.KindReview, map[string]string{
			"verdict": string(verdict), "feedback": feedback,
		})
	}
	return nil
}

func kindForTask(task dag.Task) artifact.Kind {
	switch task.AgentKind {
	case statemachine.AgentIssue:
		return artifact.KindAnalysis
	case statemachine.AgentCodeGen:
		return artifact.KindDiff
	case statemachine.AgentReview:
		return artifact.KindReview
	default:
		return artifact.KindPlan
	}
}

// parseVerdict extracts a review verdict from agent output, defaulting to
// ITERATE (fail closed, not ADVANCE) when no structured signal is found.
func parseVerdict(output string) (Verdict, string) {
	m := verdictPattern.FindStringSubmatch(output)
	if m == nil {
		return VerdictIterate, "no MIYABI_VERDICT signal found in agent output"
	}
	return Verdict(m[1]), strings.TrimSpace(m[2])
}

// dispatchTest runs the test command `miyabi init`/`refresh` detected via
// internal/scanner in worktreePath. With no detected project info (a
// dispatch that never ran init, or a language scanner.New found no build
// system for), it falls back to a structured no-op rather than guessing
// at a command.
func (d *Dispatcher) dispatchTest(ctx context.Context, owner, repo string, task dag.Task, worktreePath string) error {
	cmdline, ok := d.project.FirstTestCommand(task.PackagePath)
	if !ok {
		return d.store.Save(owner, repo, itemNumber(task), artifact.KindTestLog, map[string]string{"status": "skipped", "reason": "no test command detected for this project"})
	}

	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return d.store.Save(owner, repo, itemNumber(task), artifact.KindTestLog, map[string]string{"status": "skipped", "reason": "detected test command was empty"})
	}

	var stdout, stderr bytes.Buffer
	cmd := d.runner(ctx, worktreePath, nil, parts[0], parts[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	status := "passed"
	if runErr != nil {
		status = "failed"
	}

	return d.store.Save(owner, repo, itemNumber(task), artifact.KindTestLog, map[string]string{
		"status":  status,
		"command": cmdline,
		"stdout":  stdout.String(),
		"stderr":  stderr.String(),
	})
}

// dispatchPR enforces the PR agent's preconditions — a CodeGen diff
// artifact and, if a review task ran, an ADVANCE verdict — before creating
// the pull request via the platform gateway.
func (d *Dispatcher) dispatchPR(ctx context.Context, owner, repo string, task dag.Task) error {
	item := itemNumber(task)

	if !d.store.Has(owner, repo, item, artifact.KindDiff) {
		return errs.New(errs.CodePreconditionMissing, "PR dispatch for %s/%s#%d missing a CodeGen diff artifact", owner, repo, item).
			WithDetails(map[string]any{"kind": string(artifact.KindDiff)})
	}

	if d.store.Has(owner, repo, item, artifact.KindReview) {
		var review map[string]string
		if err := d.store.Load(owner, repo, item, artifact.KindReview, &review); err != nil {
			return err
		}
		if review["verdict"] != string(VerdictAdvance) {
			return errs.New(errs.CodePreconditionMissing, "PR dispatch for %s/%s#%d blocked: review verdict is %s, not ADVANCE", owner, repo, item, review["verdict"])
		}
	}

	branch := fmt.Sprintf("agent/codegen/issue-%d", item)
	if err := commandValidator.ValidateGitRef(branch); err != nil {
		return errs.Wrap(errs.CodeValidation, err, "validating PR branch name")
	}
	title := task.Title
	body := fmt.Sprintf("Automated PR for %s/%s#%d\n\nGenerated %s.", owner, repo, item, time.Now().UTC().Format(time.RFC3339))

	num, url, err := d.gateway.CreatePR(ctx, owner, repo, title, body, branch, "main")
	if err != nil {
		return err
	}
	return d.store.Save(owner, repo, item, artifact.KindPlan, map[string]any{"prNumber": num, "prURL": url})
}
