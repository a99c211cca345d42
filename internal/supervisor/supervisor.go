// Package supervisor implements the Supervisor (C9): a single-threaded
// "water-spider" loop that repeatedly scans open work items across a set
// of repositories, computes a priority for each ready item, and dispatches
// the single highest-priority item before sleeping and scanning again,
// bounded by a configurable interval and max duration.
package supervisor

import (
	"context"
	"sort"
	"time"

	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/platform"
	"github.com/miyabi-dev/miyabi/internal/scanner"
	"github.com/miyabi-dev/miyabi/internal/statemachine"
)

// DecisionKind tags what the loop chose to do on one tick.
type DecisionKind string

const (
	DecisionExecute  DecisionKind = "execute"
	DecisionSkip     DecisionKind = "skip"
	DecisionNotReady DecisionKind = "not_ready"
)

// Decision is the tagged-variant outcome of one scan/decide pass.
type Decision struct {
	Kind  DecisionKind
	Owner string
	Repo  string
	Item  int
	State statemachine.State
	Priority int
	Reason string
}

// Executor runs the chosen item to completion (decomposition, scheduling,
// dispatch); the supervisor package stays agnostic of how that happens, so
// it can be wired to either a live dispatcher or a dry-run no-op.
type Executor func(ctx context.Context, d Decision) error

// Config bounds one supervisor run.
type Config struct {
	Repos         []Repo
	Interval      time.Duration
	MaxDuration   time.Duration
	ScanTodos     bool
	TodoScanRoot  string
	DryRun        bool
}

// Repo identifies a repository the supervisor watches.
type Repo struct {
	Owner string
	Repo  string
}

// priorityLabelWeight maps a priority:* label to a numeric weight, lower
// is more urgent.
var priorityLabelWeight = map[string]int{
	"priority:P0-Critical": 0,
	"priority:P1-High":     1,
	"priority:P2-Medium":   2,
	"priority:P3-Low":      3,
}

// computePriority derives a numeric priority for one item: explicit
// priority label weight, falling back to the item's age in days (older
// first) as a tiebreaker.
func computePriority(item platform.WorkItem) int {
	weight := 4
	for _, l := range item.Labels {
		if w, ok := priorityLabelWeight[l.Name]; ok {
			weight = w
			break
		}
	}
	ageDays := int(time.Since(item.CreatedAt).Hours() / 24)
	return weight*1000 - ageDays
}

// Loop runs the water-spider scan/decide/dispatch cycle until ctx is
// cancelled, MaxDuration elapses, or stop is requested via the returned
// cancel semantics (callers cancel ctx to stop cooperatively).
type Loop struct {
	gateway  platform.Gateway
	machine  *statemachine.Machine
	executor Executor
	cfg      Config
}

// New constructs a Loop.
func New(gateway platform.Gateway, executor Executor, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Loop{gateway: gateway, machine: statemachine.NewMachine(), executor: executor, cfg: cfg}
}

// Run drives the loop until ctx is cancelled or MaxDuration elapses.
func (l *Loop) Run(ctx context.Context) error {
	deadline := time.Time{}
	if l.cfg.MaxDuration > 0 {
		deadline = time.Now().Add(l.cfg.MaxDuration)
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	if err := l.tick(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				return nil
			}
			if err := l.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick performs one scan/decide/dispatch pass across every configured repo.
func (l *Loop) tick(ctx context.Context) error {
	decision, err := l.Decide(ctx)
	if err != nil {
		return err
	}
	if decision.Kind != DecisionExecute {
		return nil
	}
	if l.cfg.ScanTodos {
		if _, err := scanner.New(l.cfg.TodoScanRoot).ScanTodos(); err != nil {
			return errs.Wrap(errs.CodeInternal, err, "scanning for TODO markers")
		}
	}
	if l.cfg.DryRun {
		return nil
	}
	return l.executor(ctx, decision)
}

// Decide scans every configured repo's open items, computes each one's
// priority, and returns the single highest-priority dispatchable decision
// — or a NotReady/Skip decision if nothing is currently dispatchable.
func (l *Loop) Decide(ctx context.Context) (Decision, error) {
	var candidates []Decision

	for _, r := range l.cfg.Repos {
		items, err := l.gateway.ListOpenItems(ctx, r.Owner, r.Repo)
		if err != nil {
			return Decision{}, err
		}
		for _, item := range items {
			state, hasState := statemachine.ParseStateLabel(labelNames(item.Labels))
			if !hasState {
				state = statemachine.StatePending
			}
			if state == statemachine.StateDone || state == statemachine.StateBlocked || state == statemachine.StatePaused {
				continue
			}
			if _, ok := statemachine.NextAgentFor(state); !ok {
				continue
			}
			candidates = append(candidates, Decision{
				Kind: DecisionExecute, Owner: r.Owner, Repo: r.Repo, Item: item.Number,
				State: state, Priority: computePriority(item),
			})
		}
	}

	if len(candidates) == 0 {
		return Decision{Kind: DecisionNotReady, Reason: "no dispatchable items across configured repositories"}, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })
	return candidates[0], nil
}

func labelNames(labels []platform.Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}
