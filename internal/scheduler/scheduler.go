// Package scheduler implements the Scheduler (C6): it walks a dag.DAG's
// levels group by group, dispatching each level's tasks concurrently under
// a fixed cap via golang.org/x/sync/errgroup, retrying failed tasks with
// backoff, and poisoning dependents once a task's retries are exhausted.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miyabi-dev/miyabi/internal/dag"
	"github.com/miyabi-dev/miyabi/internal/errs"
	"golang.org/x/sync/errgroup"
)

// Dispatch executes one task and reports success or failure. Implemented
// by internal/dispatcher; kept as a function type here so scheduler has no
// import-cycle dependency on the dispatcher package.
type Dispatch func(ctx context.Context, task dag.Task) error

// taskState tracks a task's retry count and poisoned status across groups.
type taskState struct {
	attempts int
	poisoned bool
}

// State is a scheduler's live view over one DAG, including the final
// status of every task after PlayToCompletion.
type State struct {
	d             *dag.DAG
	maxRetries    int
	maxConcurrency int

	mu       sync.Mutex
	statuses map[string]dag.Status
	states   map[string]*taskState
	paused   bool
}

// NewState constructs a scheduler State over d.
func NewState(d *dag.DAG, maxConcurrency, maxRetries int) *State {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	statuses := make(map[string]dag.Status, len(d.Nodes))
	states := make(map[string]*taskState, len(d.Nodes))
	for _, t := range d.Nodes {
		statuses[t.ID] = dag.StatusIdle
		states[t.ID] = &taskState{}
	}
	return &State{d: d, maxRetries: maxRetries, maxConcurrency: maxConcurrency, statuses: statuses, states: states}
}

func byID(d *dag.DAG) map[string]dag.Task {
	m := make(map[string]dag.Task, len(d.Nodes))
	for _, t := range d.Nodes {
		m[t.ID] = t
	}
	return m
}

// GetNextGroup returns the next level whose tasks are all idle or ready
// (none running, none already terminal), sorted by dag.SortLevel's tie-
// breaking rule. Returns nil if no group is currently ready — either
// because an earlier level is still in flight, or because scheduling is
// complete.
func (s *State) GetNextGroup() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := byID(s.d)
	for _, level := range s.d.Levels {
		var anyRunning, anyPending bool
		var ready []string
		for _, id := range level {
			switch s.statuses[id] {
			case dag.StatusCompleted, dag.StatusSkipped, dag.StatusFailed:
				// terminal, continue checking the rest of the level
			case dag.StatusRunning:
				anyRunning = true
			default:
				anyPending = true
				ready = append(ready, id)
			}
		}
		if anyRunning {
			return nil // a running task blocks progression into this level
		}
		if anyPending {
			return dag.SortLevel(ready, nodes)
		}
		// level fully terminal, advance to check the next one
	}
	return nil
}

// StartGroup marks every task in a group as running.
func (s *State) StartGroup(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.statuses[id] = dag.StatusRunning
	}
}

// CompleteGroup marks a single task completed.
func (s *State) CompleteGroup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = dag.StatusCompleted
}

// FailGroup records a task failure. If retries remain (per maxRetries) the
// task is reset to idle for redispatch; otherwise it is marked failed and
// every transitive dependent is marked skipped ("poisoned").
func (s *State) FailGroup(id string, cause error) (retrying bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.states[id]
	st.attempts++
	if st.attempts <= s.maxRetries {
		s.statuses[id] = dag.StatusIdle
		return true
	}

	s.statuses[id] = dag.StatusFailed
	s.poisonDependentsLocked(id)
	return false
}

func (s *State) poisonDependentsLocked(failedID string) {
	children := make(map[string][]string)
	for _, e := range s.d.Edges {
		children[e.From] = append(children[e.From], e.To)
	}

	queue := []string{failedID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range children[cur] {
			if s.statuses[child] == dag.StatusSkipped || s.statuses[child] == dag.StatusCompleted {
				continue
			}
			s.statuses[child] = dag.StatusSkipped
			s.states[child].poisoned = true
			queue = append(queue, child)
		}
	}
}

// GetProgress returns (completed, total, failed, skipped) counts.
func (s *State) GetProgress() (completed, total, failed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total = len(s.statuses)
	for _, st := range s.statuses {
		switch st {
		case dag.StatusCompleted:
			completed++
		case dag.StatusFailed:
			failed++
		case dag.StatusSkipped:
			skipped++
		}
	}
	return
}

// GetEstimatedTimeRemaining sums the durations of every non-terminal task,
// using the critical path among them as a floor.
func (s *State) GetEstimatedTimeRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remaining []dag.Task
	for _, t := range s.d.Nodes {
		switch s.statuses[t.ID] {
		case dag.StatusCompleted, dag.StatusFailed, dag.StatusSkipped:
			continue
		}
		remaining = append(remaining, t)
	}
	if len(remaining) == 0 {
		return 0
	}
	rd := dag.BuildDAG(remaining)
	minutes := dag.CalculateCriticalPath(remaining, rd)
	return time.Duration(minutes) * time.Minute
}

// HasWorkRemaining reports whether any task is not yet terminal.
func (s *State) HasWorkRemaining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		switch st {
		case dag.StatusCompleted, dag.StatusFailed, dag.StatusSkipped:
			continue
		default:
			return true
		}
	}
	return false
}

// CanAcceptWork reports whether the scheduler is not paused and has work.
func (s *State) CanAcceptWork() bool {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	return !paused && s.HasWorkRemaining()
}

// Pause stops GetNextGroup from releasing further groups until Resume.
func (s *State) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables GetNextGroup.
func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// GetFailedGroups returns the IDs of tasks that ended failed (exhausted
// retries), sorted for determinism.
func (s *State) GetFailedGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, st := range s.statuses {
		if st == dag.StatusFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GenerateProgressSummary renders a short human-readable progress line.
func (s *State) GenerateProgressSummary() string {
	completed, total, failed, skipped := s.GetProgress()
	return fmt.Sprintf("%d/%d completed, %d failed, %d skipped", completed, total, failed, skipped)
}

// Run drives the DAG to completion, dispatching each ready group
// concurrently (capped at maxConcurrency via errgroup.SetLimit) and
// retrying/poisoning per FailGroup's rules. It returns once no group is
// ready and no task is running — either all terminal, or paused.
func (s *State) Run(ctx context.Context, dispatch Dispatch) error {
	nodes := byID(s.d)
	for s.CanAcceptWork() {
		group := s.GetNextGroup()
		if len(group) == 0 {
			break
		}
		s.StartGroup(group)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.maxConcurrency)
		for _, id := range group {
			id := id
			g.Go(func() error {
				task := nodes[id]
				err := dispatch(gctx, task)
				if err != nil {
					s.FailGroup(id, err)
					return nil // scheduler-level retry, not a Run-level abort
				}
				s.CompleteGroup(id)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return errs.Wrap(errs.CodeInternal, err, "scheduler group dispatch")
		}
	}
	return nil
}
