// Package worktree implements the Worktree Manager (C3): per-session
// filesystem isolation via native `git worktree`, giving every concurrent
// agent session its own working tree and branch. Branch naming,
// existing-work detection, and an idle sweep round out the lifecycle.
package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miyabi-dev/miyabi/internal/errs"
)

// CommandRunner abstracts process execution, matching
// internal/platform.CommandRunner so tests can fake `git` the same way
// gh_test.go fakes `gh`.
type CommandRunner func(ctx context.Context, name string, args ...string) *exec.Cmd

func defaultRunner(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// Status is a worktree's lifecycle status.
type Status string

const (
	StatusCreating Status = "creating"
	StatusActive   Status = "active"
	StatusIdle     Status = "idle"
	StatusRemoving Status = "removing"
)

// Info describes one managed worktree.
type Info struct {
	Path        string
	Branch      string
	BaseBranch  string
	AgentKind   string
	Owner       string
	Repo        string
	Item        int
	Status      Status
	CreatedAt   time.Time
	LastActiveAt time.Time
}

// ExistingWork is reported when a branch or PR already exists for an item,
// so the Manager can resume instead of re-creating.
type ExistingWork struct {
	BranchExists bool
	Branch       string
	PRExists     bool
	PRNumber     int
}

// branchPattern recognizes branches this manager created, of the form
// agent/<kind>/issue-<n>, so getWorktreesByAgent can classify them without
// consulting the Manager's own bookkeeping.
var branchPattern = func(kind string, item int) string {
	return fmt.Sprintf("agent/%s/issue-%d", strings.ToLower(kind), item)
}

// Manager creates, tracks, and reclaims git worktrees rooted under one
// repository checkout.
type Manager struct {
	repoDir string
	runner  CommandRunner

	mu        sync.Mutex
	worktrees map[string]*Info // keyed by Path
}

// NewManager constructs a Manager operating against the git checkout at
// repoDir.
func NewManager(repoDir string, opts ...Option) *Manager {
	m := &Manager{repoDir: repoDir, runner: defaultRunner, worktrees: make(map[string]*Info)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithRunner overrides the command runner (for tests).
func WithRunner(r CommandRunner) Option {
	return func(m *Manager) { m.runner = r }
}

func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	cmd := m.runner(ctx, "git", append([]string{"-C", m.repoDir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", errs.Wrap(errs.CodeInternal, err, "git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)))
		}
		return "", errs.Wrap(errs.CodeInternal, err, "git %s", strings.Join(args, " "))
	}
	return string(out), nil
}

// DetectExistingWork checks whether a branch or open PR already exists for
// (agentKind, item), so CreateWorktree can resume rather than duplicate
// work.
func (m *Manager) DetectExistingWork(ctx context.Context, agentKind string, item int) (ExistingWork, error) {
	branch := branchPattern(agentKind, item)
	out, err := m.git(ctx, "branch", "--list", branch)
	if err != nil {
		return ExistingWork{}, err
	}
	return ExistingWork{BranchExists: strings.TrimSpace(out) != "", Branch: branch}, nil
}

// CreateWorktree creates (or reuses, if DetectExistingWork reports the
// branch already exists) a worktree at <repoDir>/.worktrees/<branch>,
// branched from baseBranch.
func (m *Manager) CreateWorktree(ctx context.Context, agentKind, owner, repo string, item int, baseBranch string) (*Info, error) {
	branch := branchPattern(agentKind, item)
	path := fmt.Sprintf("%s/.worktrees/%s", m.repoDir, strings.ReplaceAll(branch, "/", "-"))

	existing, err := m.DetectExistingWork(ctx, agentKind, item)
	if err != nil {
		return nil, err
	}

	var gitErr error
	if existing.BranchExists {
		_, gitErr = m.git(ctx, "worktree", "add", path, branch)
	} else {
		_, gitErr = m.git(ctx, "worktree", "add", "-b", branch, path, baseBranch)
	}
	if gitErr != nil {
		return nil, gitErr
	}

	now := time.Now().UTC()
	info := &Info{
		Path: path, Branch: branch, BaseBranch: baseBranch,
		AgentKind: agentKind, Owner: owner, Repo: repo, Item: item,
		Status: StatusActive, CreatedAt: now, LastActiveAt: now,
	}
	m.mu.Lock()
	m.worktrees[path] = info
	m.mu.Unlock()
	return info, nil
}

// RemoveWorktree removes the worktree and, if removeBranch is set, its
// backing branch.
func (m *Manager) RemoveWorktree(ctx context.Context, path string, removeBranch bool) error {
	m.mu.Lock()
	info, ok := m.worktrees[path]
	if ok {
		info.Status = StatusRemoving
	}
	m.mu.Unlock()

	if _, err := m.git(ctx, "worktree", "remove", "--force", path); err != nil {
		return err
	}
	if removeBranch && ok {
		if _, err := m.git(ctx, "branch", "-D", info.Branch); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.worktrees, path)
	m.mu.Unlock()
	return nil
}

// UpdateAgentStatus records that a worktree is now idle or active again,
// used by the scheduler when a dispatched task completes or is reclaimed.
func (m *Manager) UpdateAgentStatus(path string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.worktrees[path]; ok {
		info.Status = status
		info.LastActiveAt = time.Now().UTC()
	}
}

// GetWorktreesByAgent returns the worktrees currently tracked for the
// given agent kind and status, sorted by Item for determinism.
func (m *Manager) GetWorktreesByAgent(agentKind string, status Status) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Info
	for _, info := range m.worktrees {
		if info.AgentKind == agentKind && info.Status == status {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Statistics summarizes the worktrees a Manager currently tracks.
type Statistics struct {
	Total   int
	Active  int
	Idle    int
	ByAgent map[string]int
}

// GetStatistics summarizes tracked worktrees by status and agent kind.
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{ByAgent: make(map[string]int)}
	for _, info := range m.worktrees {
		stats.Total++
		switch info.Status {
		case StatusActive:
			stats.Active++
		case StatusIdle:
			stats.Idle++
		}
		stats.ByAgent[info.AgentKind]++
	}
	return stats
}

// SweepIdle removes worktrees that have been idle longer than maxIdle,
// returning the paths removed. Intended to run periodically from the
// supervisor loop.
func (m *Manager) SweepIdle(ctx context.Context, maxIdle time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-maxIdle)

	m.mu.Lock()
	var stale []string
	for path, info := range m.worktrees {
		if info.Status == StatusIdle && info.LastActiveAt.Before(cutoff) {
			stale = append(stale, path)
		}
	}
	m.mu.Unlock()

	sort.Strings(stale)
	var removed []string
	for _, path := range stale {
		if err := m.RemoveWorktree(ctx, path, false); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// itemFromBranch parses the issue number out of a branch produced by
// branchPattern, e.g. agent/codegen/issue-42 -> (codegen, 42, true).
func itemFromBranch(branch string) (kind string, item int, ok bool) {
	parts := strings.Split(branch, "/")
	if len(parts) != 3 || parts[0] != "agent" || !strings.HasPrefix(parts[2], "issue-") {
		return "", 0, false
	}
	n, err := fmt.Sscanf(parts[2], "issue-%d", &item)
	if err != nil || n != 1 {
		return "", 0, false
	}
	return parts[1], item, true
}

// ListFromGit reads ground truth from `git worktree list --porcelain`
// rather than the Manager's in-memory bookkeeping, so a freshly started
// CLI process (e.g. `miyabi status`) can report on worktrees created by a
// prior process.
func (m *Manager) ListFromGit(ctx context.Context) ([]Info, error) {
	out, err := m.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var infos []Info
	var cur Info
	flush := func() {
		if cur.Path != "" {
			infos = append(infos, cur)
		}
		cur = Info{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			cur.Branch = branch
			if kind, item, ok := itemFromBranch(branch); ok {
				cur.AgentKind = kind
				cur.Item = item
				cur.Status = StatusActive
			}
		}
	}
	flush()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// CleanupAll force-removes every tracked worktree, used on shutdown.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	var paths []string
	for path := range m.worktrees {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		if err := m.RemoveWorktree(ctx, path, false); err != nil {
			return err
		}
	}
	return nil
}
