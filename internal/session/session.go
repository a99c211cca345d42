// Package session implements the Session Manager (C4): the lifecycle
// around one agent's execution inside a worktree, from rendering the
// execution context an agent reads on startup through completion,
// failure, and timeout reclamation.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/miyabi-dev/miyabi/internal/memory"
	"github.com/miyabi-dev/miyabi/internal/statemachine"
	"github.com/miyabi-dev/miyabi/internal/template"
)

// Status is a session's lifecycle status.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Session is one agent's execution against one work item, scoped to a
// single worktree.
type Session struct {
	ID          string
	Owner       string
	Repo        string
	Item        int
	AgentKind   statemachine.AgentKind
	WorktreePath string
	Status      Status
	StartedAt   time.Time
	EndedAt     time.Time
	Timeout     time.Duration
	Error       string
}

// contextFile is the filename an agent reads on startup.
const contextFile = ".agent-context.json"

// plansFile carries the human-readable execution plan alongside the
// machine-readable context file.
const plansFile = "plans.md"

// planTemplate renders plans.md via internal/template's Mustache-style
// substitution, so a custom Metadata value (e.g. {{packagePath}} on a
// monorepo task) can be referenced from the plan the same way it's
// referenced from an agent's own prompt.
const planTemplate = "# Execution Plan\n\n" +
	"- Item: {{owner}}/{{repo}}#{{item}}\n" +
	"- Agent: {{agentKind}}\n" +
	"- Branch: {{branch}}\n" +
	"- Title: {{title}}\n"

// ExecutionContext is the machine-readable payload rendered into
// .agent-context.json before a session starts, giving the agent adapter
// everything it needs without re-querying the platform gateway.
type ExecutionContext struct {
	SessionID   string            `json:"sessionId"`
	Owner       string            `json:"owner"`
	Repo        string            `json:"repo"`
	Item        int               `json:"item"`
	Title       string            `json:"title"`
	AgentKind   string            `json:"agentKind"`
	Branch      string            `json:"branch"`
	MemoryNotes string            `json:"memoryNotes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Render writes .agent-context.json and plans.md into worktreePath.
func (ec ExecutionContext) Render(worktreePath string) error {
	data, err := json.MarshalIndent(ec, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "marshaling execution context")
	}
	if err := os.WriteFile(filepath.Join(worktreePath, contextFile), data, 0o600); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "writing %s", contextFile)
	}

	vars := template.MergeVariables(map[string]string{
		"owner":     ec.Owner,
		"repo":      ec.Repo,
		"item":      fmt.Sprintf("%d", ec.Item),
		"agentKind": ec.AgentKind,
		"branch":    ec.Branch,
		"title":     ec.Title,
	}, ec.Metadata)
	plan := template.RenderPrompt(planTemplate, vars)
	if ec.MemoryNotes != "" {
		plan += "\n## Prior Iteration Notes\n\n" + ec.MemoryNotes
	}
	if err := os.WriteFile(filepath.Join(worktreePath, plansFile), []byte(plan), 0o600); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "writing %s", plansFile)
	}
	return nil
}

// Manager tracks in-flight sessions and enforces the concurrency cap.
type Manager struct {
	maxConcurrent int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager allowing at most maxConcurrent
// simultaneously running sessions.
func NewManager(maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{maxConcurrent: maxConcurrent, sessions: make(map[string]*Session)}
}

func (m *Manager) runningCountLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.Status == StatusRunning {
			n++
		}
	}
	return n
}

// CreateSession registers a new running session, rejecting it with
// CodeInternal if the concurrency cap is already reached — callers should
// check CanAcceptWork first, but CreateSession re-validates so callers
// racing against concurrent completions never exceed the cap.
func (m *Manager) CreateSession(id, owner, repo string, item int, kind statemachine.AgentKind, worktreePath string, timeout time.Duration) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningCountLocked() >= m.maxConcurrent {
		return nil, errs.New(errs.CodeInternal, "max concurrent sessions (%d) reached", m.maxConcurrent)
	}

	s := &Session{
		ID: id, Owner: owner, Repo: repo, Item: item, AgentKind: kind,
		WorktreePath: worktreePath, Status: StatusRunning,
		StartedAt: time.Now().UTC(), Timeout: timeout,
	}
	m.sessions[id] = s
	return s, nil
}

// CanAcceptWork reports whether a new session could be created right now.
func (m *Manager) CanAcceptWork() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningCountLocked() < m.maxConcurrent
}

// CompleteSession marks a session completed.
func (m *Manager) CompleteSession(id string) error {
	return m.end(id, StatusCompleted, "")
}

// FailSession marks a session failed with the given error message.
func (m *Manager) FailSession(id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.end(id, StatusFailed, msg)
}

func (m *Manager) end(id string, status Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return errs.New(errs.CodeInternal, "unknown session %s", id)
	}
	s.Status = status
	s.Error = errMsg
	s.EndedAt = time.Now().UTC()
	return nil
}

// CheckTimeouts scans running sessions and marks any that have exceeded
// their Timeout as StatusTimedOut, returning their IDs.
func (m *Manager) CheckTimeouts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var timedOut []string
	for id, s := range m.sessions {
		if s.Status != StatusRunning {
			continue
		}
		if s.Timeout > 0 && now.Sub(s.StartedAt) > s.Timeout {
			s.Status = StatusTimedOut
			s.EndedAt = now
			s.Error = "session exceeded timeout"
			timedOut = append(timedOut, id)
		}
	}
	return timedOut
}

// Get returns a tracked session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	copy := *s
	return &copy, true
}

// CleanupAll drops all session bookkeeping, used on shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}

// Statistics summarizes tracked sessions by status.
type Statistics struct {
	Running   int
	Completed int
	Failed    int
	TimedOut  int
}

// GetStatistics summarizes session status counts.
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Statistics
	for _, s := range m.sessions {
		switch s.Status {
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusTimedOut:
			stats.TimedOut++
		}
	}
	return stats
}

// SummarizeMemory renders a store's accumulated signals for taskID into
// the Markdown notes embedded in ExecutionContext, adapting
// internal/memory.Store as the context summarizer func SummarizeMemory(store *memory.Store, taskID string) string {
	return store.BuildContext(taskID)
}
