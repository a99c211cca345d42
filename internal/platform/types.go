// Package platform implements the Platform Gateway (C1): a narrow, typed
// interface over the hosting platform's issues, labels, pull requests, and
// comments. The hosting-platform's own REST/GraphQL surface is treated as
// an external collaborator reached only through the `gh` CLI; this
// package's Gateway interface is the seam a native client could be
// swapped in behind without touching any caller.
package platform

import "time"

// WorkItem is an immutable per-scan snapshot of one issue or PR, identified
// by (owner, repo, number). Mutation only ever happens through Gateway
// methods, never by editing a WorkItem in place.
type WorkItem struct {
	Owner     string
	Repo      string
	Number    int
	Title     string
	Body      string
	State     string // "open" or "closed"
	Labels    []Label
	Assignee  string
	CreatedAt time.Time
	UpdatedAt time.Time
	URL       string
}

// Label is a single label name. Facet partitioning (state/type/priority/
// agent/phase) is interpreted by internal/statemachine, not here — the
// Gateway only knows label strings.
type Label struct {
	Name string
}

// PullRequest is a typed record for a pull request, so nothing upstream
// of the Gateway sees raw JSON.
type PullRequest struct {
	Number      int
	Title       string
	HeadRefName string
	State       string
	URL         string
	Files       []string
}

// Milestone is a typed record for a milestone.
type Milestone struct {
	Number int
	Title  string
}

// RateLimit exposes remaining calls and the reset time for the platform's
// rate-limit window.
type RateLimit struct {
	Remaining int
	Limit     int
	Reset     time.Time
}

// Comment is a single issue or PR comment.
type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}
