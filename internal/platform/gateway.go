package platform

import (
	"context"

	"github.com/miyabi-dev/miyabi/internal/errs"
)

// Gateway is the narrow interface every core component depends on. The
// hosting-platform's semantics stop here: callers never see raw JSON,
// never shell out themselves, and never retry on their own.
type Gateway interface {
	// ListOpenItems lists open work items for a repo, paginated internally.
	ListOpenItems(ctx context.Context, owner, repo string) ([]WorkItem, error)

	// GetItem fetches a single work item by number. A not-found result is
	// (nil, nil) — not an error.
	GetItem(ctx context.Context, owner, repo string, number int) (*WorkItem, error)

	// ListPRFiles lists the changed file paths for a pull request.
	ListPRFiles(ctx context.Context, owner, repo string, number int) ([]string, error)

	// ListOpenPRs lists open pull requests for a repo.
	ListOpenPRs(ctx context.Context, owner, repo string) ([]PullRequest, error)

	// ListComments lists comments on an item (issue or PR).
	ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)

	// CreateIssue files a new issue and returns its number.
	CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (int, error)

	// ReplaceStateLabel atomically removes the current state label (if any)
	// and adds newLabel in one batch.
	ReplaceStateLabel(ctx context.Context, owner, repo string, number int, oldLabel, newLabel string) error

	// UpdateLabels performs an atomic set/replace of the full label set.
	UpdateLabels(ctx context.Context, owner, repo string, number int, labels []string) error

	// CreatePR opens a pull request and returns its number and URL.
	CreatePR(ctx context.Context, owner, repo, title, body, head, base string) (number int, url string, err error)

	// PostComment posts a comment on an issue or PR.
	PostComment(ctx context.Context, owner, repo string, number int, body string) error

	// CreateMilestone creates a milestone and returns its number.
	CreateMilestone(ctx context.Context, owner, repo, title string) (int, error)

	// RateLimitStatus reports the current rate-limit window.
	RateLimitStatus(ctx context.Context) (RateLimit, error)
}

// ErrRateLimit constructs a RATE_LIMIT error carrying the reset time: the
// call fails with a distinguished rate-limit error rather than retrying
// when the backoff sleep would exceed the deadline.
func ErrRateLimit(reset RateLimit) *errs.Error {
	return errs.New(errs.CodeRateLimit, "platform rate limit exhausted, resets at %s", reset.Reset).
		WithDetails(map[string]any{"remaining": reset.Remaining, "limit": reset.Limit, "reset": reset.Reset})
}
