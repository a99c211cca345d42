package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/miyabi-dev/miyabi/internal/errs"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// CommandRunner abstracts process execution so tests can inject a fake
// `gh`/`git` without touching the real CLI.
type CommandRunner func(ctx context.Context, name string, args ...string) *exec.Cmd

func defaultRunner(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// GHGateway implements Gateway by shelling out to the `gh` CLI, per the
// teacher's established pattern (internal/controller/issues.go,
// dependencies.go, comments.go, draft_pr.go all do this ad hoc; this
// package centralizes it behind the one narrow interface).
type GHGateway struct {
	token    string
	runner   CommandRunner
	cache    *lruCache
	retry    RetryConfig
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// GHGatewayOption configures a GHGateway.
type GHGatewayOption func(*GHGateway)

// WithRunner overrides the command runner (for tests).
func WithRunner(r CommandRunner) GHGatewayOption {
	return func(g *GHGateway) { g.runner = r }
}

// WithRetryConfig overrides the retry backoff schedule.
func WithRetryConfig(rc RetryConfig) GHGatewayOption {
	return func(g *GHGateway) { g.retry = rc }
}

// WithRateLimit overrides the client-side pacing budget (requests/sec, burst).
func WithRateLimit(rps float64, burst int) GHGatewayOption {
	return func(g *GHGateway) { g.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewGHGateway constructs a Gateway backed by the `gh` CLI, authenticated
// via the given token.
func NewGHGateway(token string, opts ...GHGatewayOption) *GHGateway {
	g := &GHGateway{
		token:   token,
		runner:  defaultRunner,
		cache:   newLRUCache(defaultCacheCapacity, defaultCacheTTL),
		retry:   DefaultRetryConfig(),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gh-gateway",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GHGateway) env() []string {
	env := os.Environ()
	if g.token != "" {
		env = append(env, "GITHUB_TOKEN="+g.token)
	}
	return env
}

// run executes name with args, tracing through the rate limiter, circuit
// breaker, and retry-with-backoff wrapper, returning stdout bytes.
func (g *GHGateway) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, g.retry, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := g.breaker.Execute(func() (any, error) {
			cmd := g.runner(ctx, name, args...)
			cmd.Env = g.env()
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			runErr := cmd.Run()
			if runErr != nil {
				if isRateLimited(stderr.String()) {
					reset := time.Now().Add(1 * time.Minute)
					return nil, ErrRateLimit(RateLimit{Remaining: 0, Reset: reset})
				}
				if strings.Contains(strings.ToLower(stderr.String()), "authentication") ||
					strings.Contains(strings.ToLower(stderr.String()), "unauthorized") ||
					strings.Contains(strings.ToLower(stderr.String()), "forbidden") {
					return nil, errs.New(errs.CodeAuth, "gh %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())).
						WithSuggestion("re-authenticate with `gh auth login` or refresh the platform token")
				}
				return nil, fmt.Errorf("gh %s: %w (%s)", strings.Join(args, " "), runErr, strings.TrimSpace(stderr.String()))
			}
			return stdout.Bytes(), nil
		})
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				return e
			}
			return err
		}
		out = res.([]byte)
		return nil
	})
	return out, err
}

func cacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}

type ghIssue struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	URL       string `json:"url"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
}

func (i ghIssue) toWorkItem(owner, repo string) WorkItem {
	wi := WorkItem{
		Owner:  owner,
		Repo:   repo,
		Number: i.Number,
		Title:  i.Title,
		Body:   i.Body,
		State:  strings.ToLower(i.State),
		URL:    i.URL,
	}
	for _, l := range i.Labels {
		wi.Labels = append(wi.Labels, Label{Name: l.Name})
	}
	if len(i.Assignees) > 0 {
		wi.Assignee = i.Assignees[0].Login
	}
	wi.CreatedAt, _ = time.Parse(time.RFC3339, i.CreatedAt)
	wi.UpdatedAt, _ = time.Parse(time.RFC3339, i.UpdatedAt)
	return wi
}

// ListOpenItems lists open work items for a repo. gh itself handles
// pagination via --limit; a generous limit is used since the supervisor
// scans the whole open set each cycle.
func (g *GHGateway) ListOpenItems(ctx context.Context, owner, repo string) ([]WorkItem, error) {
	key := cacheKey("list", owner, repo)
	if cached, ok := g.cache.get(key); ok {
		return cached.([]WorkItem), nil
	}

	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "issue", "list",
		"--repo", repoSlug, "--state", "open", "--limit", "500",
		"--json", "number,title,body,state,url,createdAt,updatedAt,labels,assignees")
	if err != nil {
		return nil, err
	}

	var issues []ghIssue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to parse issue list")
	}

	items := make([]WorkItem, 0, len(issues))
	for _, iss := range issues {
		items = append(items, iss.toWorkItem(owner, repo))
	}
	g.cache.set(key, items)
	return items, nil
}

// GetItem fetches a single item by number. Not-found is (nil, nil).
func (g *GHGateway) GetItem(ctx context.Context, owner, repo string, number int) (*WorkItem, error) {
	key := cacheKey("item", owner, repo, strconv.Itoa(number))
	if cached, ok := g.cache.get(key); ok {
		wi, _ := cached.(*WorkItem)
		return wi, nil
	}

	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "issue", "view", strconv.Itoa(number),
		"--repo", repoSlug,
		"--json", "number,title,body,state,url,createdAt,updatedAt,labels,assignees")
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "could not find") ||
			strings.Contains(strings.ToLower(err.Error()), "not found") {
			g.cache.set(key, (*WorkItem)(nil))
			return nil, nil
		}
		return nil, err
	}

	var iss ghIssue
	if err := json.Unmarshal(out, &iss); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to parse issue")
	}
	wi := iss.toWorkItem(owner, repo)
	g.cache.set(key, &wi)
	return &wi, nil
}

// ListPRFiles lists changed file paths for a pull request.
func (g *GHGateway) ListPRFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "pr", "view", strconv.Itoa(number),
		"--repo", repoSlug, "--json", "files")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Files []struct {
			Path string `json:"path"`
		} `json:"files"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to parse PR files")
	}
	paths := make([]string, 0, len(payload.Files))
	for _, f := range payload.Files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// ListOpenPRs lists open pull requests for a repo.
func (g *GHGateway) ListOpenPRs(ctx context.Context, owner, repo string) ([]PullRequest, error) {
	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "pr", "list",
		"--repo", repoSlug, "--state", "open", "--limit", "200",
		"--json", "number,title,headRefName,url")
	if err != nil {
		return nil, err
	}
	var prs []struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		HeadRefName string `json:"headRefName"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(out, &prs); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to parse PR list")
	}
	result := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, PullRequest{Number: pr.Number, Title: pr.Title, HeadRefName: pr.HeadRefName, State: "open", URL: pr.URL})
	}
	return result, nil
}

// ListComments lists comments on an issue or PR.
func (g *GHGateway) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "issue", "view", strconv.Itoa(number),
		"--repo", repoSlug, "--json", "comments")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Comments []struct {
			Author struct {
				Login string `json:"login"`
			} `json:"author"`
			Body      string `json:"body"`
			CreatedAt string `json:"createdAt"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to parse comments")
	}
	comments := make([]Comment, 0, len(payload.Comments))
	for _, c := range payload.Comments {
		created, _ := time.Parse(time.RFC3339, c.CreatedAt)
		comments = append(comments, Comment{Author: c.Author.Login, Body: c.Body, CreatedAt: created})
	}
	return comments, nil
}

// CreateIssue files a new issue and returns its number.
func (g *GHGateway) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (int, error) {
	repoSlug := owner + "/" + repo
	args := []string{"issue", "create", "--repo", repoSlug, "--title", title, "--body", body}
	for _, l := range labels {
		args = append(args, "--label", l)
	}
	out, err := g.run(ctx, "gh", args...)
	if err != nil {
		return 0, err
	}
	g.cache.invalidate(cacheKey("list", owner, repo))
	return parseIssueURLNumber(strings.TrimSpace(string(out))), nil
}

func parseIssueURLNumber(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return 0
	}
	n, _ := strconv.Atoi(url[idx+1:])
	return n
}

// ReplaceStateLabel removes oldLabel and adds newLabel in one gh call,
// satisfying the state machine's atomic-replace contract.
func (g *GHGateway) ReplaceStateLabel(ctx context.Context, owner, repo string, number int, oldLabel, newLabel string) error {
	repoSlug := owner + "/" + repo
	args := []string{"issue", "edit", strconv.Itoa(number), "--repo", repoSlug, "--add-label", newLabel}
	if oldLabel != "" {
		args = append(args, "--remove-label", oldLabel)
	}
	_, err := g.run(ctx, "gh", args...)
	if err == nil {
		g.cache.invalidate(cacheKey("item", owner, repo, strconv.Itoa(number)))
		g.cache.invalidate(cacheKey("list", owner, repo))
	}
	return err
}

// UpdateLabels performs a bulk set/replace of an item's labels.
func (g *GHGateway) UpdateLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	repoSlug := owner + "/" + repo
	args := []string{"issue", "edit", strconv.Itoa(number), "--repo", repoSlug}
	for _, l := range labels {
		args = append(args, "--add-label", l)
	}
	_, err := g.run(ctx, "gh", args...)
	if err == nil {
		g.cache.invalidate(cacheKey("item", owner, repo, strconv.Itoa(number)))
	}
	return err
}

// CreatePR opens a pull request. Idempotent up to "PR already exists for
// branch": in that case the existing PR's number/URL are returned instead
// of erroring.
func (g *GHGateway) CreatePR(ctx context.Context, owner, repo, title, body, head, base string) (int, string, error) {
	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "pr", "create",
		"--repo", repoSlug, "--title", title, "--body", body, "--head", head, "--base", base)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			prs, listErr := g.ListOpenPRs(ctx, owner, repo)
			if listErr == nil {
				for _, pr := range prs {
					if pr.HeadRefName == head {
						return pr.Number, pr.URL, nil
					}
				}
			}
		}
		return 0, "", err
	}
	url := strings.TrimSpace(string(out))
	return parseIssueURLNumber(url), url, nil
}

// PostComment posts a comment on an issue or PR. gh issue comment also
// works against PR numbers since PRs are issues in the GitHub data model.
func (g *GHGateway) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	repoSlug := owner + "/" + repo
	_, err := g.run(ctx, "gh", "issue", "comment", strconv.Itoa(number), "--repo", repoSlug, "--body", body)
	return err
}

// CreateMilestone creates a milestone via the REST API (gh has no
// dedicated `milestone create` subcommand).
func (g *GHGateway) CreateMilestone(ctx context.Context, owner, repo, title string) (int, error) {
	repoSlug := owner + "/" + repo
	out, err := g.run(ctx, "gh", "api", fmt.Sprintf("repos/%s/milestones", repoSlug),
		"-f", "title="+title)
	if err != nil {
		return 0, err
	}
	var payload struct {
		Number int `json:"number"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return 0, errs.Wrap(errs.CodeInternal, err, "failed to parse milestone response")
	}
	return payload.Number, nil
}

// RateLimitStatus reports the current rate-limit window via `gh api
// rate_limit`.
func (g *GHGateway) RateLimitStatus(ctx context.Context) (RateLimit, error) {
	out, err := g.run(ctx, "gh", "api", "rate_limit")
	if err != nil {
		return RateLimit{}, err
	}
	var payload struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return RateLimit{}, errs.Wrap(errs.CodeInternal, err, "failed to parse rate_limit response")
	}
	return RateLimit{
		Remaining: payload.Resources.Core.Remaining,
		Limit:     payload.Resources.Core.Limit,
		Reset:     time.Unix(payload.Resources.Core.Reset, 0),
	}, nil
}

var _ Gateway = (*GHGateway)(nil)
