package dag

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/miyabi-dev/miyabi/internal/platform"
	"github.com/miyabi-dev/miyabi/internal/statemachine"
	"github.com/miyabi-dev/miyabi/internal/workspace"
)

// defaultLabelPrefix is used when a caller has no monorepo configuration
// to supply (e.g. a direct Decompose call in a test). Real CLI entry
// points pass config.MonorepoConfig.LabelPrefix through packagePrefix.
const defaultLabelPrefix = "pkg"

// dependencyPattern matches dependency phrases in a task body: "depends
// on #12", "blocked by task-3", "after #7", "requires 5".
var dependencyPattern = regexp.MustCompile(`(?i)(?:depends\s+on|blocked\s+by|after\s+task|after|requires)\s+#?([A-Za-z0-9_-]+)`)

// checklistPattern finds a markdown checklist item, used to split a body
// into one coarse task per checklist line when present.
var checklistPattern = regexp.MustCompile(`(?m)^[-*]\s+\[( |x|X)\]\s+(.+)$`)

// headingPattern finds a markdown heading, used as a secondary task-hint
// source when no checklist is present.
var headingPattern = regexp.MustCompile(`(?m)^#{2,3}\s+(.+)$`)

// typeToAgent maps the Type facet to the agent kind responsible for it:
// feature → CodeGen, deployment → Deploy, test → Test, unrecognized →
// CodeGen.
var typeToAgent = map[string]statemachine.AgentKind{
	"feature":    statemachine.AgentCodeGen,
	"bug":        statemachine.AgentCodeGen,
	"refactor":   statemachine.AgentCodeGen,
	"docs":       statemachine.AgentCodeGen,
	"deployment": statemachine.AgentDeploy,
	"deploy":     statemachine.AgentDeploy,
	"test":       statemachine.AgentTest,
	"review":     statemachine.AgentReview,
}

// kindOrder is the fixed intra-item ordering used when multiple agent
// kinds appear in one decomposition.
var kindOrder = map[statemachine.AgentKind]int{
	statemachine.AgentIssue:   0,
	statemachine.AgentCodeGen: 1,
	statemachine.AgentReview:  2,
	statemachine.AgentPR:      3,
	statemachine.AgentDeploy:  4,
}

// DecomposeResult is the output of Decompose.
type DecomposeResult struct {
	Tasks     []Task
	DAG       *DAG
	HasCycles bool
}

// Decompose parses a work item's body for structured task hints
// (checklists, headings), falling back to a single coarse task if none are
// found, assigns each task an agent kind from the Type facet, and derives
// dependencies both lexically and from the fixed intra-item ordering.
func Decompose(item platform.WorkItem, packagePath string) DecomposeResult {
	if packagePath == "" {
		packagePath = packagePathFromLabels(item.Labels, defaultLabelPrefix)
	}
	tasks := extractTasks(item, packagePath)
	tasks = inferKindOrderDependencies(tasks)

	d := BuildDAG(tasks)
	hasCycles := DetectCycles(d)

	return DecomposeResult{Tasks: tasks, DAG: d, HasCycles: hasCycles}
}

// packagePathFromLabels derives a monorepo package scope from a work
// item's pkg:<path> label, the same facet scope.Validator and
// scanner.ScopedTestCommand key their boundary checks on. A work item
// with no such label decomposes into an unscoped task, same as before
// monorepo support existed.
func packagePathFromLabels(labels []platform.Label, prefix string) string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	pkg := workspace.FindPackageLabel(names, prefix)
	if pkg == "" {
		return ""
	}
	return workspace.NormalizePackagePath(pkg)
}

func itemTypeFacet(item platform.WorkItem) string {
	for _, l := range item.Labels {
		name := l.Name
		if strings.HasPrefix(name, "type:") {
			return strings.TrimPrefix(name, "type:")
		}
	}
	return ""
}

func agentKindFor(typ string) statemachine.AgentKind {
	if k, ok := typeToAgent[strings.ToLower(typ)]; ok {
		return k
	}
	return statemachine.AgentCodeGen
}

func extractTasks(item platform.WorkItem, packagePath string) []Task {
	typ := itemTypeFacet(item)
	kind := agentKindFor(typ)

	var titles []string
	if matches := checklistPattern.FindAllStringSubmatch(item.Body, -1); len(matches) > 0 {
		for _, m := range matches {
			titles = append(titles, strings.TrimSpace(m[2]))
		}
	} else if matches := headingPattern.FindAllStringSubmatch(item.Body, -1); len(matches) > 0 {
		for _, m := range matches {
			titles = append(titles, strings.TrimSpace(m[1]))
		}
	}

	if len(titles) == 0 {
		// Fall back to a single coarse task, titles = []string{item.Title}
	}

	tasks := make([]Task, 0, len(titles))
	for i, title := range titles {
		id := fmt.Sprintf("%d-%d", item.Number, i+1)
		deps := parseDependencies(item.Body, item.Number)
		tasks = append(tasks, Task{
			ID:           id,
			Title:        title,
			Description:  item.Body,
			Type:         typ,
			Priority:     5,
			Severity:     Sev3Medium,
			Impact:       ImpactMedium,
			AgentKind:    kind,
			Dependencies: deps,
			Status:       StatusIdle,
			Metadata:     map[string]string{"issue": fmt.Sprintf("%d", item.Number)},
			PackagePath:  packagePath,
		})
	}
	return tasks
}

// parseDependencies extracts referenced task/issue IDs from dependency
// phrases, deduplicated, in order of first appearance. Self-references are
// dropped.
func parseDependencies(body string, selfNumber int) []string {
	matches := dependencyPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	self := fmt.Sprintf("%d", selfNumber)
	for _, m := range matches {
		id := m[1]
		if id == self || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// inferKindOrderDependencies adds implicit dependencies between tasks of
// different agent kinds within one decomposition, following the fixed
// ordering Issue → CodeGen → Review → PR → Deploy. Each task depends on
// the immediately-preceding distinct kind present, if any.
func inferKindOrderDependencies(tasks []Task) []Task {
	if len(tasks) < 2 {
		return tasks
	}

	// Group task IDs by kind, preserving the first-seen order of kinds.
	byKind := make(map[statemachine.AgentKind][]string)
	var kindsSeen []statemachine.AgentKind
	for _, t := range tasks {
		if _, ok := byKind[t.AgentKind]; !ok {
			kindsSeen = append(kindsSeen, t.AgentKind)
		}
		byKind[t.AgentKind] = append(byKind[t.AgentKind], t.ID)
	}
	if len(kindsSeen) < 2 {
		return tasks
	}

	sort.Slice(kindsSeen, func(i, j int) bool {
		return kindOrder[kindsSeen[i]] < kindOrder[kindsSeen[j]]
	})

	prevIDs := map[statemachine.AgentKind][]string{}
	for i, k := range kindsSeen {
		if i == 0 {
			continue
		}
		prevIDs[k] = byKind[kindsSeen[i-1]]
	}

	for i := range tasks {
		prev := prevIDs[tasks[i].AgentKind]
		for _, p := range prev {
			if !containsStr(tasks[i].Dependencies, p) {
				tasks[i].Dependencies = append(tasks[i].Dependencies, p)
			}
		}
	}
	return tasks
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// BuildDAG constructs edges from each task's Dependencies and computes
// levels by repeated Kahn-style peeling: nodes with zero unresolved
// in-degree are emitted as one level and removed, repeatedly.
func BuildDAG(tasks []Task) *DAG {
	d := &DAG{Nodes: append([]Task(nil), tasks...)}

	existing := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		existing[t.ID] = true
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if existing[dep] {
				d.Edges = append(d.Edges, Edge{From: dep, To: t.ID})
			}
		}
	}

	d.Levels = computeLevels(d)
	return d
}

func computeLevels(d *DAG) [][]string {
	inDegree := make(map[string]int)
	children := make(map[string][]string)
	for _, t := range d.Nodes {
		inDegree[t.ID] = 0
	}
	for _, e := range d.Edges {
		inDegree[e.To]++
		children[e.From] = append(children[e.From], e.To)
	}

	remaining := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		remaining[k] = v
	}

	var levels [][]string
	placed := make(map[string]bool)

	for len(placed) < len(d.Nodes) {
		var level []string
		for _, t := range d.Nodes {
			if placed[t.ID] {
				continue
			}
			if remaining[t.ID] == 0 {
				level = append(level, t.ID)
			}
		}
		if len(level) == 0 {
			// Remaining nodes are part of an unbroken cycle; place them
			// as a final level so every node is still covered exactly
			// once (DAG.levels invariant), while DetectCycles reports the
			// cycle separately.
			for _, t := range d.Nodes {
				if !placed[t.ID] {
					level = append(level, t.ID)
				}
			}
		}
		sort.Strings(level)
		levels = append(levels, level)
		for _, id := range level {
			placed[id] = true
			for _, child := range children[id] {
				remaining[child]--
			}
		}
	}
	return levels
}

// DetectCycles reports whether the DAG's edges contain a cycle, via
// three-color DFS. Cycles are reported rather than silently broken.
func DetectCycles(d *DAG) bool {
	return len(FindCyclePath(d)) > 0
}

// FindCyclePath returns one cycle's task IDs (in traversal order) if the
// DAG contains a cycle, or nil if it is acyclic.
func FindCyclePath(d *DAG) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	children := make(map[string][]string)
	for _, e := range d.Edges {
		children[e.From] = append(children[e.From], e.To)
	}
	for _, v := range children {
		sort.Strings(v)
	}

	color := make(map[string]int)
	var nodeIDs []string
	for _, t := range d.Nodes {
		nodeIDs = append(nodeIDs, t.ID)
	}
	sort.Strings(nodeIDs)

	var path []string
	var cycle []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		path = append(path, node)

		for _, child := range children[node] {
			switch color[child] {
			case white:
				if dfs(child) {
					return true
				}
			case gray:
				// Found the back edge; extract the cycle suffix of path.
				for i, n := range path {
					if n == child {
						cycle = append([]string(nil), path[i:]...)
						cycle = append(cycle, child)
						return true
					}
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	for _, n := range nodeIDs {
		if color[n] == white {
			if dfs(n) {
				return cycle
			}
		}
	}
	return nil
}

// CalculateCriticalPath computes the longest-duration path through the
// DAG by dynamic programming, in minutes.
func CalculateCriticalPath(tasks []Task, d *DAG) int {
	durations := make(map[string]int, len(tasks))
	for _, t := range tasks {
		durations[t.ID] = t.EstimatedDuration
	}

	parents := make(map[string][]string)
	for _, e := range d.Edges {
		parents[e.To] = append(parents[e.To], e.From)
	}

	memo := make(map[string]int)
	var longest func(id string) int
	longest = func(id string) int {
		if v, ok := memo[id]; ok {
			return v
		}
		best := 0
		for _, p := range parents[id] {
			if v := longest(p); v > best {
				best = v
			}
		}
		result := best + durations[id]
		memo[id] = result
		return result
	}

	max := 0
	for _, t := range tasks {
		if v := longest(t.ID); v > max {
			max = v
		}
	}
	return max
}

// GetStatistics summarizes a DAG: task/edge counts, level count, max
// parallelism, and critical-path duration.
func GetStatistics(tasks []Task, d *DAG) Statistics {
	maxParallelism := 0
	for _, level := range d.Levels {
		if len(level) > maxParallelism {
			maxParallelism = len(level)
		}
	}
	hasCycles := DetectCycles(d)
	var critical int
	if !hasCycles {
		critical = CalculateCriticalPath(tasks, d)
	}
	return Statistics{
		TotalTasks:           len(d.Nodes),
		TotalEdges:           len(d.Edges),
		Levels:               len(d.Levels),
		MaxParallelism:       maxParallelism,
		HasCycles:            hasCycles,
		CriticalPathDuration: critical,
	}
}

// severityRank orders severities from most to least critical, for tie-
// breaking within a level.
var severityRank = map[Severity]int{
	Sev1Critical: 0,
	Sev2High:     1,
	Sev3Medium:   2,
	Sev4Low:      3,
}

// SortLevel orders task IDs within one DAG level by a fixed tie-breaking
// rule: priority ascending, then severity (1-Critical first), then
// lexicographic task id.
func SortLevel(level []string, byID map[string]Task) []string {
	sorted := append([]string(nil), level...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := byID[sorted[i]], byID[sorted[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] < severityRank[b.Severity]
		}
		return a.ID < b.ID
	})
	return sorted
}
