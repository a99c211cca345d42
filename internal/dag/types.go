// Package dag implements the DAG Builder (C5): decomposing a work item
// into a partially ordered set of agent tasks, inferring dependencies, and
// emitting a leveled DAG with cycle detection and critical-path analysis.
package dag

import "github.com/miyabi-dev/miyabi/internal/statemachine"

// Severity mirrors Task.severity scale.
type Severity string

const (
	Sev1Critical Severity = "1-Critical"
	Sev2High     Severity = "2-High"
	Sev3Medium   Severity = "3-Medium"
	Sev4Low      Severity = "4-Low"
)

// Impact mirrors Task.impact scale.
type Impact string

const (
	ImpactLow      Impact = "Low"
	ImpactMedium   Impact = "Medium"
	ImpactHigh     Impact = "High"
	ImpactCritical Impact = "Critical"
)

// Status is a task's lifecycle status.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Task is a unit of agent work, immutable except for Status.
type Task struct {
	ID                string
	Title             string
	Description       string
	Type              string
	Priority          int
	Severity          Severity
	Impact            Impact
	AgentKind         statemachine.AgentKind
	Dependencies      []string
	EstimatedDuration int // minutes
	Status            Status
	Metadata          map[string]string
	// PackagePath is set when the task is scoped to a monorepo package
	// (monorepo path scoping); empty for non-monorepo items.
	PackagePath string
}

// Edge is a dependency edge: from must complete before to is dispatchable.
type Edge struct {
	From string
	To   string
}

// DAG is the directed acyclic multigraph describes.
type DAG struct {
	Nodes  []Task
	Edges  []Edge
	Levels [][]string
}

// Cycles reports whether the DAG (as built) contains a cycle. Builder
// never returns a DAG with edges forming a cycle — instead it reports
// hasCycles via DecomposeResult and omits scheduling rather than silently
// breaking the cycle.
func (d *DAG) taskByID(id string) *Task {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Statistics summarizes a DAG per getStatistics.
type Statistics struct {
	TotalTasks            int
	TotalEdges            int
	Levels                int
	MaxParallelism        int
	HasCycles             bool
	CriticalPathDuration  int // minutes
}
