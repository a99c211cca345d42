// Package statemachine implements the label-driven state machine (C7):
// it validates State-facet transitions and derives the next responsible
// agent kind for a work item. It mutates nothing itself — callers apply
// the resulting label pair through platform.Gateway's atomic
// ReplaceStateLabel.
package statemachine

import "strings"

// State is one of the lifecycle states in the State facet.
type State string

const (
	StatePending      State = "pending"
	StateAnalyzing    State = "analyzing"
	StateImplementing State = "implementing"
	StateReviewing    State = "reviewing"
	StateDone         State = "done"
	StateBlocked      State = "blocked"
	StatePaused       State = "paused"
)

// AgentKind is the closed set of agent kinds a work item can be routed to.
type AgentKind string

const (
	AgentCoordinator AgentKind = "Coordinator"
	AgentIssue       AgentKind = "Issue"
	AgentCodeGen     AgentKind = "CodeGen"
	AgentReview      AgentKind = "Review"
	AgentPR          AgentKind = "PR"
	AgentDeploy      AgentKind = "Deploy"
	AgentTest        AgentKind = "Test"
)

// transitions is the closed, literal edge set:
//
//	pending → analyzing → implementing → reviewing → done
//	   ↓           ↓            ↓             ↓
//	 blocked ←──────────────────────────────────┘
//	 paused  ← any non-terminal     paused → previous
//
// Every non-terminal state can move to blocked or paused; paused returns
// only to the state it was paused from (tracked by the caller, not encoded
// here as a static edge — see Machine.Pause/Resume).
var forwardTransitions = map[State]State{
	StatePending:      StateAnalyzing,
	StateAnalyzing:    StateImplementing,
	StateImplementing: StateReviewing,
	StateReviewing:    StateDone,
}

var nonTerminal = map[State]bool{
	StatePending:      true,
	StateAnalyzing:    true,
	StateImplementing: true,
	StateReviewing:    true,
}

// ValidateTransition reports whether moving from `from` to `to` is legal.
// An empty `from` is treated as pending: a missing State label is
// semantically equivalent to pending.
func ValidateTransition(from, to State) bool {
	if from == "" {
		from = StatePending
	}
	if from == to {
		return false
	}

	if next, ok := forwardTransitions[from]; ok && next == to {
		return true
	}
	if to == StateBlocked && nonTerminal[from] {
		return true
	}
	if to == StatePaused && nonTerminal[from] {
		return true
	}
	if from == StatePaused {
		// Resuming to the prior state is legal; the specific prior state
		// is supplied by the caller (Machine tracks it), so any
		// nonTerminal target is accepted here and Machine.Resume enforces
		// it is exactly the remembered one.
		return nonTerminal[to]
	}
	return false
}

// NextAgentFor returns the agent kind responsible for advancing an item in
// the given state. blocked/paused/done have no next agent (false is
// returned).
func NextAgentFor(s State) (AgentKind, bool) {
	switch s {
	case StatePending, "":
		return AgentIssue, true
	case StateAnalyzing:
		return AgentCodeGen, true
	case StateImplementing:
		return AgentReview, true
	case StateReviewing:
		return AgentPR, true
	default:
		return "", false
	}
}

// EffectiveState normalizes a missing state label to pending.
func EffectiveState(label string) State {
	if label == "" {
		return StatePending
	}
	return State(label)
}

// Facet is one of the orthogonal label dimensions a work item's labels
// are partitioned into.
type Facet string

const (
	FacetState    Facet = "state"
	FacetType     Facet = "type"
	FacetPriority Facet = "priority"
	FacetAgent    Facet = "agent"
	FacetPhase    Facet = "phase"
)

// knownStates lets ParseStateLabel recognize a bare state name (e.g.
// "pending") in addition to a "state:pending" facet-prefixed label.
var knownStates = map[string]State{
	string(StatePending):      StatePending,
	string(StateAnalyzing):    StateAnalyzing,
	string(StateImplementing): StateImplementing,
	string(StateReviewing):    StateReviewing,
	string(StateDone):         StateDone,
	string(StateBlocked):      StateBlocked,
	string(StatePaused):       StatePaused,
}

// ParseStateLabel extracts the State facet from a label set. Pseudographic
// prefixes (e.g. "📥 state:pending") are cosmetic and stripped before
// comparison. Returns ("", false) if no state label is present, which
// callers should treat as StatePending.
func ParseStateLabel(labels []string) (State, bool) {
	for _, raw := range labels {
		name := stripCosmeticPrefix(raw)
		if strings.HasPrefix(name, "state:") {
			return State(strings.TrimPrefix(name, "state:")), true
		}
		if s, ok := knownStates[name]; ok {
			return s, true
		}
	}
	return "", false
}

// stripCosmeticPrefix removes a leading pseudographic glyph and whitespace
// (e.g. "📥 " in "📥 state:pending"), leaving the logical label name.
func stripCosmeticPrefix(label string) string {
	trimmed := strings.TrimLeftFunc(label, func(r rune) bool {
		return r > 0x2000 // pseudographic/emoji block and beyond
	})
	return strings.TrimSpace(trimmed)
}

// Machine tracks the pre-pause state for a single work item so Resume can
// enforce "paused → previous" rather than an arbitrary non-terminal state.
type Machine struct {
	prePause map[string]State
}

// NewMachine constructs an empty Machine.
func NewMachine() *Machine {
	return &Machine{prePause: make(map[string]State)}
}

// Pause records the current state for itemKey and reports the paused
// transition is legal.
func (m *Machine) Pause(itemKey string, current State) bool {
	if !nonTerminal[current] {
		return false
	}
	m.prePause[itemKey] = current
	return true
}

// Resume returns the state to return to for itemKey, and whether resume is
// legal (the item must have been paused via this Machine instance).
func (m *Machine) Resume(itemKey string) (State, bool) {
	prior, ok := m.prePause[itemKey]
	if !ok {
		return "", false
	}
	delete(m.prePause, itemKey)
	return prior, true
}
