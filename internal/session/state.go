package session

import "fmt"

// State is a stage of an import session.
type State int

const (
	StateIdle State = iota
	StateParsed
	StateMapped
	StateCandidatesBuilt
	StateMatched
	StateReviewing
	StateCommitting
	StateDone
	StateCancelled
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateParsed:          "parsed",
	StateMapped:          "mapped",
	StateCandidatesBuilt: "candidatesBuilt",
	StateMatched:         "matched",
	StateReviewing:       "reviewing",
	StateCommitting:      "committing",
	StateDone:            "done",
	StateCancelled:       "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// Locks reports whether the session holds its account: only one session per
// account may be reviewing or later.
func (s State) Locks() bool {
	return s == StateReviewing || s == StateCommitting
}

// next lists the forward transitions. Cancellation is handled separately.
var next = map[State]State{
	StateIdle:            StateParsed,
	StateParsed:          StateMapped,
	StateMapped:          StateCandidatesBuilt,
	StateCandidatesBuilt: StateMatched,
	StateMatched:         StateReviewing,
	StateReviewing:       StateCommitting,
	StateCommitting:      StateDone,
}

// canTransition reports whether from → to is a legal move.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled {
		return true
	}
	n, ok := next[from]
	return ok && n == to
}
