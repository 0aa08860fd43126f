package engine

// State is a step of a run.
type State int

const (
	StateInitializing State = iota
	StateTierResolution
	StateWalking
	StateDensifying
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInitializing:   "initializing",
	StateTierResolution: "tier_resolution",
	StateWalking:        "walking",
	StateDensifying:     "densifying",
	StateFinalizing:     "finalizing",
	StateDone:           "done",
	StateFailed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition is passed to an Observer on every state change. Tier is set
// while walking or densifying.
type Transition struct {
	From State
	To   State
	Tier string
}

// Observer is notified of state changes. It runs on the run's goroutine and
// must not block.
type Observer func(Transition)
