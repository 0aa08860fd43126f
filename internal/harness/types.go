package harness

import "github.com/roach88/osmupdate/internal/engine"

// Trace event types.
const (
	EventState   = "state"
	EventFetch   = "fetch"
	EventOutcome = "outcome"
)

// TraceEvent is one observable step of a run: a state change, a diff
// download, or the final outcome.
type TraceEvent struct {
	Type   string `json:"type"`
	State  string `json:"state,omitempty"`
	Tier   string `json:"tier,omitempty"`
	Path   string `json:"path,omitempty"` // feed-relative path of a downloaded diff
	Code   string `json:"code,omitempty"`
	Newest string `json:"newest,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if the expectation and all assertions hold.
	Pass bool `json:"pass"`

	// Trace contains state changes and downloads in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Run and Err are what the orchestrator returned.
	Run *engine.Result `json:"-"`
	Err error          `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Fetches returns the paths of all downloads in order.
func (r *Result) Fetches() []string {
	var out []string
	for _, e := range r.Trace {
		if e.Type == EventFetch {
			out = append(out, e.Path)
		}
	}
	return out
}
