package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/osmupdate/internal/feed"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		switch event.Type {
		case EventFetch:
			fmt.Fprintf(&buf, "  [%d] fetch %s\n", i+1, event.Path)
		case EventState:
			fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.State, event.Tier)
		default:
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", i+1, event.Type, event.State, event.Code)
		}
	}

	return buf.String()
}

// DiffPath is the feed-relative path of a diff, as it appears in fetch
// events.
func DiffPath(kind feed.Kind, seq int64) string {
	return strings.TrimPrefix(feed.Layout{}.DiffURL(kind, seq), "/")
}

func expectedPaths(a Assertion) []string {
	kind, _ := feed.ParseKind(a.Tier)
	out := make([]string, len(a.Seqs))
	for i, seq := range a.Seqs {
		out[i] = DiffPath(kind, seq)
	}
	return out
}

// assertFetched checks that the listed diffs were fetched in order, with
// other downloads allowed in between.
func assertFetched(trace []TraceEvent, fetches []string, a Assertion) error {
	want := expectedPaths(a)
	next := 0
	for _, p := range fetches {
		if next < len(want) && p == want[next] {
			next++
		}
	}
	if next == len(want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFetched,
		Expected: fmt.Sprintf("fetches in order %v", want),
		Actual:   fmt.Sprintf("%v (missing %s)", fetches, want[next]),
		Trace:    trace,
	}
}

func assertNotFetched(trace []TraceEvent, fetches []string, a Assertion) error {
	for _, p := range expectedPaths(a) {
		if slices.Contains(fetches, p) {
			return &AssertionError{
				Type:     AssertNotFetched,
				Expected: fmt.Sprintf("%s not fetched", p),
				Actual:   "fetched",
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertFetchCount(trace []TraceEvent, fetches []string, a Assertion) error {
	if len(fetches) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFetchCount,
		Expected: fmt.Sprintf("%d fetches", a.Count),
		Actual:   fmt.Sprintf("%d fetches", len(fetches)),
		Trace:    trace,
	}
}

// assertStateOrder checks the state events against the list exactly.
func assertStateOrder(trace []TraceEvent, a Assertion) error {
	var states []string
	for _, e := range trace {
		if e.Type == EventState {
			states = append(states, e.State)
		}
	}
	if slices.Equal(states, a.States) {
		return nil
	}
	return &AssertionError{
		Type:     AssertStateOrder,
		Expected: strings.Join(a.States, " → "),
		Actual:   strings.Join(states, " → "),
		Trace:    trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	fetches := result.Fetches()

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFetched:
			err = assertFetched(result.Trace, fetches, assertion)
		case AssertNotFetched:
			err = assertNotFetched(result.Trace, fetches, assertion)
		case AssertFetchCount:
			err = assertFetchCount(result.Trace, fetches, assertion)
		case AssertStateOrder:
			err = assertStateOrder(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
