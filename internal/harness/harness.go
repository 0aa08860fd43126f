package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/osmupdate/internal/engine"
	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/testutil"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// DefaultNow is the clock used when a scenario sets none.
var DefaultNow = time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)

// RunID is the fixed run id every scenario runs under.
const RunID = "test-run-default"

// Harness drives one scenario.
type Harness struct {
	srv    *testutil.FeedServer
	result *Result
	seen   int // diff requests already copied into the trace
}

// Run executes a scenario in a fresh temporary directory and returns the
// result. The returned error reports a broken scenario, not a failed run.
func Run(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	dir := t.TempDir()

	srv := testutil.NewFeedServer(t)
	for name, files := range scenario.Feed {
		kind, err := feed.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		for _, cf := range files {
			ts, ok := timestamp.Parse(cf.Timestamp)
			if !ok {
				return nil, fmt.Errorf("feed.%s: malformed timestamp %q", name, cf.Timestamp)
			}
			srv.AddChangefile(kind.Dir(), cf.Seq, ts)
		}
	}

	conv := testutil.NewFakeConverter()
	source := scenario.Source
	if scenario.SourceTimestamp != "" {
		source = filepath.Join(dir, "source.o5m")
		if err := os.WriteFile(source, []byte("<osm scenario=\""+scenario.Name+"\"/>\n"), 0o644); err != nil {
			return nil, fmt.Errorf("write source: %w", err)
		}
		conv.Timestamps[source] = scenario.SourceTimestamp
	}

	dest := filepath.Join(dir, scenario.Destination)
	if scenario.Destination == SourceDestination {
		dest = source
	}

	now := DefaultNow
	if scenario.Now != "" {
		now, _ = timestamp.Parse(scenario.Now)
	}
	clock := testutil.NewFixedClock(now)

	h := &Harness{srv: srv, result: NewResult()}

	opts := []engine.Option{
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(RunID)),
		engine.WithClock(clock.Now),
		engine.WithObserver(h.observe),
	}
	if len(scenario.Tiers) > 0 {
		kinds := make([]feed.Kind, 0, len(scenario.Tiers))
		for _, name := range scenario.Tiers {
			k, err := feed.ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("tiers: %w", err)
			}
			kinds = append(kinds, k)
		}
		opts = append(opts, engine.WithTiers(kinds...))
	}
	if scenario.MaxDays > 0 {
		opts = append(opts, engine.WithMaxDays(scenario.MaxDays))
	}
	if scenario.MaxMerge > 0 {
		opts = append(opts, engine.WithMaxMerge(scenario.MaxMerge))
	}

	o := engine.New(feed.Layout{BaseURL: srv.URL()}, feed.NewHTTPFetcher(), conv, filepath.Join(dir, "cache"), opts...)
	res, err := o.Sync(context.Background(), engine.Request{Source: source, Destination: dest})
	h.flushFetches()

	result := h.result
	result.Run = res
	result.Err = err

	outcome := TraceEvent{Type: EventOutcome, Code: string(engine.CodeOf(err))}
	if res != nil {
		outcome.State = res.State.String()
		if !res.Newest.IsZero() {
			outcome.Newest = timestamp.Format(res.Newest)
		}
	}
	result.Trace = append(result.Trace, outcome)

	if outcome.Code != scenario.Expect.Code {
		result.AddError(fmt.Sprintf("expected outcome %q, got %q (%v)", scenario.Expect.Code, outcome.Code, err))
	}
	if scenario.Expect.Newest != "" && scenario.Expect.Newest != outcome.Newest {
		result.AddError(fmt.Sprintf("expected newest %s, got %q", scenario.Expect.Newest, outcome.Newest))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// observe records a state change, preceded by the downloads since the last
// one.
func (h *Harness) observe(tr engine.Transition) {
	h.flushFetches()
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:  EventState,
		State: tr.To.String(),
		Tier:  tr.Tier,
	})
}

func (h *Harness) flushFetches() {
	reqs := h.srv.DiffRequests()
	for _, p := range reqs[h.seen:] {
		h.result.Trace = append(h.result.Trace, TraceEvent{Type: EventFetch, Path: p})
	}
	h.seen = len(reqs)
}
