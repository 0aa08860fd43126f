package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailyScenario() *Scenario {
	return &Scenario{
		Name:        "daily",
		Description: "daily walk",
		Source:      "2020-01-01T00:00:00Z",
		Destination: "changes.o5c",
		Tiers:       []string{"daily"},
		Feed: map[string][]Changefile{
			"daily": {
				{Seq: 98, Timestamp: "2019-12-31T00:00:00Z"},
				{Seq: 99, Timestamp: "2020-01-02T00:00:00Z"},
				{Seq: 100, Timestamp: "2020-01-03T00:00:00Z"},
			},
		},
		Expect: Expect{Newest: "2020-01-03T00:00:00Z"},
	}
}

func TestRun_DailyWalk(t *testing.T) {
	result, err := Run(t, dailyScenario())
	require.NoError(t, err)

	assert.True(t, result.Pass, result.Errors)
	assert.NoError(t, result.Err)
	require.NotNil(t, result.Run)
	assert.Equal(t, RunID, result.Run.RunID)
	assert.Equal(t, []string{"day/000/000/100.osc.gz", "day/000/000/099.osc.gz"}, result.Fetches())

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, EventOutcome, last.Type)
	assert.Equal(t, "done", last.State)
	assert.Equal(t, "2020-01-03T00:00:00Z", last.Newest)
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	s := dailyScenario()
	s.Expect = Expect{Code: "UP_TO_DATE"}

	result, err := Run(t, s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected outcome "UP_TO_DATE", got ""`)
}

func TestRun_WrongNewestFails(t *testing.T) {
	s := dailyScenario()
	s.Expect.Newest = "2020-01-02T00:00:00Z"

	result, err := Run(t, s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected newest 2020-01-02T00:00:00Z")
}

func TestRun_FailingAssertions(t *testing.T) {
	s := dailyScenario()
	s.Assertions = []Assertion{
		{Type: AssertFetched, Tier: "daily", Seqs: []int64{99, 100}},
		{Type: AssertNotFetched, Tier: "daily", Seqs: []int64{99}},
		{Type: AssertFetchCount, Count: 3},
		{Type: AssertStateOrder, States: []string{"walking", "done"}},
	}

	result, err := Run(t, s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "missing day/000/000/100.osc.gz")
	assert.Contains(t, result.Errors[1], "day/000/000/099.osc.gz not fetched")
	assert.Contains(t, result.Errors[2], "3 fetches")
	assert.Contains(t, result.Errors[3], "tier_resolution → walking")
	assert.Contains(t, result.Errors[0], "Full trace:")
}

func TestRun_SourceFileTimestamp(t *testing.T) {
	s := dailyScenario()
	s.Source = ""
	s.SourceTimestamp = "2020-01-02T00:00:00Z"
	s.Destination = "new.o5m"
	s.Assertions = []Assertion{
		{Type: AssertFetched, Tier: "daily", Seqs: []int64{100}},
		{Type: AssertFetchCount, Count: 1},
	}

	result, err := Run(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_RelativeSourceUsesScenarioClock(t *testing.T) {
	s := dailyScenario()
	s.Source = "NOW-172800"
	s.Now = "2020-01-03T00:00:00Z"
	s.Assertions = []Assertion{{Type: AssertFetchCount, Count: 2}}

	result, err := Run(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, "2020-01-01T00:00:00Z", result.Run.Old.Format("2006-01-02T15:04:05Z"))
}

func TestRun_BadFeedTier(t *testing.T) {
	s := dailyScenario()
	s.Feed["weekly"] = nil

	_, err := Run(t, s)
	require.Error(t, err)
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "bogus"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "bogus"`)
}

func TestAssertFetched_AllowsGaps(t *testing.T) {
	trace := []TraceEvent{
		{Type: EventFetch, Path: "day/000/000/010.osc.gz"},
		{Type: EventFetch, Path: "day/000/000/009.osc.gz"},
		{Type: EventFetch, Path: "day/000/000/008.osc.gz"},
	}
	fetches := []string{trace[0].Path, trace[1].Path, trace[2].Path}

	assert.NoError(t, assertFetched(trace, fetches, Assertion{Tier: "daily", Seqs: []int64{10, 8}}))
	assert.Error(t, assertFetched(trace, fetches, Assertion{Tier: "daily", Seqs: []int64{8, 10}}))
}

func TestDiffPath(t *testing.T) {
	s := NewResult()
	s.Trace = append(s.Trace, TraceEvent{Type: EventState, State: "walking"})
	assert.Empty(t, s.Fetches())

	paths := map[string]string{
		"minutely": "minute/000/001/000.osc.gz",
		"hourly":   "hour/000/001/000.osc.gz",
		"daily":    "day/000/001/000.osc.gz",
		"sporadic": "000/001/000.osc.gz",
	}
	for tier, want := range paths {
		got := expectedPaths(Assertion{Tier: tier, Seqs: []int64{1000}})
		assert.Equal(t, []string{want}, got, tier)
	}
}
