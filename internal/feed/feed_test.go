package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/osmupdate/internal/testutil"
)

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestSequencePath(t *testing.T) {
	assert.Equal(t, "000/012/345", SequencePath(12345))
	assert.Equal(t, "000/000/000", SequencePath(0))
	assert.Equal(t, "004/567/890", SequencePath(4567890))
	assert.Equal(t, "999/999/999", SequencePath(999999999))
}

func TestLayout_URLs(t *testing.T) {
	l := Layout{BaseURL: "https://planet.example.org/replication/"}

	assert.Equal(t, "https://planet.example.org/replication/minute", l.TierURL(Minutely))
	assert.Equal(t, "https://planet.example.org/replication/hour/state.txt", l.NewestStateURL(Hourly))
	assert.Equal(t, "https://planet.example.org/replication/day/000/012/345.state.txt", l.StateURL(Daily, 12345))
	assert.Equal(t, "https://planet.example.org/replication/000/000/007.osc.gz", l.DiffURL(Sporadic, 7))

	l.Suffix = "-replicate"
	assert.Equal(t, "https://planet.example.org/replication/day-replicate/state.txt", l.NewestStateURL(Daily))
}

func TestKind_Names(t *testing.T) {
	assert.Equal(t, byte('m'), Minutely.Initial())
	assert.Equal(t, byte('h'), Hourly.Initial())
	assert.Equal(t, byte('d'), Daily.Initial())
	assert.Equal(t, byte('s'), Sporadic.Initial())

	for _, k := range Kinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("weekly")
	assert.Error(t, err)
}

func TestParseState(t *testing.T) {
	st := ParseState(testutil.StateDocument(4242, day(3)))
	assert.True(t, st.Resolved)
	assert.Equal(t, int64(4242), st.Sequence)
	assert.Equal(t, day(3), st.Timestamp)

	st = ParseState("#nothing here\nsequenceNumber=5\n")
	assert.False(t, st.Resolved)
	assert.Equal(t, int64(5), st.Sequence)

	st = ParseState("")
	assert.False(t, st.Resolved)
	assert.Zero(t, st.Sequence)
}

func TestTier_ResolveStateCaches(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("day", 100, day(3))

	tier := NewTier(Daily, Layout{BaseURL: srv.URL()}, NewHTTPFetcher())
	ctx := context.Background()

	st, err := tier.ResolveState(ctx, false)
	require.NoError(t, err)
	assert.True(t, st.Resolved)
	assert.Equal(t, int64(100), st.Sequence)
	assert.Equal(t, int64(100), tier.Cursor())

	_, err = tier.ResolveState(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Hits("day/state.txt"))

	_, err = tier.ResolveState(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Hits("day/state.txt"))

	// The newest state seeds the per-sequence cache.
	ts, err := tier.TimestampFor(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, day(3), ts)
	assert.Zero(t, srv.Hits("day/000/000/100.state.txt"))
}

func TestTier_ResolveStateMissing(t *testing.T) {
	srv := testutil.NewFeedServer(t)

	tier := NewTier(Sporadic, Layout{BaseURL: srv.URL()}, NewHTTPFetcher())
	st, err := tier.ResolveState(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, st.Resolved)
}

func TestTier_TimestampForCaches(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("hour", 99, day(2))
	srv.AddChangefile("hour", 100, day(3))

	tier := NewTier(Hourly, Layout{BaseURL: srv.URL()}, NewHTTPFetcher())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ts, err := tier.TimestampFor(ctx, 99)
		require.NoError(t, err)
		assert.Equal(t, day(2), ts)
	}
	assert.Equal(t, 1, srv.Hits("hour/000/000/099.state.txt"))
}

func TestTier_SequenceZeroIsEpoch(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("minute", 1, day(1))

	tier := NewTier(Minutely, Layout{BaseURL: srv.URL()}, NewHTTPFetcher())
	ts, err := tier.TimestampFor(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestTier_MissingSequenceIsInconsistent(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("minute", 10, day(1))

	tier := NewTier(Minutely, Layout{BaseURL: srv.URL()}, NewHTTPFetcher())
	_, err := tier.TimestampFor(context.Background(), 9)
	require.Error(t, err)

	var inc *InconsistentError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, Minutely, inc.Kind)
	assert.Equal(t, int64(9), inc.Sequence)
}

func TestTier_StepBack(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("day", 100, day(3))

	tier := NewTier(Daily, Layout{BaseURL: srv.URL()}, NewHTTPFetcher())
	_, err := tier.ResolveState(context.Background(), false)
	require.NoError(t, err)

	tier.StepBack()
	tier.StepBack()
	assert.Equal(t, int64(98), tier.Cursor())
	assert.Equal(t, 1, srv.TotalHits())
}

func TestHTTPFetcher_NotFoundIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	_, err := f.FetchText(context.Background(), srv.URL+"/gone")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.FetchText(context.Background(), srv.URL+"/broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestHTTPFetcher_FetchFile(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("day", 100, day(3))

	dest := filepath.Join(t.TempDir(), "temp.d000000100.osc.gz")
	f := NewHTTPFetcher()
	require.NoError(t, f.FetchFile(context.Background(), Layout{BaseURL: srv.URL()}.DiffURL(Daily, 100), dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, testutil.DiffContent("day", 100), string(data))
	assert.NoFileExists(t, dest+".part")
}

func TestHTTPFetcher_FetchFileNotFoundLeavesNoFile(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("day", 100, day(3))

	dest := filepath.Join(t.TempDir(), "temp.d000000050.osc.gz")
	err := NewHTTPFetcher().FetchFile(context.Background(), Layout{BaseURL: srv.URL()}.DiffURL(Daily, 50), dest)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoFileExists(t, dest)
}

func TestHTTPFetcher_FileScheme(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "day"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "day", "state.txt"), []byte(testutil.StateDocument(7, day(2))), 0o644))

	tier := NewTier(Daily, Layout{BaseURL: "file://" + root}, NewHTTPFetcher())
	st, err := tier.ResolveState(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, st.Resolved)
	assert.Equal(t, int64(7), st.Sequence)

	_, err = NewHTTPFetcher().FetchText(context.Background(), "file://"+filepath.Join(root, "hour", "state.txt"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPFetcher_RateLimitHonoursContext(t *testing.T) {
	srv := testutil.NewFeedServer(t)
	srv.AddChangefile("day", 1, day(1))

	f := NewHTTPFetcher(WithRateLimit(0.001, 1))
	ctx := context.Background()
	_, err := f.FetchText(ctx, srv.URL()+"/day/state.txt")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = f.FetchText(ctx, srv.URL()+"/day/state.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
