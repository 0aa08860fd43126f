package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/journal"
)

func TestMetrics_CountRunActivity(t *testing.T) {
	f := newFixture(t)
	f.dailyFeed()
	m := NewMetrics()
	o := f.orchestrator(WithTiers(feed.Daily), WithMetrics(m))
	ctx := context.Background()

	_, err := o.Sync(ctx, Request{Source: "2020-01-01T00:00:00Z", Destination: f.path("a.osc")})
	require.NoError(t, err)
	_, err = o.Sync(ctx, Request{Source: "2020-01-01T00:00:00Z", Destination: f.path("b.osc")})
	require.NoError(t, err)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.downloaded.WithLabelValues("daily")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.reused.WithLabelValues("daily")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.merges))
	assert.Equal(t, float64(date(2020, 1, 3, 0, 0).Unix()), promtestutil.ToFloat64(m.newest))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.lastRun.WithLabelValues(journal.StatusDone)))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(m.lastRun.WithLabelValues(journal.StatusFailed)))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.observeFetch(journal.Fetch{Tier: "hourly"})
	m.observeMerge()

	path := filepath.Join(t.TempDir(), "osmupdate.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `osmupdate_changefiles_downloaded_total{tier="hourly"} 1`)
	assert.Contains(t, string(data), "osmupdate_merges_total 1")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observeFetch(journal.Fetch{Tier: "daily"})
	m.observeMerge()
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
	assert.Nil(t, m.Registry())
}
