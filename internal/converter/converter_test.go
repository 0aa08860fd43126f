package converter_test

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/testutil"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_CapturesStdout(t *testing.T) {
	requireShell(t)

	var out bytes.Buffer
	r := converter.NewExecRunner("sh")
	res, err := r.Run(context.Background(), []string{"-c", "echo merged"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "merged\n", out.String())
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireShell(t)

	r := converter.NewExecRunner("sh")
	res, err := r.Run(context.Background(), []string{"-c", "echo bad input >&2; exit 3"}, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "bad input")
	assert.Contains(t, err.Error(), "sh -c")
}

func TestExecRunner_MissingProgram(t *testing.T) {
	r := converter.NewExecRunner("osmconvert-does-not-exist")
	res, err := r.Run(context.Background(), []string{converter.FlagOutTimestamp, "x.o5m"}, nil)
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecRunner_Env(t *testing.T) {
	requireShell(t)

	var out bytes.Buffer
	r := converter.NewExecRunner("sh", converter.WithEnv("OSMUPDATE_TEST=42"), converter.WithWorkingDir(t.TempDir()))
	_, err := r.Run(context.Background(), []string{"-c", "echo $OSMUPDATE_TEST"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "42\n", out.String())
}

func TestArgs(t *testing.T) {
	assert.Equal(t, "--timestamp=2020-01-03T00:00:00Z", converter.TimestampArg("2020-01-03T00:00:00Z"))
	assert.Equal(t, "-b=-0.5,51,0.5,52", converter.BBoxArg("-0.5,51,0.5,52"))
	assert.Equal(t, "-B=london.poly", converter.PolygonArg("london.poly"))
	assert.Equal(t, "osmconvert a b", converter.CommandLine("osmconvert", []string{"a", "b"}))
}

func TestFileTimestamp_FromHeader(t *testing.T) {
	fake := testutil.NewFakeConverter()
	fake.Timestamps["old.o5m"] = "2020-01-01T00:00:00Z"

	ts, ok, err := converter.FileTimestamp(context.Background(), fake, "old.o5m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), ts)
	assert.Equal(t, 1, fake.CallCount())
}

func TestFileTimestamp_StatisticsFallbackAgedFourHours(t *testing.T) {
	fake := testutil.NewFakeConverter()
	fake.Statistics["old.pbf"] = "timestamp min: 2008-01-01T00:00:00Z\ntimestamp max: 2020-01-01T12:00:00Z\nnodes: 12"

	ts, ok, err := converter.FileTimestamp(context.Background(), fake, "old.pbf")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC), ts)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{converter.FlagOutStatistics, "old.pbf"}, calls[1])
}

func TestFileTimestamp_None(t *testing.T) {
	fake := testutil.NewFakeConverter()
	fake.Statistics["old.osm"] = "nodes: 0"

	_, ok, err := converter.FileTimestamp(context.Background(), fake, "old.osm")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileTimestamp_RunnerError(t *testing.T) {
	fake := testutil.NewFakeConverter()
	fake.FailWhen = func([]string) bool { return true }

	_, _, err := converter.FileTimestamp(context.Background(), fake, "old.o5m")
	assert.ErrorIs(t, err, testutil.ErrConverterFailed)
}
