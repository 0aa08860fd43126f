package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStatusCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewStatusCommand(&RootOptions{Format: format})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	out, err := runStatusCommand(t, "text", "--tempfiles", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")
}

func TestStatus_MissingDir(t *testing.T) {
	out, err := runStatusCommand(t, "json", "--tempfiles", "/nonexistent/osmupdate")
	require.NoError(t, err)

	_, data := decodeResponse(t, out)
	assert.Empty(t, data["runs"])
	assert.Empty(t, data["cache"])
}

func TestStatus_AfterUpdate(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.update(t, "json", "2020-01-01T00:00:00Z", f.path("changes.osc"), "--day", "--keep-tempfiles")
	require.NoError(t, err)

	out, err := runStatusCommand(t, "json", "--tempfiles", f.tempDir)
	require.NoError(t, err)

	_, data := decodeResponse(t, out)
	runs, ok := data["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	assert.Equal(t, "run-1", run["id"])
	assert.Equal(t, "done", run["status"])
	assert.Equal(t, "2020-01-03T00:00:00Z", run["newest_timestamp"])
	assert.Equal(t, float64(2), run["downloaded"])
	assert.Equal(t, float64(0), run["reused"])

	caches, ok := data["cache"].([]any)
	require.True(t, ok)
	require.Len(t, caches, 1)
	cache := caches[0].(map[string]any)
	assert.Equal(t, "daily", cache["tier"])
	assert.Equal(t, float64(2), cache["files"])
	assert.Equal(t, float64(99), cache["first_sequence"])
	assert.Equal(t, float64(100), cache["last_sequence"])
	assert.Greater(t, cache["bytes"].(float64), float64(0))
}

func TestStatus_TextGroupsNumbers(t *testing.T) {
	report := statusReport{
		Dir: "/tmp/osmupdate",
		Runs: []runSummary{{
			StartedAt: "2020-01-05T12:00:00Z", Status: "done",
			Source: "old.o5m", Destination: "new.o5m", Downloaded: 1440,
		}},
		Cache: []tierCache{{Tier: "minutely", Files: 1440, Bytes: 12345678, First: 1, Last: 1440}},
	}

	text := report.String()
	assert.Contains(t, text, "1,440 downloaded")
	assert.Contains(t, text, "12,345,678 bytes")
}
