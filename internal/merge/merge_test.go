package merge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMerge_NoFilesIsNoop(t *testing.T) {
	fake := testutil.NewFakeConverter()
	p := New(t.TempDir(), fake)

	out, err := p.Merge(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, fake.CallCount())
}

func TestMerge_SingleFileReturnedUnchanged(t *testing.T) {
	dir := t.TempDir()
	fake := testutil.NewFakeConverter()
	p := New(dir, fake)
	in := writeFile(t, dir, "temp.m000000001.osc.gz", "<osmChange/>\n")

	out, err := p.Merge(context.Background(), []string{in}, nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Zero(t, fake.CallCount())
}

func TestMerge_SingleFileWithArgsRunsConverter(t *testing.T) {
	dir := t.TempDir()
	fake := testutil.NewFakeConverter()
	p := New(dir, fake)
	in := writeFile(t, dir, "temp.m000000001.osc.gz", "<osmChange/>\n")

	out, err := p.Merge(context.Background(), []string{in}, []string{"--timestamp=2020-01-03T00:00:00Z"})
	require.NoError(t, err)
	assert.NotEqual(t, in, out)
	assert.True(t, strings.HasSuffix(out, TempSuffix))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{in, "--timestamp=2020-01-03T00:00:00Z", converter.FlagOutO5C}, calls[0])
	assert.NotContains(t, calls[0], converter.FlagMergeVersions)
}

func TestMerge_ManyFiles(t *testing.T) {
	dir := t.TempDir()
	fake := testutil.NewFakeConverter()
	p := New(dir, fake)
	a := writeFile(t, dir, "a.osc.gz", "<a>changes</a>\n")
	b := writeFile(t, dir, "b.osc.gz", "<b>changes</b>\n")

	out, err := p.Merge(context.Background(), []string{a, b}, []string{"-b=1,2,3,4"})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(out))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{converter.FlagMergeVersions, a, b, "-b=1,2,3,4", converter.FlagOutO5C}, calls[0])

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "<a>changes</a>\n<b>changes</b>\n# --merge-versions\n# -b=1,2,3,4\n# --out-o5c\n", string(data))
}

func TestMerge_ConverterFailure(t *testing.T) {
	dir := t.TempDir()
	fake := testutil.NewFakeConverter()
	fake.FailWhen = func([]string) bool { return true }
	p := New(dir, fake)
	a := writeFile(t, dir, "a.osc.gz", "<a/>\n")
	b := writeFile(t, dir, "b.osc.gz", "<b/>\n")

	_, err := p.Merge(context.Background(), []string{a, b}, nil)
	require.Error(t, err)

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.ExitCode)
	assert.Contains(t, fe.Command, converter.FlagMergeVersions)
	assert.Contains(t, fe.Command, a)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*"+TempSuffix))
	assert.Empty(t, leftovers)
}

func TestMerge_UndersizedOutput(t *testing.T) {
	dir := t.TempDir()
	fake := testutil.NewFakeConverter()
	fake.Silent = true
	p := New(dir, fake)
	a := writeFile(t, dir, "a.osc.gz", "<a/>\n")
	b := writeFile(t, dir, "b.osc.gz", "<b/>\n")

	_, err := p.Merge(context.Background(), []string{a, b}, nil)
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "too small")
}
