package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/osmupdate/internal/engine"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
		RunID:  "run-1",
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("FEED_UNAVAILABLE", "no daily tier", map[string]string{"tier": "daily"})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FEED_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "no daily tier", resp.Error.Message)
	assert.Equal(t, map[string]string{"tier": "daily"}, resp.Error.Details)
	assert.Empty(t, resp.RunID)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("your OSM file is already up-to-date")
	require.NoError(t, err)
	assert.Equal(t, "your OSM file is already up-to-date\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error("MERGE_FAILURE", "merge failed", map[string]string{"command": "osmconvert"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [MERGE_FAILURE]: merge failed")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("RANGE_EXCEEDED", "too old", map[string]string{"max_days": "1", "days": "2"})
	require.NoError(t, err)
	assert.Equal(t, "Error [RANGE_EXCEEDED]: too old\nDetails:\n  days: 2\n  max_days: 1\n", buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("updating %s", "new.o5m")

			assert.Empty(t, out.String(), "verbose logs never go to the JSON stream")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "updating new.o5m")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("boom")
	err := WrapExitError(ExitCommandError, "invalid configuration", inner)

	assert.Equal(t, "invalid configuration: boom", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ExitFailure, GetExitCode(inner))
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code engine.ErrorCode
		want int
	}{
		{engine.ErrCodeUpToDate, ExitSuccess},
		{engine.ErrCodeConfiguration, ExitCommandError},
		{engine.ErrCodeRangeExceeded, ExitFailure},
		{engine.ErrCodeFeedUnavailable, ExitFailure},
		{engine.ErrCodeFeedInconsistent, ExitFailure},
		{engine.ErrCodeMergeFailure, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := &engine.SyncError{Code: tt.code, Message: "x"}
			assert.Equal(t, tt.want, ExitCodeFor(err))
		})
	}
	assert.Equal(t, ExitSuccess, ExitCodeFor(nil))
}
