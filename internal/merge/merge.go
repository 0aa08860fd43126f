// Package merge consolidates change files through the external converter.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/osmupdate/internal/converter"
)

// TempSuffix marks intermediate merge outputs inside the cache directory.
const TempSuffix = ".tmp.o5c"

// MinOutputBytes is the smallest merge output accepted as plausible.
const MinOutputBytes = 10

// FailureError reports a converter merge that must abort the run.
type FailureError struct {
	Command  string
	ExitCode int
	Reason   string
	Err      error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merging of changefiles failed (%s): %s: %v", e.Reason, e.Command, e.Err)
	}
	return fmt.Sprintf("merging of changefiles failed (%s): %s", e.Reason, e.Command)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Planner merges batches of files into o5c intermediates in one directory.
type Planner struct {
	dir    string
	runner converter.Runner
}

// New creates a planner writing its outputs into dir.
func New(dir string, runner converter.Runner) *Planner {
	return &Planner{dir: dir, runner: runner}
}

// Merge combines files into a single o5c file and returns its path.
//
// No files yields "" without error. A single file with no extra arguments is
// returned as is without running the converter.
func (p *Planner) Merge(ctx context.Context, files []string, extra []string) (string, error) {
	if len(files) == 0 {
		return "", nil
	}
	if len(files) == 1 && len(extra) == 0 {
		return files[0], nil
	}

	args := make([]string, 0, len(files)+len(extra)+2)
	if len(files) > 1 {
		args = append(args, converter.FlagMergeVersions)
	}
	args = append(args, files...)
	args = append(args, extra...)
	args = append(args, converter.FlagOutO5C)

	out, err := os.CreateTemp(p.dir, "*"+TempSuffix)
	if err != nil {
		return "", fmt.Errorf("create merge output: %w", err)
	}
	name := out.Name()

	slog.Info("merging changefiles", "files", len(files), "output", name)
	res, runErr := p.runner.Run(ctx, args, out)
	closeErr := out.Close()

	command := converter.CommandLine("osmconvert", args)
	exitCode := -1
	if res != nil {
		command = res.CommandLine()
		exitCode = res.ExitCode
	}

	if runErr != nil {
		os.Remove(name)
		return "", &FailureError{Command: command, ExitCode: exitCode, Reason: "converter failed", Err: runErr}
	}
	if closeErr != nil {
		os.Remove(name)
		return "", &FailureError{Command: command, ExitCode: exitCode, Reason: "write output", Err: closeErr}
	}

	info, err := os.Stat(name)
	if err != nil {
		return "", &FailureError{Command: command, ExitCode: exitCode, Reason: "output missing", Err: err}
	}
	if info.Size() < MinOutputBytes {
		os.Remove(name)
		return "", &FailureError{
			Command:  command,
			ExitCode: exitCode,
			Reason:   fmt.Sprintf("output too small (%d bytes)", info.Size()),
		}
	}

	return name, nil
}
