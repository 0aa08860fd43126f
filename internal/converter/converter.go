// Package converter runs the external OSM converter (osmconvert) that merges,
// filters and serializes change files.
//
// The engine never parses OSM data itself. Every format concern goes through
// a Runner, which tests replace with an in-process fake.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Converter flags understood by osmconvert.
const (
	FlagMergeVersions = "--merge-versions"
	FlagOutO5C        = "--out-o5c"
	FlagOutOSC        = "--out-osc"
	FlagOutPBF        = "--out-pbf"
	FlagOutO5M        = "--out-o5m"
	FlagOutOSM        = "--out-osm"
	FlagOutTimestamp  = "--out-timestamp"
	FlagOutStatistics = "--out-statistics"
)

// TimestampArg sets the file timestamp of the converter's output.
func TimestampArg(literal string) string {
	return "--timestamp=" + literal
}

// BBoxArg clips output to a bounding box ("minlon,minlat,maxlon,maxlat").
func BBoxArg(bbox string) string {
	return "-b=" + bbox
}

// PolygonArg clips output to a border polygon file.
func PolygonArg(path string) string {
	return "-B=" + path
}

// Result holds the outcome of one converter invocation.
type Result struct {
	Program  string
	Args     []string
	Stderr   string
	ExitCode int
}

// CommandLine renders the invocation for diagnostics.
func (r *Result) CommandLine() string {
	return CommandLine(r.Program, r.Args)
}

// CommandLine joins a program and its arguments with spaces.
func CommandLine(program string, args []string) string {
	return strings.Join(append([]string{program}, args...), " ")
}

// Runner executes the converter. Stdout is streamed to the given writer
// (discarded when nil). A non-zero exit status is returned as an error
// together with a populated Result.
type Runner interface {
	Run(ctx context.Context, args []string, stdout io.Writer) (*Result, error)
}

// ExecRunner runs a converter binary through os/exec.
type ExecRunner struct {
	program string
	dir     string
	env     []string
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithWorkingDir sets the working directory of the converter process.
func WithWorkingDir(dir string) Option {
	return func(r *ExecRunner) {
		r.dir = dir
	}
}

// WithEnv appends KEY=VALUE pairs to the process environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) {
		r.env = append(r.env, env...)
	}
}

// NewExecRunner creates a runner for the given program name or path.
func NewExecRunner(program string, opts ...Option) *ExecRunner {
	r := &ExecRunner{program: program}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, args []string, stdout io.Writer) (*Result, error) {
	cmd := exec.CommandContext(ctx, r.program, args...)
	if r.dir != "" {
		cmd.Dir = r.dir
	}
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Program: r.program,
		Args:    append([]string(nil), args...),
		Stderr:  stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
	}

	if err != nil {
		return res, fmt.Errorf("run %s: %w", res.CommandLine(), err)
	}
	return res, nil
}
