package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/roach88/osmupdate/internal/converter"
)

// ErrConverterFailed is what FakeConverter returns for a forced failure.
var ErrConverterFailed = errors.New("exit status 1")

// FakeConverter stands in for osmconvert.
//
// A merge or conversion concatenates its positional input files and appends
// one "# <flag>" line per remaining argument, so tests can read back exactly
// what was merged and with which options. --out-timestamp and
// --out-statistics answer from the Timestamps and Statistics maps.
type FakeConverter struct {
	// Timestamps maps a file path to its --out-timestamp output.
	Timestamps map[string]string
	// Statistics maps a file path to its --out-statistics output.
	Statistics map[string]string
	// FailWhen forces a non-zero exit for matching invocations.
	FailWhen func(args []string) bool
	// Silent makes merges produce no output at all.
	Silent bool

	mu    sync.Mutex
	calls [][]string
}

// NewFakeConverter creates an empty fake.
func NewFakeConverter() *FakeConverter {
	return &FakeConverter{
		Timestamps: make(map[string]string),
		Statistics: make(map[string]string),
	}
}

// Calls returns a copy of every argument list seen, in order.
func (c *FakeConverter) Calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = append([]string(nil), call...)
	}
	return out
}

// CallCount returns the number of invocations.
func (c *FakeConverter) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Run implements converter.Runner.
func (c *FakeConverter) Run(ctx context.Context, args []string, stdout io.Writer) (*converter.Result, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), args...))
	c.mu.Unlock()

	res := &converter.Result{Program: "osmconvert", Args: append([]string(nil), args...)}
	if stdout == nil {
		stdout = io.Discard
	}

	if c.FailWhen != nil && c.FailWhen(args) {
		res.ExitCode = 1
		res.Stderr = "forced failure"
		return res, fmt.Errorf("run %s: %w", res.CommandLine(), ErrConverterFailed)
	}

	var inputs, flags []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
		} else {
			inputs = append(inputs, a)
		}
	}

	for _, f := range flags {
		switch f {
		case converter.FlagOutTimestamp:
			fmt.Fprintln(stdout, c.lookup(c.Timestamps, inputs, "(invalid timestamp)"))
			return res, nil
		case converter.FlagOutStatistics:
			fmt.Fprintln(stdout, c.lookup(c.Statistics, inputs, ""))
			return res, nil
		}
	}

	if c.Silent {
		return res, nil
	}

	for _, in := range inputs {
		data, err := os.ReadFile(in)
		if err != nil {
			res.ExitCode = 1
			res.Stderr = err.Error()
			return res, fmt.Errorf("run %s: %w", res.CommandLine(), err)
		}
		if _, err := stdout.Write(data); err != nil {
			return res, err
		}
	}
	for _, f := range flags {
		fmt.Fprintf(stdout, "# %s\n", f)
	}
	return res, nil
}

func (c *FakeConverter) lookup(m map[string]string, inputs []string, fallback string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(inputs) == 0 {
		return fallback
	}
	if v, ok := m[inputs[0]]; ok {
		return v
	}
	return fallback
}
