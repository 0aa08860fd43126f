package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/merge"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// Format is the kind of file written to the destination.
type Format int

const (
	FormatO5C Format = iota
	FormatOSC
	FormatPBF
	FormatO5M
	FormatOSM
)

var formatExt = map[string]Format{
	".o5c": FormatO5C,
	".osc": FormatOSC,
	".pbf": FormatPBF,
	".o5m": FormatO5M,
	".osm": FormatOSM,
}

func (f Format) String() string {
	for ext, v := range formatExt {
		if v == f {
			return strings.TrimPrefix(ext, ".")
		}
	}
	return "unknown"
}

// IsChangeFile reports whether f holds changes rather than a full snapshot.
func (f Format) IsChangeFile() bool {
	return f == FormatO5C || f == FormatOSC
}

func (f Format) flag() string {
	switch f {
	case FormatOSC:
		return converter.FlagOutOSC
	case FormatPBF:
		return converter.FlagOutPBF
	case FormatO5M:
		return converter.FlagOutO5M
	case FormatOSM:
		return converter.FlagOutOSM
	default:
		return converter.FlagOutO5C
	}
}

// Output describes the destination file.
type Output struct {
	Path   string
	Format Format
	Gzip   bool
}

// ParseOutput derives the output format from the destination's extension.
// A trailing .gz requests gzip compression of the inner format.
func ParseOutput(path string) (Output, error) {
	name := strings.ToLower(filepath.Base(path))
	out := Output{Path: path}
	if trimmed, ok := strings.CutSuffix(name, ".gz"); ok {
		out.Gzip = true
		name = trimmed
	}
	f, ok := formatExt[filepath.Ext(name)]
	if !ok {
		return Output{}, NewConfigurationError("unknown output file format: %s", path)
	}
	out.Format = f
	return out, nil
}

// ProduceRequest is everything Produce needs besides the converter.
type ProduceRequest struct {
	// Merged is the consolidated change file, an o5c file.
	Merged string
	// Source is the data file being updated; empty when the update started
	// from a bare timestamp.
	Source string
	Output Output
	Newest time.Time
	// ExtraArgs are converter arguments (bbox, polygon) applied when writing
	// a full data file.
	ExtraArgs []string
	// CompressionLevel is the gzip level, 1 to 9.
	CompressionLevel int
}

// Produce writes the destination from the merged change file.
//
// A change-file destination receives the merged changes, converted to osc if
// needed. A data-file destination receives the source file with the changes
// applied. The destination appears only once complete.
func Produce(ctx context.Context, runner converter.Runner, req ProduceRequest) error {
	out := req.Output
	if !out.Format.IsChangeFile() && req.Source == "" {
		return NewConfigurationError("cannot write a %s file without a source data file", out.Format)
	}

	if out.Format == FormatO5C && !out.Gzip {
		slog.Info("moving merged changefile", "from", req.Merged, "to", out.Path)
		if err := moveFile(req.Merged, out.Path); err != nil {
			return fmt.Errorf("write %s: %w", out.Path, err)
		}
		return nil
	}

	part := out.Path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}
	defer os.Remove(part)

	var (
		w  io.Writer = f
		gz *gzip.Writer
	)
	if out.Gzip {
		gz, err = gzip.NewWriterLevel(f, req.CompressionLevel)
		if err != nil {
			f.Close()
			return fmt.Errorf("compress %s: %w", out.Path, err)
		}
		w = gz
	}

	if err := write(ctx, runner, req, w); err != nil {
		f.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return fmt.Errorf("compress %s: %w", out.Path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", out.Path, err)
	}
	if err := os.Rename(part, out.Path); err != nil {
		return fmt.Errorf("write %s: %w", out.Path, err)
	}
	return nil
}

func write(ctx context.Context, runner converter.Runner, req ProduceRequest, w io.Writer) error {
	out := req.Output
	switch {
	case out.Format == FormatO5C:
		src, err := os.Open(req.Merged)
		if err != nil {
			return fmt.Errorf("read %s: %w", req.Merged, err)
		}
		defer src.Close()
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("write %s: %w", out.Path, err)
		}
		return nil
	case out.Format.IsChangeFile():
		return convert(ctx, runner, []string{req.Merged, out.Format.flag()}, w)
	default:
		args := []string{req.Source, req.Merged}
		args = append(args, req.ExtraArgs...)
		if req.Newest.After(timestamp.OutputThreshold) {
			args = append(args, converter.TimestampArg(timestamp.Format(req.Newest)))
		}
		args = append(args, out.Format.flag())
		return convert(ctx, runner, args, w)
	}
}

func convert(ctx context.Context, runner converter.Runner, args []string, w io.Writer) error {
	slog.Info("converting output", "command", converter.CommandLine("osmconvert", args))
	res, err := runner.Run(ctx, args, w)
	if err != nil {
		fe := &merge.FailureError{Reason: "conversion failed", ExitCode: -1, Err: err}
		fe.Command = converter.CommandLine("osmconvert", args)
		if res != nil {
			fe.Command = res.CommandLine()
			fe.ExitCode = res.ExitCode
		}
		return fe
	}
	return nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	part := dst + ".part"
	out, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(part)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, dst); err != nil {
		os.Remove(part)
		return err
	}
	return os.Remove(src)
}
