package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/osmupdate/internal/config"
	"github.com/roach88/osmupdate/internal/diffcache"
	"github.com/roach88/osmupdate/internal/journal"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	TempDir string
	Limit   int
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent runs and cached changefiles",
		Long: `List the most recent update runs recorded in the journal of the temp
directory, and the changefiles cached there per tier.

Example:
  osmupdate status
  osmupdate status -t /var/cache/osmupdate --limit 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.TempDir, "tempfiles", "t", config.Default().TempDir, "directory caching downloaded changefiles")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of runs to show")

	return cmd
}

// runSummary is one journal run with its download counts.
type runSummary struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Old         string `json:"old_timestamp"`
	Newest      string `json:"newest_timestamp,omitempty"`
	Downloaded  int    `json:"downloaded"`
	Reused      int    `json:"reused"`
	Merges      int    `json:"merges"`
	Message     string `json:"message,omitempty"`
}

// tierCache summarises the cached diffs of one tier.
type tierCache struct {
	Tier  string `json:"tier"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
	First int64  `json:"first_sequence"`
	Last  int64  `json:"last_sequence"`
}

type statusReport struct {
	Dir   string       `json:"dir"`
	Runs  []runSummary `json:"runs"`
	Cache []tierCache  `json:"cache"`
}

func (r statusReport) String() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.Dir)
	if len(r.Runs) == 0 {
		b.WriteString("no runs recorded\n")
	}
	for _, run := range r.Runs {
		b.WriteString(p.Sprintf("%s  %-10s %s -> %s  %d downloaded, %d reused, %d merges\n",
			run.StartedAt, run.Status, run.Source, run.Destination, run.Downloaded, run.Reused, run.Merges))
		if run.Message != "" {
			fmt.Fprintf(&b, "    %s\n", run.Message)
		}
	}
	for _, c := range r.Cache {
		b.WriteString(p.Sprintf("cached %-9s %d files, %d bytes, sequences %d..%d\n", c.Tier, c.Files, c.Bytes, c.First, c.Last))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dir := opts.TempDir
	if !cmd.Flags().Changed("tempfiles") && opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			_ = formatter.Error("CONFIGURATION", err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		dir = cfg.TempDir
	}

	report := statusReport{Dir: dir, Runs: []runSummary{}, Cache: []tierCache{}}

	if _, err := os.Stat(filepath.Join(dir, journal.FileName)); err == nil {
		runs, err := listRuns(cmd.Context(), dir, opts.Limit)
		if err != nil {
			_ = formatter.Error("JOURNAL", err.Error(), nil)
			return WrapExitError(ExitFailure, "failed to read journal", err)
		}
		report.Runs = runs
	}

	entries, err := diffcache.Scan(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = formatter.Error("CACHE", err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to scan cache", err)
	}
	for _, e := range entries {
		n := len(report.Cache)
		if n == 0 || report.Cache[n-1].Tier != e.Kind.String() {
			report.Cache = append(report.Cache, tierCache{Tier: e.Kind.String(), First: e.Sequence})
			n++
		}
		c := &report.Cache[n-1]
		c.Files++
		c.Bytes += e.Bytes
		c.Last = e.Sequence
	}

	return formatter.Success(report)
}

func listRuns(ctx context.Context, dir string, limit int) ([]runSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	j, err := journal.OpenDir(dir)
	if err != nil {
		return nil, err
	}
	defer j.Close()

	runs, err := j.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		s := runSummary{
			ID:          r.ID,
			Status:      r.Status,
			StartedAt:   timestamp.Format(r.StartedAt),
			Source:      r.Source,
			Destination: r.Destination,
			Old:         timestamp.Format(r.OldTimestamp),
			Message:     r.Message,
		}
		if !r.Newest.IsZero() {
			s.Newest = timestamp.Format(r.Newest)
		}
		fetches, err := j.ListFetches(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range fetches {
			if f.Reused {
				s.Reused++
			} else {
				s.Downloaded++
			}
		}
		merges, err := j.ListMerges(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		s.Merges = len(merges)
		out = append(out, s)
	}
	return out, nil
}
