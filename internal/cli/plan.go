package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/osmupdate/internal/engine"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	return newPlanCommand(&SyncOptions{RootOptions: rootOpts})
}

func newPlanCommand(opts *SyncOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <old>",
		Short: "Show which tiers an update would use",
		Long: `Resolve the tiers an update from <old> would walk and check the update
range, without downloading any changefile.

Example:
  osmupdate plan europe.o5m
  osmupdate plan NOW-86400 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, args[0])
		},
	}
	bindSyncFlags(cmd, opts)
	return cmd
}

// planTier is one tier of a plan.
type planTier struct {
	Tier     string `json:"tier"`
	Sequence int64  `json:"sequence"`
	Newest   string `json:"newest"`
	Ceiling  string `json:"ceiling,omitempty"` // walk stops at or below this
}

// planReport describes the tier selection for an update.
type planReport struct {
	OldTimestamp string     `json:"old_timestamp"`
	Target       string     `json:"target"`
	Days         int        `json:"days"`
	Autodetected bool       `json:"autodetected"`
	Tiers        []planTier `json:"tiers"`
	Suppressed   []string   `json:"suppressed,omitempty"`
}

func (r planReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "update %s -> %s (%d days)\n", r.OldTimestamp, r.Target, r.Days)
	for _, t := range r.Tiers {
		fmt.Fprintf(&b, "  %-9s newest %d at %s", t.Tier, t.Sequence, t.Newest)
		if t.Ceiling != "" {
			fmt.Fprintf(&b, ", down to %s", t.Ceiling)
		}
		b.WriteString("\n")
	}
	if r.Autodetected {
		b.WriteString("  sporadic feed detected\n")
	}
	if len(r.Suppressed) > 0 {
		fmt.Fprintf(&b, "  skipped: %s\n", strings.Join(r.Suppressed, ", "))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func runPlan(cmd *cobra.Command, opts *SyncOptions, oldFile string) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		_ = formatter.Error(string(engine.ErrCodeConfiguration), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	s, err := openSession(cfg, opts, false)
	if err != nil {
		_ = formatter.Error(string(engine.ErrCodeConfiguration), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	defer s.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := s.orch.Plan(ctx, oldFile)
	if err != nil {
		return reportSyncError(formatter, err)
	}

	sel := res.Selection
	report := planReport{
		OldTimestamp: timestamp.Format(res.Old),
		Target:       timestamp.Format(sel.Target),
		Days:         sel.Days,
		Autodetected: sel.Autodetected,
		Tiers:        []planTier{},
	}
	for _, a := range sel.Tiers {
		t := planTier{
			Tier:     a.Tier.Kind().String(),
			Sequence: a.Newest.Sequence,
			Newest:   timestamp.Format(a.Newest.Timestamp),
		}
		if a.HasCeiling() {
			t.Ceiling = timestamp.Format(a.Ceiling)
		}
		report.Tiers = append(report.Tiers, t)
	}
	for _, k := range sel.Suppressed {
		report.Suppressed = append(report.Suppressed, k.String())
	}
	return formatter.Success(report)
}
