package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/osmupdate/internal/engine"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return newUpdateCommand(&SyncOptions{RootOptions: rootOpts})
}

func newUpdateCommand(opts *SyncOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <old> <new>",
		Short: "Update an OSM file or assemble a change file",
		Long: `Download the changefiles published since <old> and write <new>.

<old> is an OSM data file carrying a timestamp, or a timestamp such as
2020-01-01T00:00:00Z or NOW-86400. The extension of <new> selects the
output: .osc and .o5c write the merged changes, .osm, .o5m and .pbf write
<old> with the changes applied. A trailing .gz compresses the result.

Example:
  osmupdate update europe.o5m europe-new.o5m
  osmupdate update 2024-05-01T00:00:00Z changes.osc.gz --day
  osmupdate update old.pbf new.pbf -B=london.poly --keep-tempfiles`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, opts, args[0], args[1])
		},
	}
	bindSyncFlags(cmd, opts)
	return cmd
}

// updateReport describes a finished update.
type updateReport struct {
	Status       string   `json:"status"` // "done" | "up_to_date"
	Message      string   `json:"message,omitempty"`
	Destination  string   `json:"destination,omitempty"`
	OldTimestamp string   `json:"old_timestamp,omitempty"`
	NewTimestamp string   `json:"new_timestamp,omitempty"`
	Changefiles  int      `json:"changefiles"`
	Tiers        []string `json:"tiers,omitempty"`
}

func (r updateReport) String() string {
	if r.Status == "up_to_date" {
		return r.Message
	}
	return fmt.Sprintf("wrote %s: %s -> %s (%d changefiles, tiers %s)",
		r.Destination, r.OldTimestamp, r.NewTimestamp, r.Changefiles, strings.Join(r.Tiers, ","))
}

func runUpdate(cmd *cobra.Command, opts *SyncOptions, oldFile, newFile string) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		_ = formatter.Error(string(engine.ErrCodeConfiguration), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	s, err := openSession(cfg, opts, true)
	if err != nil {
		_ = formatter.Error(string(engine.ErrCodeConfiguration), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	defer s.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	formatter.VerboseLog("updating %s from %s", newFile, oldFile)
	res, err := s.orch.Sync(ctx, engine.Request{Source: oldFile, Destination: newFile})
	if res != nil {
		formatter.RunID = res.RunID
	}
	s.writeMetrics()

	if err != nil {
		if engine.IsUpToDate(err) {
			var se *engine.SyncError
			errors.As(err, &se)
			return formatter.Success(updateReport{
				Status:       "up_to_date",
				Message:      se.Message,
				OldTimestamp: timestamp.Format(res.Old),
			})
		}
		return reportSyncError(formatter, err)
	}

	report := updateReport{
		Status:       "done",
		Destination:  res.Path,
		OldTimestamp: timestamp.Format(res.Old),
		NewTimestamp: timestamp.Format(res.Newest),
		Changefiles:  res.Fetched,
	}
	for _, k := range res.Selection.Kinds() {
		report.Tiers = append(report.Tiers, k.String())
	}
	return formatter.Success(report)
}
