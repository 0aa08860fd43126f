package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/osmupdate/internal/config"
	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/engine"
	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/journal"
)

// setupLogging installs the process-wide slog handler.
func setupLogging(opts *RootOptions, w io.Writer) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM, or when the command's
// context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

// session is everything one command needs to talk to the feed.
type session struct {
	cfg     *config.Config
	orch    *engine.Orchestrator
	journal *journal.Journal
	metrics *engine.Metrics
}

// openSession wires the orchestrator from cfg. With record set, runs are
// written to the journal in the temp dir and counted for the metrics file.
func openSession(cfg *config.Config, opts *SyncOptions, record bool) (*session, error) {
	kinds, err := cfg.Kinds()
	if err != nil {
		return nil, err
	}

	runner := opts.Runner
	if runner == nil {
		runner = converter.NewExecRunner(cfg.Converter)
	}
	fetcher := feed.NewHTTPFetcher(
		feed.WithTimeout(cfg.HTTPTimeout.Std()),
		feed.WithRateLimit(cfg.RateLimit, 1),
	)

	s := &session{cfg: cfg}
	engineOpts := []engine.Option{
		engine.WithMaxDays(cfg.MaxDays),
		engine.WithMaxMerge(cfg.MaxMerge),
		engine.WithTiers(kinds...),
		engine.WithExtraArgs(cfg.ExtraArgs()...),
		engine.WithCompressionLevel(cfg.CompressionLevel),
		engine.WithKeepTempFiles(cfg.KeepTempFiles),
	}
	if opts.IDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.IDs))
	}

	if record {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			slog.Warn("journal disabled", "dir", cfg.TempDir, "error", err)
		} else if j, err := journal.OpenDir(cfg.TempDir); err != nil {
			slog.Warn("journal disabled", "dir", cfg.TempDir, "error", err)
		} else {
			s.journal = j
			engineOpts = append(engineOpts, engine.WithJournal(j))
		}
		if cfg.MetricsFile != "" {
			s.metrics = engine.NewMetrics()
			engineOpts = append(engineOpts, engine.WithMetrics(s.metrics))
		}
	}

	s.orch = engine.New(cfg.Layout(), fetcher, runner, cfg.TempDir, engineOpts...)
	return s, nil
}

// writeMetrics writes the metrics textfile, if one is configured.
func (s *session) writeMetrics() {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.WriteTextfile(s.cfg.MetricsFile); err != nil {
		slog.Warn("could not write metrics file", "path", s.cfg.MetricsFile, "error", err)
	}
}

func (s *session) Close() {
	if s.journal == nil {
		return
	}
	if err := s.journal.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// reportSyncError prints err and converts it into an ExitError.
func reportSyncError(formatter *OutputFormatter, err error) error {
	var se *engine.SyncError
	if !errors.As(err, &se) {
		_ = formatter.Error(string(engine.ErrCodeFeedUnavailable), err.Error(), nil)
		return WrapExitError(ExitFailure, "update failed", err)
	}
	_ = formatter.Error(string(se.Code), err.Error(), se.Details)
	return WrapExitError(ExitCodeFor(err), string(se.Code), err)
}
