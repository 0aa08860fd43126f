package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/diffcache"
	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/journal"
	"github.com/roach88/osmupdate/internal/merge"
	"github.com/roach88/osmupdate/internal/selector"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// Defaults applied by New.
const (
	DefaultMaxDays          = 250
	DefaultMaxMerge         = 7
	DefaultCompressionLevel = 3
)

// Request names what to update and where to write the result.
type Request struct {
	// Source is the data file being updated, or a timestamp literal
	// (2020-01-01T00:00:00Z, NOW-86400) when only the changes are wanted.
	Source string
	// Destination receives the result. Its extension selects the format.
	Destination string
}

// Result is the outcome of a run. It is returned alongside errors too, with
// State set to StateFailed.
type Result struct {
	RunID string
	// Path is the destination written. Empty unless State is StateDone.
	Path string
	// Old is the timestamp of the source snapshot.
	Old time.Time
	// Newest is the newest timestamp among the applied changes.
	Newest time.Time
	// Fetched counts changefiles taken into the run, downloaded or reused.
	Fetched   int
	State     State
	Selection *selector.Selection
}

// Orchestrator runs updates against one replication feed and one cache
// directory.
type Orchestrator struct {
	layout   feed.Layout
	fetcher  feed.Fetcher
	runner   converter.Runner
	cacheDir string

	maxDays          int
	maxMerge         int
	tiers            []feed.Kind
	extraArgs        []string
	compressionLevel int
	keepTempFiles    bool

	journal  *journal.Journal
	ids      journal.RunIDGenerator
	metrics  *Metrics
	observer Observer
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxDays bounds the update span in days.
func WithMaxDays(days int) Option {
	return func(o *Orchestrator) {
		o.maxDays = days
	}
}

// WithMaxMerge sets how many files one converter call may merge.
func WithMaxMerge(n int) Option {
	return func(o *Orchestrator) {
		o.maxMerge = n
	}
}

// WithTiers restricts the run to the given tiers. Without it the sporadic
// feed is probed and minutely, hourly and daily are used otherwise.
func WithTiers(kinds ...feed.Kind) Option {
	return func(o *Orchestrator) {
		o.tiers = append([]feed.Kind(nil), kinds...)
	}
}

// WithExtraArgs sets converter arguments (bbox, border polygon) used for
// every merge and for the final conversion.
func WithExtraArgs(args ...string) Option {
	return func(o *Orchestrator) {
		o.extraArgs = append([]string(nil), args...)
	}
}

// WithCompressionLevel sets the gzip level of .gz destinations.
func WithCompressionLevel(level int) Option {
	return func(o *Orchestrator) {
		o.compressionLevel = level
	}
}

// WithKeepTempFiles controls whether downloaded changefiles stay in the cache
// directory after a successful run. They always stay after a failed one.
func WithKeepTempFiles(keep bool) Option {
	return func(o *Orchestrator) {
		o.keepTempFiles = keep
	}
}

// WithJournal records runs, fetches and merges in j.
func WithJournal(j *journal.Journal) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g journal.RunIDGenerator) Option {
	return func(o *Orchestrator) {
		o.ids = g
	}
}

// WithMetrics counts run activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithObserver registers a state change callback.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// WithClock replaces time.Now, for relative timestamps and journal times.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator. Diffs are cached in cacheDir, which is created
// on first use.
func New(layout feed.Layout, fetcher feed.Fetcher, runner converter.Runner, cacheDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		layout:           layout,
		fetcher:          fetcher,
		runner:           runner,
		cacheDir:         cacheDir,
		maxDays:          DefaultMaxDays,
		maxMerge:         DefaultMaxMerge,
		compressionLevel: DefaultCompressionLevel,
		keepTempFiles:    true,
		ids:              journal.UUIDv7Generator{},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sync brings req.Source up to date and writes req.Destination.
//
// Every failure is a *SyncError. Nothing to apply is reported as
// ErrCodeUpToDate; the destination is not written in that case.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*Result, error) {
	r := &run{o: o, req: req, res: &Result{State: StateInitializing}, started: o.now()}
	err := r.execute(ctx)
	r.finish(ctx, err)
	if err != nil {
		return r.res, err
	}
	return r.res, nil
}

// Plan resolves the source timestamp and the tiers an update would use,
// without downloading any changefile.
func (o *Orchestrator) Plan(ctx context.Context, source string) (*Result, error) {
	old, _, err := o.sourceTimestamp(ctx, source)
	if err != nil {
		return nil, err
	}
	sel, err := selector.New(o.layout, o.fetcher, o.maxDays).Select(ctx, old, o.tiers)
	if err != nil {
		return nil, classify(err)
	}
	return &Result{Old: old, Newest: sel.Target, State: StateTierResolution, Selection: sel}, nil
}

// sourceTimestamp returns the timestamp of a source file, or of a literal
// when no such file exists. fromFile tells which one it was.
func (o *Orchestrator) sourceTimestamp(ctx context.Context, source string) (ts time.Time, fromFile bool, err error) {
	if source == "" {
		return time.Time{}, false, NewConfigurationError("no source file or timestamp given")
	}

	info, statErr := os.Stat(source)
	if statErr == nil && !info.IsDir() {
		ts, ok, err := converter.FileTimestamp(ctx, o.runner, source)
		if err != nil {
			se := NewConfigurationError("cannot read timestamp of %s", source)
			se.Err = err
			return time.Time{}, true, se
		}
		if !ok {
			return time.Time{}, true, NewConfigurationError("%s has no timestamp; give its timestamp as the source instead", source)
		}
		return ts, true, nil
	}

	if ts, ok := timestamp.ParseAt(source, o.now()); ok {
		return ts, false, nil
	}
	return time.Time{}, false, NewConfigurationError("source %s is neither a readable file nor a timestamp", source)
}

// run is the state of one Sync call.
type run struct {
	o       *Orchestrator
	req     Request
	res     *Result
	started time.Time

	fromFile bool
	output   Output
	cache    *diffcache.Cache
	log      *journal.RunLog
}

func (r *run) setState(s State, tier string) {
	prev := r.res.State
	r.res.State = s
	slog.Debug("run state", "from", prev.String(), "to", s.String(), "tier", tier)
	if r.o.observer != nil {
		r.o.observer(Transition{From: prev, To: s, Tier: tier})
	}
}

func (r *run) execute(ctx context.Context) error {
	if err := r.initialize(ctx); err != nil {
		return err
	}

	r.setState(StateTierResolution, "")
	sel, err := selector.New(r.o.layout, r.o.fetcher, r.o.maxDays).Select(ctx, r.res.Old, r.o.tiers)
	if err != nil {
		return classify(err)
	}
	r.res.Selection = sel

	if err := r.walk(ctx, sel.Tiers); err != nil {
		return err
	}

	r.setState(StateFinalizing, "")
	merged, err := r.cache.Finalize(ctx, r.o.maxMerge)
	if err != nil {
		return classify(err)
	}
	if merged == "" {
		if r.fromFile {
			return newUpToDateError("your OSM file is already up-to-date")
		}
		return newUpToDateError("no changefile available after the given timestamp")
	}
	r.res.Newest = r.cache.Newest()

	err = Produce(ctx, r.o.runner, ProduceRequest{
		Merged:           merged,
		Source:           r.sourceFile(),
		Output:           r.output,
		Newest:           r.res.Newest,
		ExtraArgs:        r.o.extraArgs,
		CompressionLevel: r.o.compressionLevel,
	})
	if err != nil {
		var se *SyncError
		if errors.As(err, &se) {
			return err
		}
		return &SyncError{Code: ErrCodeMergeFailure, Message: "could not write output", Err: err}
	}
	r.res.Path = r.req.Destination
	return nil
}

// initialize validates the request and prepares the cache. It never touches
// the network.
func (r *run) initialize(ctx context.Context) error {
	if r.req.Destination == "" {
		return NewConfigurationError("no destination file given")
	}
	if samePath(r.req.Source, r.req.Destination) {
		return NewConfigurationError("source and destination must not be the same file: %s", r.req.Source)
	}

	out, err := ParseOutput(r.req.Destination)
	if err != nil {
		return err
	}
	r.output = out

	old, fromFile, err := r.o.sourceTimestamp(ctx, r.req.Source)
	if err != nil {
		return err
	}
	r.res.Old = old
	r.fromFile = fromFile
	if !out.Format.IsChangeFile() && !fromFile {
		return NewConfigurationError("cannot write a %s file without a source data file", out.Format)
	}

	if err := os.MkdirAll(r.o.cacheDir, 0o755); err != nil {
		se := NewConfigurationError("cannot create cache directory %s", r.o.cacheDir)
		se.Err = err
		return se
	}

	r.res.RunID = r.o.ids.Generate()
	if r.o.journal != nil {
		err := r.o.journal.BeginRun(ctx, journal.Run{
			ID:           r.res.RunID,
			StartedAt:    r.started,
			Source:       r.req.Source,
			Destination:  r.req.Destination,
			OldTimestamp: old,
		})
		if err != nil {
			slog.Warn("journal write failed", "error", err)
		} else {
			r.log = r.o.journal.ForRun(r.res.RunID)
		}
	}

	cacheOpts := []diffcache.Option{
		diffcache.WithRecorder(recorder{log: r.log, metrics: r.o.metrics}),
	}
	if len(r.o.extraArgs) > 0 {
		cacheOpts = append(cacheOpts, diffcache.WithMergeArgs(r.o.extraArgs...))
	}
	r.cache = diffcache.New(r.o.cacheDir, r.o.layout, r.o.fetcher, merge.New(r.o.cacheDir, r.o.runner), cacheOpts...)

	slog.Info("updating",
		"run_id", r.res.RunID,
		"source", r.req.Source,
		"old_timestamp", timestamp.Format(old),
		"destination", r.req.Destination,
	)
	return nil
}

// walk fetches each tier's diffs newest first, densifying after every tier.
func (r *run) walk(ctx context.Context, tiers []selector.ActiveTier) error {
	for _, a := range tiers {
		kind := a.Tier.Kind()
		r.setState(StateWalking, kind.String())

		ts := a.Newest.Timestamp
		for a.Tier.Cursor() >= 0 && ts.After(a.Ceiling) && ts.After(r.res.Old) {
			seq := a.Tier.Cursor()
			if _, err := r.cache.EnsureFetched(ctx, kind, seq, ts); err != nil {
				return classify(err)
			}
			r.res.Fetched++

			a.Tier.StepBack()
			next, err := a.Tier.TimestampFor(ctx, a.Tier.Cursor())
			if err != nil {
				return classify(err)
			}
			ts = next
		}

		r.setState(StateDensifying, kind.String())
		if err := r.cache.Densify(ctx, r.o.maxMerge); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (r *run) sourceFile() string {
	if r.fromFile {
		return r.req.Source
	}
	return ""
}

// finish records the outcome and tidies the cache directory.
func (r *run) finish(ctx context.Context, err error) {
	status := journal.StatusDone
	message := ""
	switch {
	case err == nil:
		r.setState(StateDone, "")
	case IsUpToDate(err):
		var se *SyncError
		errors.As(err, &se)
		status = journal.StatusUpToDate
		message = se.Message
		r.setState(StateDone, "")
	default:
		status = journal.StatusFailed
		message = err.Error()
		r.setState(StateFailed, "")
	}

	if r.cache != nil {
		if err == nil && !r.o.keepTempFiles {
			if cerr := r.cache.Cleanup(); cerr != nil {
				slog.Warn("could not delete temporary files", "error", cerr)
			}
		} else {
			r.cache.Discard()
		}
	}

	finished := r.o.now()
	if r.log != nil {
		if jerr := r.o.journal.FinishRun(ctx, r.res.RunID, status, r.res.Newest, finished, message); jerr != nil {
			slog.Warn("journal write failed", "error", jerr)
		}
	}
	// Configuration errors are rejected before a run exists.
	if r.res.RunID != "" {
		r.o.metrics.observeRun(status, r.res.Newest, finished.Sub(r.started))
	}
}

// samePath reports whether a and b name the same file.
func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if fa, err := os.Stat(a); err == nil {
		if fb, err := os.Stat(b); err == nil && os.SameFile(fa, fb) {
			return true
		}
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// recorder fans cache events out to the journal and the metrics.
type recorder struct {
	log     *journal.RunLog
	metrics *Metrics
}

func (r recorder) RecordFetch(ctx context.Context, f journal.Fetch) error {
	r.metrics.observeFetch(f)
	if r.log == nil {
		return nil
	}
	return r.log.RecordFetch(ctx, f)
}

func (r recorder) RecordMerge(ctx context.Context, m journal.Merge) error {
	r.metrics.observeMerge()
	if r.log == nil {
		return nil
	}
	return r.log.RecordMerge(ctx, m)
}

// String describes a result in one line.
func (r *Result) String() string {
	if r.Path == "" {
		return fmt.Sprintf("%s (old %s)", r.State, timestamp.Format(r.Old))
	}
	return fmt.Sprintf("%s %s -> %s (%d changefiles)", r.State, timestamp.Format(r.Old), timestamp.Format(r.Newest), r.Fetched)
}
