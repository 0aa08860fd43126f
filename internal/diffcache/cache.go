// Package diffcache keeps the change files of one update run in a local
// directory and folds them into ever fewer merged files.
//
// Downloaded files get deterministic names (temp.d000000100.osc.gz), so a
// rerun against the same directory finds them on disk and skips the download.
// Intermediate merge outputs (*.tmp.o5c) are owned by the run and removed as
// soon as a later merge supersedes them.
package diffcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/osmupdate/internal/converter"
	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/journal"
	"github.com/roach88/osmupdate/internal/merge"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// Recorder receives a note of every fetch and merge. *journal.RunLog
// implements it.
type Recorder interface {
	RecordFetch(ctx context.Context, f journal.Fetch) error
	RecordMerge(ctx context.Context, m journal.Merge) error
}

// Merger merges files into one; *merge.Planner implements it.
type Merger interface {
	Merge(ctx context.Context, files []string, extra []string) (string, error)
}

// Cache is the ordered set of files a run has gathered so far.
// It is owned by one run and is not safe for concurrent use.
type Cache struct {
	dir       string
	layout    feed.Layout
	fetcher   feed.Fetcher
	merger    Merger
	recorder  Recorder
	mergeArgs []string

	paths  []string
	added  map[string]bool
	newest time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithRecorder attaches a journal recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		c.recorder = r
	}
}

// WithMergeArgs sets converter arguments applied to every merge.
func WithMergeArgs(args ...string) Option {
	return func(c *Cache) {
		c.mergeArgs = append([]string(nil), args...)
	}
}

// New creates a cache rooted at dir, which must exist.
func New(dir string, layout feed.Layout, fetcher feed.Fetcher, merger Merger, opts ...Option) *Cache {
	c := &Cache{
		dir:     dir,
		layout:  layout,
		fetcher: fetcher,
		merger:  merger,
		added:   make(map[string]bool),
		newest:  timestamp.Epoch,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileName is the cache filename of a downloaded diff.
func FileName(kind feed.Kind, seq int64) string {
	return fmt.Sprintf("temp.%c%09d.osc.gz", kind.Initial(), seq)
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Paths returns the current file list in insertion order.
func (c *Cache) Paths() []string {
	return append([]string(nil), c.paths...)
}

// Len returns the number of files in the list.
func (c *Cache) Len() int {
	return len(c.paths)
}

// Newest is the newest timestamp of any file added. It starts at
// timestamp.Epoch.
func (c *Cache) Newest() time.Time {
	return c.newest
}

// EnsureFetched adds the diff (kind, seq) to the list, downloading it unless
// a non-empty file of the expected name is already on disk. ts is the
// timestamp the caller resolved for that diff.
func (c *Cache) EnsureFetched(ctx context.Context, kind feed.Kind, seq int64, ts time.Time) (string, error) {
	path := filepath.Join(c.dir, FileName(kind, seq))
	if c.added[path] {
		return path, nil
	}

	reused := false
	info, err := os.Stat(path)
	switch {
	case err == nil && info.Size() > 0:
		reused = true
		slog.Info("changefile already cached", "tier", kind.String(), "seq", seq, "path", path)
	case err == nil || errors.Is(err, os.ErrNotExist):
		slog.Info("downloading changefile", "tier", kind.String(), "seq", seq)
		if err := c.fetcher.FetchFile(ctx, c.layout.DiffURL(kind, seq), path); err != nil {
			return "", fmt.Errorf("fetch %s changefile %d: %w", kind, seq, err)
		}
		if info, err = os.Stat(path); err != nil {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() == 0 {
			os.Remove(path)
			return "", fmt.Errorf("fetch %s changefile %d: empty file", kind, seq)
		}
	default:
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	c.paths = append(c.paths, path)
	c.added[path] = true
	if ts.After(c.newest) {
		c.newest = ts
	}

	if c.recorder != nil {
		f := journal.Fetch{
			Tier:      kind.String(),
			Sequence:  seq,
			Timestamp: ts,
			Path:      path,
			Bytes:     info.Size(),
			Reused:    reused,
		}
		if err := c.recorder.RecordFetch(ctx, f); err != nil {
			slog.Warn("journal write failed", "error", err)
		}
	}
	return path, nil
}

// Densify merges the list in chunks of at most maxBatch files until no more
// than maxBatch files remain. Intermediates dropped from the list are deleted.
func (c *Cache) Densify(ctx context.Context, maxBatch int) error {
	if maxBatch < 2 {
		return fmt.Errorf("densify: batch size must be at least 2, got %d", maxBatch)
	}

	for len(c.paths) > maxBatch {
		slog.Debug("densifying cache", "files", len(c.paths), "max_batch", maxBatch)
		next := make([]string, 0, (len(c.paths)+maxBatch-1)/maxBatch)
		for chunk := range slices.Chunk(c.paths, maxBatch) {
			out, err := c.merge(ctx, chunk, c.mergeArgs)
			if err != nil {
				c.removeIntermediates(next, c.paths)
				return err
			}
			next = append(next, out)
		}
		c.removeIntermediates(c.paths, next)
		c.paths = next
	}
	return nil
}

// Finalize densifies the list and merges what remains into one file stamped
// with the newest timestamp seen. It returns "" when the cache is empty.
func (c *Cache) Finalize(ctx context.Context, maxBatch int) (string, error) {
	if err := c.Densify(ctx, maxBatch); err != nil {
		return "", err
	}

	args := append([]string(nil), c.mergeArgs...)
	if c.newest.After(timestamp.OutputThreshold) {
		args = append(args, converter.TimestampArg(timestamp.Format(c.newest)))
	}

	out, err := c.merge(ctx, c.paths, args)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", nil
	}
	c.removeIntermediates(c.paths, []string{out})
	c.paths = []string{out}
	return out, nil
}

// Cleanup deletes downloaded diffs, partial downloads and intermediates from
// the cache directory. Other files (the journal, the final result if the
// caller moved it elsewhere) are left alone.
func (c *Cache) Cleanup() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", c.dir, err)
	}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isCacheFile(name) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	c.paths = nil
	c.added = make(map[string]bool)
	return errors.Join(errs...)
}

// Discard deletes the intermediates still in the list and empties it.
// Downloaded diffs stay on disk for the next run.
func (c *Cache) Discard() {
	c.removeIntermediates(c.paths, nil)
	c.paths = nil
	c.added = make(map[string]bool)
}

func (c *Cache) merge(ctx context.Context, files, args []string) (string, error) {
	out, err := c.merger.Merge(ctx, files, args)
	if err != nil {
		return "", err
	}
	if out == "" || slices.Contains(files, out) {
		return out, nil
	}
	if c.recorder != nil {
		var size int64
		if info, err := os.Stat(out); err == nil {
			size = info.Size()
		}
		m := journal.Merge{Inputs: append([]string(nil), files...), Output: out, Bytes: size}
		if err := c.recorder.RecordMerge(ctx, m); err != nil {
			slog.Warn("journal write failed", "error", err)
		}
	}
	return out, nil
}

// removeIntermediates deletes merge outputs in old that are not in keep.
func (c *Cache) removeIntermediates(old, keep []string) {
	for _, p := range old {
		if !strings.HasSuffix(p, merge.TempSuffix) || slices.Contains(keep, p) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("could not remove intermediate file", "path", p, "error", err)
		}
	}
}

var diffNameRe = regexp.MustCompile(`^temp\.([mhds])(\d{9})\.osc\.gz$`)

func isCacheFile(name string) bool {
	return diffNameRe.MatchString(name) ||
		strings.HasSuffix(name, ".osc.gz.part") ||
		strings.HasSuffix(name, merge.TempSuffix)
}

// Entry is a downloaded diff found on disk.
type Entry struct {
	Kind     feed.Kind
	Sequence int64
	Path     string
	Bytes    int64
}

// Scan lists the downloaded diffs present in dir, ordered by tier then
// sequence number. Partial downloads and empty files are skipped.
func Scan(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	out := []Entry{}
	for _, e := range entries {
		m := diffNameRe.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		kind, err := kindFromInitial(m[1])
		if err != nil {
			continue
		}
		seq, _ := strconv.ParseInt(m[2], 10, 64)
		out = append(out, Entry{Kind: kind, Sequence: seq, Path: filepath.Join(dir, e.Name()), Bytes: info.Size()})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func kindFromInitial(s string) (feed.Kind, error) {
	for _, k := range feed.Kinds {
		if string(k.Initial()) == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown tier initial %q", s)
}
