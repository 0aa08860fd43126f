package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/osmupdate/internal/timestamp"
)

// InconsistentError reports a sequence number whose state cannot be resolved
// even though the feed advertises newer ones.
type InconsistentError struct {
	Kind     Kind
	Sequence int64
	Err      error
}

func (e *InconsistentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no timestamp for %s changefile %d: %v", e.Kind, e.Sequence, e.Err)
	}
	return fmt.Sprintf("no timestamp for %s changefile %d", e.Kind, e.Sequence)
}

func (e *InconsistentError) Unwrap() error {
	return e.Err
}

// Tier walks one replication feed backward from its newest sequence number.
//
// Resolved (sequence, timestamp) pairs are cached for the lifetime of the
// Tier and never overwritten. A Tier is used from a single goroutine.
type Tier struct {
	kind    Kind
	layout  Layout
	fetcher Fetcher

	newest   *State
	resolved map[int64]time.Time
	cursor   int64
}

// NewTier creates a tier bound to a feed layout and a fetcher.
func NewTier(kind Kind, layout Layout, fetcher Fetcher) *Tier {
	return &Tier{
		kind:     kind,
		layout:   layout,
		fetcher:  fetcher,
		resolved: make(map[int64]time.Time),
	}
}

// Kind returns the tier kind.
func (t *Tier) Kind() Kind {
	return t.kind
}

// Cursor is the sequence number the backward walk will fetch next.
func (t *Tier) Cursor() int64 {
	return t.cursor
}

// ResolveState fetches the tier's newest state document unless it was already
// resolved and force is false. The cursor is reset to the newest sequence.
//
// An unresolved result (State.Resolved == false) means the tier has no usable
// timestamp; transport errors other than ErrNotFound are returned as errors.
func (t *Tier) ResolveState(ctx context.Context, force bool) (State, error) {
	if t.newest != nil && !force {
		return *t.newest, nil
	}

	body, err := t.fetcher.FetchText(ctx, t.layout.NewestStateURL(t.kind))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return State{}, fmt.Errorf("resolve %s state: %w", t.kind, err)
	}

	st := ParseState(body)
	if st.Resolved {
		t.remember(st.Sequence, st.Timestamp)
		slog.Info("newest changefile",
			"tier", t.kind.String(),
			"seq", st.Sequence,
			"timestamp", timestamp.Format(st.Timestamp),
		)
	} else {
		slog.Info("newest changefile has no timestamp", "tier", t.kind.String())
	}

	t.newest = &st
	t.cursor = st.Sequence
	return st, nil
}

// TimestampFor returns the timestamp of a specific sequence number, fetching
// its state document on first use. Sequence 0 without a timestamp maps to
// timestamp.Epoch; any other unresolvable number is an *InconsistentError.
func (t *Tier) TimestampFor(ctx context.Context, seq int64) (time.Time, error) {
	if ts, ok := t.resolved[seq]; ok {
		return ts, nil
	}
	if seq < 0 {
		return timestamp.Epoch, nil
	}

	body, err := t.fetcher.FetchText(ctx, t.layout.StateURL(t.kind, seq))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return time.Time{}, fmt.Errorf("resolve %s changefile %d: %w", t.kind, seq, err)
	}

	st := ParseState(body)
	if !st.Resolved {
		if seq == 0 {
			t.remember(0, timestamp.Epoch)
			return timestamp.Epoch, nil
		}
		return time.Time{}, &InconsistentError{Kind: t.kind, Sequence: seq, Err: err}
	}

	slog.Debug("changefile state",
		"tier", t.kind.String(),
		"seq", seq,
		"timestamp", timestamp.Format(st.Timestamp),
	)
	t.remember(seq, st.Timestamp)
	return st.Timestamp, nil
}

// StepBack moves the cursor one sequence number back. It does not fetch.
func (t *Tier) StepBack() {
	t.cursor--
}

func (t *Tier) remember(seq int64, ts time.Time) {
	if _, ok := t.resolved[seq]; ok {
		return
	}
	t.resolved[seq] = ts
}
