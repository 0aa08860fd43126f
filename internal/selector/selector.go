// Package selector decides which replication tiers supply diffs for an
// update, and where each tier's backward walk has to stop.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// Staleness thresholds: a coarse tier whose newest diff is closer than this
// to the source snapshot adds nothing a finer tier cannot cover.
const (
	HourlyMinLead = 30 * time.Minute
	DailyMinLead  = 16 * time.Hour
)

// UnavailableError reports a requested tier whose newest state could not be
// resolved.
type UnavailableError struct {
	Kind feed.Kind
	Err  error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not get the newest %s timestamp: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("could not get the newest %s timestamp", e.Kind)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// RangeError reports an update span longer than allowed.
type RangeError struct {
	Days    int
	MaxDays int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("update range too large: %d days (maximum %d); to allow such a wide range, raise max days to %d",
		e.Days, e.MaxDays, e.Days)
}

// ActiveTier is a tier that takes part in the update.
type ActiveTier struct {
	Tier   *feed.Tier
	Newest feed.State
	// Ceiling is the newest timestamp covered by a coarser active tier; the
	// walk stops at or below it. Zero when no coarser tier follows.
	Ceiling time.Time
}

// HasCeiling reports whether a coarser tier bounds this one.
func (a ActiveTier) HasCeiling() bool {
	return !a.Ceiling.IsZero()
}

// Selection is the outcome of tier resolution.
type Selection struct {
	// Tiers are ordered finest to coarsest.
	Tiers []ActiveTier
	// Suppressed lists requested tiers dropped for being too close to the
	// source timestamp.
	Suppressed []feed.Kind
	// Target is the newest timestamp reachable across Tiers.
	Target time.Time
	// Days is the update span in days, rounded up.
	Days int
	// Autodetected is true when sporadic was chosen by probing.
	Autodetected bool
}

// Kinds lists the active tier kinds in walk order.
func (s *Selection) Kinds() []feed.Kind {
	out := make([]feed.Kind, len(s.Tiers))
	for i, a := range s.Tiers {
		out[i] = a.Tier.Kind()
	}
	return out
}

// Selector resolves tiers of one feed.
type Selector struct {
	layout  feed.Layout
	fetcher feed.Fetcher
	maxDays int
}

// New creates a selector. maxDays bounds the accepted update span.
func New(layout feed.Layout, fetcher feed.Fetcher, maxDays int) *Selector {
	return &Selector{layout: layout, fetcher: fetcher, maxDays: maxDays}
}

// Select resolves the requested tiers against a source snapshot taken at old.
//
// With no requested tiers the sporadic feed is probed first and used alone if
// it answers; otherwise minutely, hourly and daily are used together.
func (s *Selector) Select(ctx context.Context, old time.Time, requested []feed.Kind) (*Selection, error) {
	sel := &Selection{}
	want := make(map[feed.Kind]bool)
	for _, k := range requested {
		want[k] = true
	}

	resolved := make(map[feed.Kind]ActiveTier)

	if len(want) == 0 {
		sporadic := feed.NewTier(feed.Sporadic, s.layout, s.fetcher)
		st, err := sporadic.ResolveState(ctx, false)
		switch {
		case err != nil:
			slog.Debug("sporadic probe failed", "error", err)
		case st.Resolved:
			slog.Info("found status information in base URL root, ignoring minute/hour/day subdirectories")
			want[feed.Sporadic] = true
			resolved[feed.Sporadic] = ActiveTier{Tier: sporadic, Newest: st}
			sel.Autodetected = true
		}
	}
	if len(want) == 0 {
		want[feed.Minutely] = true
		want[feed.Hourly] = true
		want[feed.Daily] = true
	}

	for _, k := range feed.Kinds {
		if !want[k] {
			continue
		}
		if _, ok := resolved[k]; ok {
			continue
		}
		tier := feed.NewTier(k, s.layout, s.fetcher)
		st, err := tier.ResolveState(ctx, false)
		if err != nil {
			return nil, &UnavailableError{Kind: k, Err: err}
		}
		if !st.Resolved {
			return nil, &UnavailableError{Kind: k}
		}
		resolved[k] = ActiveTier{Tier: tier, Newest: st}
	}

	if a, ok := resolved[feed.Hourly]; ok && want[feed.Minutely] {
		if a.Newest.Timestamp.Sub(old) < HourlyMinLead {
			slog.Info("hourly tier too close to source timestamp, skipping", "newest", timestamp.Format(a.Newest.Timestamp))
			delete(resolved, feed.Hourly)
			sel.Suppressed = append(sel.Suppressed, feed.Hourly)
		}
	}
	if a, ok := resolved[feed.Daily]; ok && (want[feed.Minutely] || want[feed.Hourly]) {
		if a.Newest.Timestamp.Sub(old) < DailyMinLead {
			slog.Info("daily tier too close to source timestamp, skipping", "newest", timestamp.Format(a.Newest.Timestamp))
			delete(resolved, feed.Daily)
			sel.Suppressed = append(sel.Suppressed, feed.Daily)
		}
	}

	for _, k := range feed.Kinds {
		a, ok := resolved[k]
		if !ok {
			continue
		}
		sel.Tiers = append(sel.Tiers, a)
		if a.Newest.Timestamp.After(sel.Target) {
			sel.Target = a.Newest.Timestamp
		}
	}
	assignCeilings(sel.Tiers)

	sel.Days = timestamp.DaysBetween(sel.Target, old)
	if sel.Days > s.maxDays {
		return nil, &RangeError{Days: sel.Days, MaxDays: s.maxDays}
	}
	return sel, nil
}

// assignCeilings bounds each standard tier by the next coarser standard tier
// still active. Sporadic is never bounded and bounds nothing.
func assignCeilings(tiers []ActiveTier) {
	for i := range tiers {
		if tiers[i].Tier.Kind() == feed.Sporadic {
			continue
		}
		for j := i + 1; j < len(tiers); j++ {
			if tiers[j].Tier.Kind() == feed.Sporadic {
				break
			}
			tiers[i].Ceiling = tiers[j].Newest.Timestamp
			break
		}
	}
}
