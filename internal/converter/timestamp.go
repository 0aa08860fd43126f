package converter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/osmupdate/internal/timestamp"
)

// statisticsSafetyMargin ages timestamps taken from statistics, which report
// the newest object rather than the replication state the file was cut at.
const statisticsSafetyMargin = 4 * time.Hour

const statisticsField = "timestamp max: "

// FileTimestamp returns the timestamp embedded in an OSM data file.
//
// If the file header carries none, it falls back to the file's statistics
// ("timestamp max: ...") aged by four hours. ok is false when neither source
// yields a timestamp.
func FileTimestamp(ctx context.Context, r Runner, path string) (ts time.Time, ok bool, err error) {
	var out bytes.Buffer
	if _, err := r.Run(ctx, []string{FlagOutTimestamp, path}, &out); err != nil {
		return time.Time{}, false, fmt.Errorf("read file timestamp: %w", err)
	}
	if ts, ok := timestamp.Parse(out.String()); ok {
		slog.Info("file timestamp", "path", path, "timestamp", timestamp.Format(ts))
		return ts, true, nil
	}

	slog.Info("file has no file timestamp, running statistics", "path", path)
	out.Reset()
	if _, err := r.Run(ctx, []string{FlagOutStatistics, path}, &out); err != nil {
		return time.Time{}, false, fmt.Errorf("read file statistics: %w", err)
	}

	ts, ok = statisticsTimestamp(out.String())
	if !ok {
		slog.Info("file has no timestamp", "path", path)
		return time.Time{}, false, nil
	}
	ts = ts.Add(-statisticsSafetyMargin)
	slog.Info("timestamp aged by 4 hours for safety", "path", path, "timestamp", timestamp.Format(ts))
	return ts, true, nil
}

func statisticsTimestamp(stats string) (time.Time, bool) {
	_, rest, found := strings.Cut(stats, statisticsField)
	if !found {
		return time.Time{}, false
	}
	if len(rest) > len(timestamp.Layout) {
		rest = rest[:len(timestamp.Layout)]
	}
	return timestamp.Parse(rest)
}
