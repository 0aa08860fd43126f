package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/osmupdate/internal/timestamp"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusUpToDate = "up_to_date"
	StatusFailed   = "failed"
)

// RunIDGenerator produces run ids.
// Implemented by UUIDv7Generator (production) and testutil.FixedRunIDGenerator.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable run ids.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Run is one update run.
type Run struct {
	ID           string
	StartedAt    time.Time
	Source       string
	Destination  string
	OldTimestamp time.Time
	Status       string
	Newest       time.Time // zero until finished
	FinishedAt   time.Time // zero until finished
	Message      string
}

// Fetch is one change file a run needed.
type Fetch struct {
	RunID     string
	Tier      string
	Sequence  int64
	Timestamp time.Time
	Path      string
	Bytes     int64
	Reused    bool // already on disk from an earlier run
}

// Merge is one converter merge.
type Merge struct {
	RunID  string
	Inputs []string
	Output string
	Bytes  int64
}

// BeginRun inserts a run in the running state.
func (j *Journal) BeginRun(ctx context.Context, r Run) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, source, destination, old_timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		timestamp.Format(r.StartedAt),
		r.Source,
		r.Destination,
		timestamp.Format(r.OldTimestamp),
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (j *Journal) FinishRun(ctx context.Context, id, status string, newest, finishedAt time.Time, message string) error {
	var newestText sql.NullString
	if !newest.IsZero() {
		newestText = sql.NullString{String: timestamp.Format(newest), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, newest_timestamp = ?, finished_at = ?, message = ?
		WHERE id = ?
	`, status, newestText, timestamp.Format(finishedAt), message, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordFetch appends a fetch row.
func (j *Journal) RecordFetch(ctx context.Context, f Fetch) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO fetches (run_id, tier, seq, timestamp, path, bytes, reused)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.RunID, f.Tier, f.Sequence, timestamp.Format(f.Timestamp), f.Path, f.Bytes, f.Reused)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

// RecordMerge appends a merge row.
func (j *Journal) RecordMerge(ctx context.Context, m Merge) error {
	inputs, err := json.Marshal(m.Inputs)
	if err != nil {
		return fmt.Errorf("record merge: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO merges (run_id, inputs, output, bytes)
		VALUES (?, ?, ?, ?)
	`, m.RunID, string(inputs), m.Output, m.Bytes)
	if err != nil {
		return fmt.Errorf("record merge: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means all.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, started_at, source, destination, old_timestamp, status,
		       newest_timestamp, finished_at, message
		FROM runs
		ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r                Run
			started, old     string
			newest, finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &r.Source, &r.Destination, &old, &r.Status, &newest, &finished, &r.Message); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = timestamp.Parse(started)
		r.OldTimestamp, _ = timestamp.Parse(old)
		if newest.Valid {
			r.Newest, _ = timestamp.Parse(newest.String)
		}
		if finished.Valid {
			r.FinishedAt, _ = timestamp.Parse(finished.String)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListFetches returns a run's fetches in the order they happened.
func (j *Journal) ListFetches(ctx context.Context, runID string) ([]Fetch, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, tier, seq, timestamp, path, bytes, reused
		FROM fetches
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fetches: %w", err)
	}
	defer rows.Close()

	fetches := []Fetch{}
	for rows.Next() {
		var (
			f  Fetch
			ts string
		)
		if err := rows.Scan(&f.RunID, &f.Tier, &f.Sequence, &ts, &f.Path, &f.Bytes, &f.Reused); err != nil {
			return nil, fmt.Errorf("scan fetch: %w", err)
		}
		f.Timestamp, _ = timestamp.Parse(ts)
		fetches = append(fetches, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetches: %w", err)
	}
	return fetches, nil
}

// ListMerges returns a run's merges in the order they happened.
func (j *Journal) ListMerges(ctx context.Context, runID string) ([]Merge, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, inputs, output, bytes
		FROM merges
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query merges: %w", err)
	}
	defer rows.Close()

	merges := []Merge{}
	for rows.Next() {
		var (
			m      Merge
			inputs string
		)
		if err := rows.Scan(&m.RunID, &inputs, &m.Output, &m.Bytes); err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		if err := json.Unmarshal([]byte(inputs), &m.Inputs); err != nil {
			return nil, fmt.Errorf("decode merge inputs: %w", err)
		}
		merges = append(merges, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merges: %w", err)
	}
	return merges, nil
}

// RunLog binds journal writes to one run id.
type RunLog struct {
	j     *Journal
	runID string
}

// ForRun returns a RunLog for id.
func (j *Journal) ForRun(id string) *RunLog {
	return &RunLog{j: j, runID: id}
}

// RunID returns the bound run id.
func (l *RunLog) RunID() string {
	return l.runID
}

// RecordFetch records a fetch under the bound run.
func (l *RunLog) RecordFetch(ctx context.Context, f Fetch) error {
	f.RunID = l.runID
	return l.j.RecordFetch(ctx, f)
}

// RecordMerge records a merge under the bound run.
func (l *RunLog) RecordMerge(ctx context.Context, m Merge) error {
	m.RunID = l.runID
	return l.j.RecordMerge(ctx, m)
}
