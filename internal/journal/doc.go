// Package journal provides a SQLite-backed record of what each update run
// downloaded and merged.
//
// The journal lives next to the cached change files (journal.db in the cache
// directory) and holds:
//   - Runs: one row per update run, keyed by a UUIDv7 run id
//   - Fetches: every change file a run needed, downloaded or reused from disk
//   - Merges: every converter merge with its inputs and output size
//
// The journal is diagnostic. Whether a change file is already cached is
// decided by its deterministic filename on disk, never by a journal row, so
// deleting journal.db is always safe.
//
// # Ordering
//
// Rows are read back in insertion order (ORDER BY id ASC). Runs are listed
// newest first.
//
// # Database Configuration
//
//   - WAL mode: readers (the status command) never block a running update
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package journal
