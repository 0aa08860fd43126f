// Package harness runs update scenarios against a fake replication feed and
// a fake converter, and checks what the orchestrator did.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	source: "2020-01-01T00:00:00Z"     # or source_timestamp for a data file
//	destination: changes.o5c
//	tiers: [daily]                     # omit for sporadic probing + defaults
//	max_days: 250
//	max_merge: 7
//	feed:
//	  daily:
//	    - {seq: 99, timestamp: "2020-01-02T00:00:00Z"}
//	    - {seq: 100, timestamp: "2020-01-03T00:00:00Z"}
//	expect:
//	  code: ""                         # SyncError code, "" for success
//	  newest: "2020-01-03T00:00:00Z"
//	assertions:
//	  - type: fetched
//	    tier: daily
//	    seqs: [100, 99]
//
// # Assertion Types
//
//   - fetched: the listed diffs were downloaded, in that order
//   - not_fetched: none of the listed diffs were downloaded
//   - fetch_count: exactly count diffs were downloaded
//   - state_order: the run passed through the listed states in order
//
// # Deterministic Testing
//
// Each scenario runs in a fresh temporary directory with a fixed clock and a
// fixed run id, so traces are identical across runs and can be compared
// against golden files in testdata/golden.
package harness
