// Package engine drives one replication update from a source snapshot to a
// merged change file.
//
// A run moves through a fixed sequence of states:
//
//	Initializing → TierResolution → Walking → Densifying → Finalizing → Done
//
// with Failed reachable from any of them. Walking and Densifying alternate
// once per active tier.
//
// Tiers are walked finest to coarsest. Each walk starts at the tier's newest
// sequence number and steps backward while the diff's timestamp is newer than
// both the source snapshot and the tier's ceiling. The ceiling is the newest
// timestamp of the next coarser tier, which already covers everything older.
// After each tier the cache is densified so that later merges stay short.
//
// Everything is sequential. A run owns its cache directory; two runs must
// not share one. Downloaded diffs survive failures and are reused by the next
// run through their deterministic filenames.
package engine
