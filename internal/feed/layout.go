package feed

import (
	"fmt"
	"strings"
)

// Layout describes where a replication feed publishes its files.
// It is a plain value; build it once from configuration and share it.
type Layout struct {
	BaseURL string
	Suffix  string // appended after the tier directory, e.g. "-replicate"
}

// TierURL returns the root URL of a tier.
func (l Layout) TierURL(k Kind) string {
	base := strings.TrimRight(l.BaseURL, "/")
	if dir := k.Dir(); dir != "" {
		base += "/" + dir
	}
	return base + l.Suffix
}

// NewestStateURL is the state document describing the tier's newest diff.
func (l Layout) NewestStateURL(k Kind) string {
	return l.TierURL(k) + "/state.txt"
}

// StateURL is the state document of one sequence number.
func (l Layout) StateURL(k Kind, seq int64) string {
	return l.TierURL(k) + "/" + SequencePath(seq) + ".state.txt"
}

// DiffURL is the compressed change file of one sequence number.
func (l Layout) DiffURL(k Kind, seq int64) string {
	return l.TierURL(k) + "/" + SequencePath(seq) + ".osc.gz"
}

// SequencePath splits the 9-digit sequence number into three-digit groups:
// 12345 becomes "000/012/345".
func SequencePath(seq int64) string {
	return fmt.Sprintf("%03d/%03d/%03d", seq/1000000, seq/1000%1000, seq%1000)
}
