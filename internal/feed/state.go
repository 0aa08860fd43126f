package feed

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/osmupdate/internal/timestamp"
)

// State is the content of a replication state document.
type State struct {
	Sequence  int64
	Timestamp time.Time
	// Resolved is false when the document carried no parseable timestamp.
	Resolved bool
}

// ParseState reads the sequenceNumber= and timestamp= fields of a state
// document. Unknown lines are ignored; a missing sequence number yields 0.
func ParseState(body string) State {
	var st State
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if _, v, ok := strings.Cut(line, "sequenceNumber="); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				st.Sequence = n
			}
			continue
		}
		if _, v, ok := strings.Cut(line, "timestamp="); ok {
			if ts, ok := timestamp.Parse(timestamp.Unescape(v)); ok {
				st.Timestamp = ts
				st.Resolved = true
			}
		}
	}
	return st
}
