package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// FeedServer serves a fake replication feed over HTTP.
//
// Tiers are addressed by their directory name below the base URL ("minute",
// "hour", "day"; "" for a sporadic feed at the root). Every request is
// counted so tests can assert that nothing is fetched twice.
type FeedServer struct {
	srv *httptest.Server

	mu    sync.Mutex
	tiers map[string]*fakeTier
	hits  map[string]int
	diffs []string
}

type fakeTier struct {
	newest int64
	stamps map[int64]time.Time
}

var seqPathRe = regexp.MustCompile(`^(\d{3})/(\d{3})/(\d{3})\.(state\.txt|osc\.gz)$`)

// NewFeedServer starts a server that is closed when the test ends.
func NewFeedServer(t *testing.T) *FeedServer {
	t.Helper()
	f := &FeedServer{
		tiers: make(map[string]*fakeTier),
		hits:  make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

// URL is the feed's base URL.
func (f *FeedServer) URL() string {
	return f.srv.URL
}

// AddChangefile publishes a diff with the given timestamp. The tier's newest
// sequence follows the highest sequence added unless SetNewest overrides it.
func (f *FeedServer) AddChangefile(dir string, seq int64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier := f.tier(dir)
	tier.stamps[seq] = ts.UTC()
	if seq > tier.newest {
		tier.newest = seq
	}
}

// SetNewest overrides the sequence number advertised in the tier's state.txt.
func (f *FeedServer) SetNewest(dir string, seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tier(dir).newest = seq
}

// Hits returns how often path (relative to the base URL, no leading slash)
// was requested.
func (f *FeedServer) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits["/"+strings.TrimPrefix(path, "/")]
}

// TotalHits returns the number of requests served.
func (f *FeedServer) TotalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

// DiffRequests lists requested diff paths in request order.
func (f *FeedServer) DiffRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.diffs...)
}

// DiffContent is the body served for a diff.
func DiffContent(dir string, seq int64) string {
	if dir == "" {
		dir = "sporadic"
	}
	return fmt.Sprintf("<osmChange tier=%q seq=\"%d\"/>\n", dir, seq)
}

// StateDocument renders a state.txt body the way the planet server does.
func StateDocument(seq int64, ts time.Time) string {
	stamp := strings.ReplaceAll(ts.UTC().Format("2006-01-02T15:04:05Z"), ":", `\:`)
	return fmt.Sprintf("#%s\nsequenceNumber=%d\ntimestamp=%s\n", ts.UTC().Format(time.UnixDate), seq, stamp)
}

func (f *FeedServer) tier(dir string) *fakeTier {
	tier, ok := f.tiers[dir]
	if !ok {
		tier = &fakeTier{stamps: make(map[int64]time.Time)}
		f.tiers[dir] = tier
	}
	return tier
}

func (f *FeedServer) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.hits[r.URL.Path]++
	path := strings.TrimPrefix(r.URL.Path, "/")

	dir, rest := "", path
	if i := strings.Index(path, "/"); i >= 0 && !isDigits(path[:i]) {
		dir, rest = path[:i], path[i+1:]
	}

	tier, ok := f.tiers[dir]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if rest == "state.txt" {
		ts, ok := tier.stamps[tier.newest]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, StateDocument(tier.newest, ts))
		return
	}

	m := seqPathRe.FindStringSubmatch(rest)
	if m == nil {
		http.NotFound(w, r)
		return
	}
	seq, _ := strconv.ParseInt(m[1]+m[2]+m[3], 10, 64)
	ts, ok := tier.stamps[seq]
	if !ok {
		http.NotFound(w, r)
		return
	}

	if m[4] == "state.txt" {
		fmt.Fprint(w, StateDocument(seq, ts))
		return
	}
	f.diffs = append(f.diffs, path)
	fmt.Fprint(w, DiffContent(dir, seq))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
