package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/osmupdate/internal/feed"
	"github.com/roach88/osmupdate/internal/timestamp"
)

// Scenario defines one update run against a fake feed.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Source is a timestamp literal. Exclusive with SourceTimestamp.
	Source string `yaml:"source,omitempty"`

	// SourceTimestamp makes the harness create a source data file carrying
	// this embedded timestamp.
	SourceTimestamp string `yaml:"source_timestamp,omitempty"`

	// Destination is a file name inside the scenario directory. The special
	// value "@source" names the source file itself.
	Destination string `yaml:"destination"`

	// Tiers restricts the run to these tiers.
	Tiers []string `yaml:"tiers,omitempty"`

	MaxDays  int `yaml:"max_days,omitempty"`
	MaxMerge int `yaml:"max_merge,omitempty"`

	// Now is the fixed clock, for NOW-relative sources.
	Now string `yaml:"now,omitempty"`

	// Feed lists the published changefiles per tier name.
	Feed map[string][]Changefile `yaml:"feed"`

	Expect Expect `yaml:"expect"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Changefile is one published diff.
type Changefile struct {
	Seq       int64  `yaml:"seq"`
	Timestamp string `yaml:"timestamp"`
}

// Expect specifies the run outcome.
type Expect struct {
	// Code is the expected SyncError code; empty means success.
	Code string `yaml:"code"`

	// Newest is the expected newest timestamp, checked when set.
	Newest string `yaml:"newest,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "fetched": the listed diffs were downloaded, in order
	// - "not_fetched": none of the listed diffs were downloaded
	// - "fetch_count": exactly Count diffs were downloaded
	// - "state_order": the run passed through States in order
	Type string `yaml:"type"`

	// Tier and Seqs identify diffs (fetched, not_fetched).
	Tier string  `yaml:"tier,omitempty"`
	Seqs []int64 `yaml:"seqs,omitempty"`

	// Count is the expected number of downloads (fetch_count).
	Count int `yaml:"count,omitempty"`

	// States is the expected state order (state_order).
	States []string `yaml:"states,omitempty"`
}

// Assertion type constants.
const (
	AssertFetched    = "fetched"
	AssertNotFetched = "not_fetched"
	AssertFetchCount = "fetch_count"
	AssertStateOrder = "state_order"
)

// SourceDestination is the Destination value naming the source file.
const SourceDestination = "@source"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if (s.Source == "") == (s.SourceTimestamp == "") {
		return fmt.Errorf("exactly one of source and source_timestamp is required")
	}
	if s.SourceTimestamp != "" {
		if _, ok := timestamp.Parse(s.SourceTimestamp); !ok {
			return fmt.Errorf("source_timestamp: malformed timestamp %q", s.SourceTimestamp)
		}
	}
	if s.Now != "" {
		if _, ok := timestamp.Parse(s.Now); !ok {
			return fmt.Errorf("now: malformed timestamp %q", s.Now)
		}
	}
	if s.Expect.Newest != "" {
		if _, ok := timestamp.Parse(s.Expect.Newest); !ok {
			return fmt.Errorf("expect.newest: malformed timestamp %q", s.Expect.Newest)
		}
	}

	for _, name := range s.Tiers {
		if _, err := feed.ParseKind(name); err != nil {
			return fmt.Errorf("tiers: %w", err)
		}
	}
	for name, files := range s.Feed {
		if _, err := feed.ParseKind(name); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		for i, cf := range files {
			if _, ok := timestamp.Parse(cf.Timestamp); !ok {
				return fmt.Errorf("feed.%s[%d]: malformed timestamp %q", name, i, cf.Timestamp)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFetched, AssertNotFetched:
		if _, err := feed.ParseKind(a.Tier); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if len(a.Seqs) == 0 {
			return fmt.Errorf("assertions[%d]: seqs list is required for %s", index, a.Type)
		}
	case AssertFetchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fetch_count", index)
		}
	case AssertStateOrder:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for state_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
