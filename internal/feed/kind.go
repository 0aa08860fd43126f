package feed

import "fmt"

// Kind identifies one replication tier.
type Kind int

const (
	Minutely Kind = iota
	Hourly
	Daily
	Sporadic
)

// Kinds lists all tiers from finest to coarsest.
var Kinds = []Kind{Minutely, Hourly, Daily, Sporadic}

// String returns the tier name used in logs and cache filenames.
func (k Kind) String() string {
	switch k {
	case Minutely:
		return "minutely"
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Sporadic:
		return "sporadic"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Initial is the one-letter tag used in cache filenames.
func (k Kind) Initial() byte {
	return k.String()[0]
}

// Dir is the subdirectory of the base URL that serves this tier.
// Sporadic feeds live directly at the base URL.
func (k Kind) Dir() string {
	switch k {
	case Minutely:
		return "minute"
	case Hourly:
		return "hour"
	case Daily:
		return "day"
	default:
		return ""
	}
}

// ParseKind maps a tier name (or its directory name) back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "minutely", "minute":
		return Minutely, nil
	case "hourly", "hour":
		return Hourly, nil
	case "daily", "day":
		return Daily, nil
	case "sporadic":
		return Sporadic, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}
