// Package types provides common type definitions for the loyalty leaderboard.
package types

import "sort"

// EventID identifies the kind of a loyalty operation
type EventID int

const (
	// EventSpend is a purchase recorded against a customer card
	EventSpend EventID = 9
	// EventVisit is a check-in recorded against a customer card
	EventVisit EventID = 42
)

// Metric names a leaderboard ranking dimension
type Metric string

const (
	// MetricVisits ranks customers by visit count
	MetricVisits Metric = "visits"
	// MetricSpend ranks customers by total spend
	MetricSpend Metric = "spend"
)

// ParseMetric maps a sortBy value to a Metric. Anything other than "spend"
// ranks by visits.
func ParseMetric(s string) Metric {
	if Metric(s) == MetricSpend {
		return MetricSpend
	}
	return MetricVisits
}

// Metrics returns every ranking dimension in a fixed order
func Metrics() []Metric {
	return []Metric{MetricVisits, MetricSpend}
}

// Location names a business location bucket. The zero value means all
// locations (the global ranking).
type Location string

const (
	// LocationAll selects the global ranking
	LocationAll Location = ""
	// LocationJumeirah is the Jumeirah branch
	LocationJumeirah Location = "jumeirah"
	// LocationRAK is the Ras Al Khaimah branch
	LocationRAK Location = "rak"
)

// Default manager ids that identify each branch in the loyalty feed
const (
	DefaultJumeirahManagerID int64 = 1547855
	DefaultRAKManagerID      int64 = 1547856
)

// Locations maps each named location to the manager id that records its
// operations.
type Locations map[Location]int64

// DefaultLocations returns the two recognized branches with their default
// manager ids
func DefaultLocations() Locations {
	return Locations{
		LocationJumeirah: DefaultJumeirahManagerID,
		LocationRAK:      DefaultRAKManagerID,
	}
}

// ManagerID returns the manager id designated for a location
func (l Locations) ManagerID(loc Location) (int64, bool) {
	id, ok := l[loc]
	return id, ok
}

// Known reports whether loc is the global ranking or a named location
func (l Locations) Known(loc Location) bool {
	if loc == LocationAll {
		return true
	}
	_, ok := l[loc]
	return ok
}

// Bucket returns the location a manager id belongs to, or LocationAll when
// the id is nil or not designated for any location. If several locations
// share the id the first by name wins.
func (l Locations) Bucket(managerID *int64) Location {
	if managerID == nil {
		return LocationAll
	}
	for _, loc := range l.Named() {
		if l[loc] == *managerID {
			return loc
		}
	}
	return LocationAll
}

// Named returns the named locations sorted by name
func (l Locations) Named() []Location {
	names := make([]Location, 0, len(l))
	for loc := range l {
		names = append(names, loc)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// RankingName returns the canonical name of a ranking, for example
// "customers:by:spend" or "customers:by:visits:rak".
func RankingName(metric Metric, loc Location) string {
	name := "customers:by:" + string(metric)
	if loc != LocationAll {
		name += ":" + string(loc)
	}
	return name
}
