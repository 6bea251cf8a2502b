package cluster

import (
	"cmp"
	"slices"
	"time"

	"github.com/tanay1904/Drone/pkg/options"
)

// Member is a candidate backend endpoint and the result of its last probe.
type Member struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Region   string `json:"region"`
	Priority int    `json:"priority"`
	// Broker is the bus endpoint clients use while this member is active.
	// Empty keeps the current bus connection.
	Broker string `json:"broker,omitempty"`

	Latency   time.Duration `json:"-"`
	LatencyMS int64         `json:"latency"`
	Available bool          `json:"available"`
	Active    bool          `json:"active"`
}

// MembersFromOptions builds the member table from configuration. Every
// member starts unavailable until its first probe succeeds.
func MembersFromOptions(opts []options.ClusterMember) []Member {
	out := make([]Member, 0, len(opts))
	for _, o := range opts {
		out = append(out, Member{
			Name:     o.Name,
			URL:      o.URL,
			Region:   o.Region,
			Priority: o.Priority,
			Broker:   o.Broker,
		})
	}
	return out
}

// byPreference orders members by priority, then latency.
func byPreference(a, b Member) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Latency, b.Latency)
}

// ranked returns the available members except skip, best first.
func ranked(members []Member, skip string) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if m.Available && m.Name != skip {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, byPreference)
	return out
}
