package hub

import (
	"slices"
	"strings"
)

// AllDepots in a subscription selects every depot.
const AllDepots = "*"

// Topic normalizes a depot name for matching.
func Topic(depot string) string {
	return strings.ToUpper(strings.TrimSpace(depot))
}

// NormalizeTopics upper-cases, trims and de-duplicates depot names, dropping
// empty ones. The result is sorted.
func NormalizeTopics(depots []string) []string {
	topics := make([]string, 0, len(depots))
	for _, d := range depots {
		if t := Topic(d); t != "" {
			topics = append(topics, t)
		}
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}
