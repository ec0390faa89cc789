package engine

import (
	"sort"

	"wardtrace/pkg/domain"
)

// ExtractClusters turns the components of size >= 2 into clusters, in
// component order (smallest member first). ClusterID is left at zero; see
// AssignClusterIDs.
func ExtractClusters(g ContactGraph, index []domain.PositiveIndexEntry) []domain.Cluster {
	entries := EntriesFor(index, g.Infection)
	var out []domain.Cluster
	for _, members := range g.Components() {
		if len(members) < 2 {
			continue
		}
		in := make(map[string]struct{}, len(members))
		for _, m := range members {
			in[m] = struct{}{}
		}
		c := domain.Cluster{
			Infection: g.Infection,
			Size:      len(members),
			Members:   append([]string(nil), members...),
		}
		for i, m := range members {
			d := entries[m].PositiveDate
			if i == 0 || d < c.FirstPositive {
				c.FirstPositive = d
			}
			if i == 0 || d > c.LastPositive {
				c.LastPositive = d
			}
		}
		c.TimespanDays = c.FirstPositive.DaysUntil(c.LastPositive)

		for _, e := range g.Edges {
			if inBoth(in, e.U, e.V) {
				c.ContactEdges++
				c.ContactEvents += e.Weight
			}
		}
		locs := make(map[string]struct{})
		for _, ev := range g.Events {
			if inBoth(in, ev.U, ev.V) {
				locs[ev.Location] = struct{}{}
			}
		}
		c.Locations = make([]string, 0, len(locs))
		for l := range locs {
			c.Locations = append(c.Locations, l)
		}
		sort.Strings(c.Locations)
		out = append(out, c)
	}
	return out
}

func inBoth(set map[string]struct{}, u, v string) bool {
	_, okU := set[u]
	_, okV := set[v]
	return okU && okV
}

// AssignClusterIDs numbers clusters from 1. perInfection must already be
// ordered by infection name; clusters keep their order within it.
func AssignClusterIDs(perInfection [][]domain.Cluster) {
	next := 1
	for _, list := range perInfection {
		for i := range list {
			list[i].ClusterID = next
			next++
		}
	}
}
