package engine

import (
	"sort"

	"wardtrace/pkg/domain"
)

// ContactGraph is the immutable co-presence graph of one infection. Nodes
// are every positive patient of the infection, isolated ones included.
type ContactGraph struct {
	Infection string
	Nodes     []string
	Edges     []domain.ContactEdge
	Events    []domain.ContactEvent
}

type slot struct {
	date     domain.Date
	location string
}

type pairKey struct{ u, v string }

// BuildContactGraph pairs positive patients of one infection that shared a
// location on a day inside both of their own windows. Presence rows are
// filtered against each patient's window before pairing, then grouped by
// (date, location); a (pair, date, location) triple counts once.
func BuildContactGraph(infection string, index []domain.PositiveIndexEntry, presence []domain.PresenceRecord) ContactGraph {
	entries := EntriesFor(index, infection)
	g := ContactGraph{Infection: infection}
	if len(entries) == 0 {
		return g
	}
	g.Nodes = make([]string, 0, len(entries))
	for id := range entries {
		g.Nodes = append(g.Nodes, id)
	}
	sort.Strings(g.Nodes)

	groups := make(map[slot]map[string]struct{})
	for _, p := range presence {
		entry, ok := entries[p.PatientID]
		if !ok || !entry.Covers(p.Date) {
			continue
		}
		s := slot{date: p.Date, location: p.Location}
		occupants, ok := groups[s]
		if !ok {
			occupants = make(map[string]struct{})
			groups[s] = occupants
		}
		occupants[p.PatientID] = struct{}{}
	}

	weights := make(map[pairKey]int)
	for s, occupants := range groups {
		if len(occupants) < 2 {
			continue
		}
		ids := make([]string, 0, len(occupants))
		for id := range occupants {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				// occupants is a set, so each (pair, date, location) is visited once
				weights[pairKey{u: ids[i], v: ids[j]}]++
				g.Events = append(g.Events, domain.ContactEvent{U: ids[i], V: ids[j], Date: s.date, Location: s.location})
			}
		}
	}

	for pair, w := range weights {
		g.Edges = append(g.Edges, domain.ContactEdge{U: pair.u, V: pair.v, Weight: w})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].U != g.Edges[j].U {
			return g.Edges[i].U < g.Edges[j].U
		}
		return g.Edges[i].V < g.Edges[j].V
	})
	sort.Slice(g.Events, func(i, j int) bool {
		a, b := g.Events[i], g.Events[j]
		switch {
		case a.U != b.U:
			return a.U < b.U
		case a.V != b.V:
			return a.V < b.V
		case a.Date != b.Date:
			return a.Date < b.Date
		default:
			return a.Location < b.Location
		}
	})
	return g
}

// Components returns the connected components of the graph. Members of each
// component are sorted, and components are ordered by their smallest member.
func (g ContactGraph) Components() [][]string {
	parent := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		parent[n] = n
	}
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, e := range g.Edges {
		ru, rv := find(e.U), find(e.V)
		if ru == rv {
			continue
		}
		if rv < ru {
			ru, rv = rv, ru
		}
		parent[rv] = ru
	}

	byRoot := make(map[string][]string)
	var roots []string
	for _, n := range g.Nodes {
		r := find(n)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], n)
	}
	out := make([][]string, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
