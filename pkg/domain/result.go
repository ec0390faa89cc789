package domain

import "sort"

// Cluster is a connected group of at least two positive patients for one
// infection.
type Cluster struct {
	ClusterID     int      `json:"cluster_id"`
	Infection     string   `json:"infection"`
	Size          int      `json:"size"`
	Members       []string `json:"members"`
	FirstPositive Date     `json:"first_positive"`
	LastPositive  Date     `json:"last_positive"`
	TimespanDays  int      `json:"timespan_days"`
	Locations     []string `json:"locations"`
	ContactEdges  int      `json:"contact_edges"`
	ContactEvents int      `json:"contact_events"`
}

// Clone returns a deep copy of the cluster.
func (c Cluster) Clone() Cluster {
	out := c
	out.Members = append([]string(nil), c.Members...)
	out.Locations = append([]string(nil), c.Locations...)
	return out
}

// ClusterCollection maps an infection to its clusters in generation order.
type ClusterCollection map[string][]Cluster

// Infections returns the collection keys in lexicographic order.
func (c ClusterCollection) Infections() []string {
	out := make([]string, 0, len(c))
	for infection := range c {
		out = append(out, infection)
	}
	sort.Strings(out)
	return out
}

// Total counts clusters across all infections.
func (c ClusterCollection) Total() int {
	n := 0
	for _, list := range c {
		n += len(list)
	}
	return n
}

// Clone returns a deep copy preserving per-infection order.
func (c ClusterCollection) Clone() ClusterCollection {
	out := make(ClusterCollection, len(c))
	for infection, list := range c {
		cp := make([]Cluster, len(list))
		for i, cl := range list {
			cp[i] = cl.Clone()
		}
		out[infection] = cp
	}
	return out
}

// Stats summarises one detection run.
type Stats struct {
	Infections       []string `json:"infections"`
	TotalClusters    int      `json:"total_clusters"`
	PatientsPositive int      `json:"patients_positive"`
}

// Result is the durable output of a detection run. Its JSON form is the
// contract shared by display and persistence.
type Result struct {
	Clusters ClusterCollection `json:"clusters"`
	Stats    Stats             `json:"stats"`
}

// EmptyResult is the well-formed result of a run that found no positives.
func EmptyResult() Result {
	return Result{
		Clusters: ClusterCollection{},
		Stats:    Stats{Infections: []string{}},
	}
}

// Clone returns a deep copy of the result.
func (r Result) Clone() Result {
	out := Result{Clusters: r.Clusters.Clone(), Stats: r.Stats}
	out.Stats.Infections = append([]string{}, r.Stats.Infections...)
	return out
}

// WardSummary maps location -> infection -> cumulative patient count.
// Counts are sums of cluster sizes, so a patient in two clusters touching
// the same ward is counted twice.
type WardSummary map[string]map[string]int

// Locations returns the summary keys sorted.
func (w WardSummary) Locations() []string {
	out := make([]string, 0, len(w))
	for loc := range w {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
