package engine

import (
	"sort"

	"wardtrace/pkg/domain"
)

// Aggregate groups clusters by infection in generation order and computes
// run statistics. PatientsPositive counts the whole index, clustered or not.
func Aggregate(clusters []domain.Cluster, index []domain.PositiveIndexEntry) domain.Result {
	res := domain.EmptyResult()
	for _, c := range clusters {
		res.Clusters[c.Infection] = append(res.Clusters[c.Infection], c)
	}
	res.Stats.Infections = res.Clusters.Infections()
	res.Stats.TotalClusters = len(clusters)
	res.Stats.PatientsPositive = DistinctPatients(index)
	return res
}

// BuildWardSummary adds each cluster's size to every location it touched.
func BuildWardSummary(clusters domain.ClusterCollection) domain.WardSummary {
	summary := domain.WardSummary{}
	for infection, list := range clusters {
		for _, c := range list {
			for _, loc := range c.Locations {
				byInfection, ok := summary[loc]
				if !ok {
					byInfection = make(map[string]int)
					summary[loc] = byInfection
				}
				byInfection[infection] += c.Size
			}
		}
	}
	return summary
}

// WardRow is one bar of the ward summary chart.
type WardRow struct {
	Location  string `json:"location"`
	Infection string `json:"infection"`
	Patients  int    `json:"patients"`
}

// WardRows flattens a summary into rows sorted by location then infection.
func WardRows(summary domain.WardSummary) []WardRow {
	var rows []WardRow
	for _, loc := range summary.Locations() {
		infections := make([]string, 0, len(summary[loc]))
		for inf := range summary[loc] {
			infections = append(infections, inf)
		}
		sort.Strings(infections)
		for _, inf := range infections {
			rows = append(rows, WardRow{Location: loc, Infection: inf, Patients: summary[loc][inf]})
		}
	}
	return rows
}
