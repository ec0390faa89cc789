// Package engine implements cluster detection: positive-test indexing,
// ward-presence expansion, per-infection contact graphs, connected
// component extraction and result aggregation. Every function is a pure
// transformation over its inputs.
package engine

import (
	"sort"

	"wardtrace/pkg/domain"
)

type patientInfection struct {
	patient   string
	infection string
}

// BuildPositiveIndex keeps, per (patient, infection), the earliest positive
// collection date and its exposure window. The output is ordered by
// infection then patient id.
func BuildPositiveIndex(results []domain.MicrobiologyRecord) []domain.PositiveIndexEntry {
	earliest := make(map[patientInfection]domain.Date)
	for _, r := range results {
		if !r.IsPositive() {
			continue
		}
		key := patientInfection{patient: r.PatientID, infection: r.Infection}
		if cur, ok := earliest[key]; !ok || r.CollectionDate < cur {
			earliest[key] = r.CollectionDate
		}
	}
	out := make([]domain.PositiveIndexEntry, 0, len(earliest))
	for key, d := range earliest {
		out = append(out, domain.NewPositiveIndexEntry(key.patient, key.infection, d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Infection != out[j].Infection {
			return out[i].Infection < out[j].Infection
		}
		return out[i].PatientID < out[j].PatientID
	})
	return out
}

// PositiveInfections returns the distinct infections of the index, sorted.
func PositiveInfections(index []domain.PositiveIndexEntry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range index {
		if _, ok := seen[e.Infection]; ok {
			continue
		}
		seen[e.Infection] = struct{}{}
		out = append(out, e.Infection)
	}
	sort.Strings(out)
	return out
}

// EntriesFor selects the index entries of one infection, keyed by patient.
func EntriesFor(index []domain.PositiveIndexEntry, infection string) map[string]domain.PositiveIndexEntry {
	out := make(map[string]domain.PositiveIndexEntry)
	for _, e := range index {
		if e.Infection == infection {
			out[e.PatientID] = e
		}
	}
	return out
}

// DistinctPatients counts distinct patient ids across the whole index.
func DistinctPatients(index []domain.PositiveIndexEntry) int {
	seen := make(map[string]struct{}, len(index))
	for _, e := range index {
		seen[e.PatientID] = struct{}{}
	}
	return len(seen)
}
