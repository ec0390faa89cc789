package httpapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"wardtrace/internal/core"
	"wardtrace/pkg/domain"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
)

// ExportRow is one cluster in the flat export.
type ExportRow struct {
	Infection     string      `json:"infection"`
	ClusterID     int         `json:"cluster_id"`
	Size          int         `json:"size"`
	Members       []string    `json:"members"`
	FirstPositive domain.Date `json:"first_positive"`
	LastPositive  domain.Date `json:"last_positive"`
	TimespanDays  int         `json:"timespan_days"`
	Locations     []string    `json:"locations"`
	ContactEdges  int         `json:"contact_edges"`
	ContactEvents int         `json:"contact_events"`
}

var exportColumns = []string{
	"infection", "cluster_id", "size", "members", "first_positive", "last_positive",
	"timespan_days", "locations", "contact_edges", "contact_events",
}

func (r ExportRow) record() []string {
	return []string{
		r.Infection,
		strconv.Itoa(r.ClusterID),
		strconv.Itoa(r.Size),
		strings.Join(r.Members, ";"),
		r.FirstPositive.String(),
		r.LastPositive.String(),
		strconv.Itoa(r.TimespanDays),
		strings.Join(r.Locations, ";"),
		strconv.Itoa(r.ContactEdges),
		strconv.Itoa(r.ContactEvents),
	}
}

// flattenClusters lists clusters by infection, keeping per-infection order.
func flattenClusters(clusters domain.ClusterCollection) []ExportRow {
	rows := make([]ExportRow, 0, clusters.Total())
	for _, infection := range clusters.Infections() {
		for _, c := range clusters[infection] {
			rows = append(rows, ExportRow{
				Infection:     infection,
				ClusterID:     c.ClusterID,
				Size:          c.Size,
				Members:       append([]string(nil), c.Members...),
				FirstPositive: c.FirstPositive,
				LastPositive:  c.LastPositive,
				TimespanDays:  c.TimespanDays,
				Locations:     append([]string(nil), c.Locations...),
				ContactEdges:  c.ContactEdges,
				ContactEvents: c.ContactEvents,
			})
		}
	}
	return rows
}

// negotiateFormat picks csv or json from ?format= or the Accept header. It
// returns "" for anything else.
func negotiateFormat(r *http.Request) string {
	wanted := strings.ToLower(r.URL.Query().Get("format"))
	if wanted == "" {
		if strings.Contains(r.Header.Get("Accept"), "text/csv") {
			wanted = formatCSV
		} else {
			wanted = formatJSON
		}
	}
	switch wanted {
	case formatCSV, formatJSON:
		return wanted
	}
	return ""
}

func streamCSV(w http.ResponseWriter, published core.Published, rows []ExportRow) {
	filename := fmt.Sprintf("clusters-%s.csv", published.PublishedAt.UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(exportColumns); err != nil {
		return
	}
	for _, row := range rows {
		if err := writer.Write(row.record()); err != nil {
			return
		}
	}
}
