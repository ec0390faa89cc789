// Package ingest normalizes the raw transfer and microbiology tables into
// typed domain records. Rows missing a required field are dropped; a
// malformed date aborts the read with a ParseError.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"wardtrace/pkg/domain"
)

// Required column names.
const (
	ColPatientID      = "patient_id"
	ColLocation       = "location"
	ColWardIn         = "ward_in_time"
	ColWardOut        = "ward_out_time"
	ColInfection      = "infection"
	ColResult         = "result"
	ColCollectionDate = "collection_date"
)

var (
	transferColumns     = []string{ColPatientID, ColLocation, ColWardIn, ColWardOut}
	microbiologyColumns = []string{ColPatientID, ColInfection, ColResult, ColCollectionDate}
)

// ParseError reports malformed input. Line is 1-based and counts the header.
type ParseError struct {
	Table  string
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Line == 0 && e.Column != "":
		return fmt.Sprintf("%s: missing required column %q", e.Table, e.Column)
	case e.Line == 0:
		return fmt.Sprintf("%s: %v", e.Table, e.Err)
	case e.Column == "":
		return fmt.Sprintf("%s line %d: %v", e.Table, e.Line, e.Err)
	default:
		return fmt.Sprintf("%s line %d column %s: invalid value %q: %v", e.Table, e.Line, e.Column, e.Value, e.Err)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrMissingColumn is wrapped by ParseError when a header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// ReadStats counts what happened to the rows of one table.
type ReadStats struct {
	Rows    int `json:"rows"`
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`
}

// ReadTransfers parses a transfers CSV.
func ReadTransfers(r io.Reader) ([]domain.TransferRecord, ReadStats, error) {
	var out []domain.TransferRecord
	stats, err := readTable(r, "transfers", transferColumns, []string{ColWardIn, ColWardOut}, func(f fields) {
		out = append(out, domain.TransferRecord{
			PatientID: f.get(ColPatientID),
			Location:  f.get(ColLocation),
			WardIn:    f.dates[ColWardIn],
			WardOut:   f.dates[ColWardOut],
		})
	})
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// ReadMicrobiology parses a microbiology results CSV.
func ReadMicrobiology(r io.Reader) ([]domain.MicrobiologyRecord, ReadStats, error) {
	var out []domain.MicrobiologyRecord
	stats, err := readTable(r, "microbiology", microbiologyColumns, []string{ColCollectionDate}, func(f fields) {
		out = append(out, domain.MicrobiologyRecord{
			PatientID:      f.get(ColPatientID),
			Infection:      f.get(ColInfection),
			Result:         f.get(ColResult),
			CollectionDate: f.dates[ColCollectionDate],
		})
	})
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

type fields struct {
	table  string
	cols   map[string]int
	record []string
	dates  map[string]domain.Date
}

func (f fields) get(name string) string {
	idx := f.cols[name]
	if idx >= len(f.record) {
		return ""
	}
	return strings.TrimSpace(f.record[idx])
}

// parseDates parses every non-empty date column of the row. Empty values
// are left for the required-field check to drop.
func (f *fields) parseDates(line int, names []string) error {
	f.dates = make(map[string]domain.Date, len(names))
	for _, name := range names {
		raw := f.get(name)
		if raw == "" {
			continue
		}
		d, err := ParseDate(raw)
		if err != nil {
			return &ParseError{Table: f.table, Line: line, Column: name, Value: raw, Err: err}
		}
		f.dates[name] = d
	}
	return nil
}

// readTable parses dates before dropping incomplete rows, so a malformed
// date fails the read even on a row that would have been dropped.
func readTable(r io.Reader, table string, required, dateCols []string, emit func(f fields)) (ReadStats, error) {
	var stats ReadStats
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return stats, nil
	}
	if err != nil {
		return stats, &ParseError{Table: table, Err: err}
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return stats, &ParseError{Table: table, Column: name, Err: ErrMissingColumn}
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.Line
			}
			return stats, &ParseError{Table: table, Line: line, Err: err}
		}
		line, _ := reader.FieldPos(0)
		if blankRecord(record) {
			continue
		}
		stats.Rows++
		f := fields{table: table, cols: cols, record: record}
		if err := f.parseDates(line, dateCols); err != nil {
			return stats, err
		}
		if !hasAll(f, required) {
			stats.Dropped++
			continue
		}
		emit(f)
		stats.Kept++
	}
	return stats, nil
}

func hasAll(f fields, required []string) bool {
	for _, name := range required {
		if f.get(name) == "" {
			return false
		}
	}
	return true
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
