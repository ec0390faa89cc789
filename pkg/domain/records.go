// Package domain defines the records, derived entities and result shapes
// shared by the wardtrace detection engine, its persistence backends and
// the HTTP surface.
package domain

import "strings"

// WindowDays is the half-width of the exposure window around a patient's
// first positive test for one infection.
const WindowDays = 14

// PositiveResult is the microbiology result value, compared case-insensitively.
const PositiveResult = "positive"

// TransferRecord is one ward stay, normalized to day granularity.
type TransferRecord struct {
	PatientID string `json:"patient_id"`
	Location  string `json:"location"`
	WardIn    Date   `json:"ward_in_time"`
	WardOut   Date   `json:"ward_out_time"`
}

// Stay returns the inclusive stay interval.
func (t TransferRecord) Stay() DateRange {
	return DateRange{Start: t.WardIn, End: t.WardOut}
}

// MicrobiologyRecord is one test result.
type MicrobiologyRecord struct {
	PatientID      string `json:"patient_id"`
	Infection      string `json:"infection"`
	Result         string `json:"result"`
	CollectionDate Date   `json:"collection_date"`
}

// IsPositive reports whether the result reads "positive" in any case.
// Surrounding whitespace is not ignored; the CSV reader trims cells.
func (m MicrobiologyRecord) IsPositive() bool {
	return strings.EqualFold(m.Result, PositiveResult)
}

// PositiveIndexEntry is the earliest positive test of a patient for one
// infection together with its exposure window.
type PositiveIndexEntry struct {
	PatientID    string `json:"patient_id"`
	Infection    string `json:"infection"`
	PositiveDate Date   `json:"positive_date"`
	WindowStart  Date   `json:"window_start"`
	WindowEnd    Date   `json:"window_end"`
}

// NewPositiveIndexEntry derives the ±WindowDays window from the positive date.
func NewPositiveIndexEntry(patientID, infection string, positive Date) PositiveIndexEntry {
	return PositiveIndexEntry{
		PatientID:    patientID,
		Infection:    infection,
		PositiveDate: positive,
		WindowStart:  positive.AddDays(-WindowDays),
		WindowEnd:    positive.AddDays(WindowDays),
	}
}

// Window returns the inclusive exposure window.
func (e PositiveIndexEntry) Window() DateRange {
	return DateRange{Start: e.WindowStart, End: e.WindowEnd}
}

// Covers reports whether d falls inside the patient's own window.
func (e PositiveIndexEntry) Covers(d Date) bool { return e.Window().Contains(d) }

// PresenceRecord states that a patient occupied a location on a day.
type PresenceRecord struct {
	PatientID string `json:"patient_id"`
	Date      Date   `json:"date"`
	Location  string `json:"location"`
}

// ContactEvent is one co-presence of two patients. U sorts before V.
type ContactEvent struct {
	U        string `json:"u"`
	V        string `json:"v"`
	Date     Date   `json:"date"`
	Location string `json:"location"`
}

// ContactEdge links two patients; Weight counts distinct (date, location)
// events between them.
type ContactEdge struct {
	U      string `json:"u"`
	V      string `json:"v"`
	Weight int    `json:"weight"`
}
