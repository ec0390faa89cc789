package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the canonical text form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day counted from 1970-01-01. Time-of-day is never
// represented; two events on the same Date are simultaneous for contact
// purposes.
type Date int32

// DateOf truncates t to its calendar day. The wall-clock date in t's own
// location is used, so "2024-03-01T23:30:00+02:00" is 2024-03-01.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Date(u.Unix() / 86400)
}

// NewDate builds a Date from its calendar components.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseCanonicalDate parses the YYYY-MM-DD form only.
func ParseCanonicalDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return 0, err
	}
	return DateOf(t), nil
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

// AddDays shifts the date by n days (n may be negative).
func (d Date) AddDays(n int) Date { return d + Date(n) }

// DaysUntil returns the signed number of days from d to other.
func (d Date) DaysUntil(other Date) int { return int(other - d) }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d < other }

func (d Date) String() string { return d.Time().Format(DateLayout) }

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseCanonicalDate(string(b))
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", string(b), err)
	}
	*d = parsed
	return nil
}

// MarshalJSON renders the date as a JSON string.
func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// UnmarshalJSON accepts a JSON string in YYYY-MM-DD form.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// DateRange is an inclusive interval of days. An empty range has End < Start.
type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Empty reports whether the range contains no days.
func (r DateRange) Empty() bool { return r.End < r.Start }

// Contains reports whether d lies in the inclusive range.
func (r DateRange) Contains(d Date) bool { return d >= r.Start && d <= r.End }

// Days returns the number of days in the range, zero when empty.
func (r DateRange) Days() int {
	if r.Empty() {
		return 0
	}
	return int(r.End-r.Start) + 1
}

// Intersect returns the overlap of r and other, possibly empty.
func (r DateRange) Intersect(other DateRange) DateRange {
	out := r
	if other.Start > out.Start {
		out.Start = other.Start
	}
	if other.End < out.End {
		out.End = other.End
	}
	return out
}
