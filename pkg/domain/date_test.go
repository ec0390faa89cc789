package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateOfDiscardsTimeOfDay(t *testing.T) {
	morning := DateOf(time.Date(2024, 3, 1, 0, 5, 0, 0, time.UTC))
	evening := DateOf(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC))
	if morning != evening {
		t.Fatalf("expected same day, got %s and %s", morning, evening)
	}
	if got := morning.String(); got != "2024-03-01" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestDateArithmeticAcrossEpoch(t *testing.T) {
	d := NewDate(1970, time.January, 2)
	if got := d.AddDays(-3).String(); got != "1969-12-30" {
		t.Fatalf("expected 1969-12-30, got %s", got)
	}
	if n := d.AddDays(-3).DaysUntil(d); n != 3 {
		t.Fatalf("expected 3 days, got %d", n)
	}
}

func TestDateJSONRoundTrip(t *testing.T) {
	in := NewDate(2023, time.November, 30)
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2023-11-30"` {
		t.Fatalf("unexpected json %s", b)
	}
	var out Date
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %s != %s", out, in)
	}
	if err := json.Unmarshal([]byte(`"30/11/2023"`), &out); err == nil {
		t.Fatalf("expected error for non-canonical date")
	}
}

func TestDateRangeIntersect(t *testing.T) {
	a := DateRange{Start: 10, End: 20}
	cases := []struct {
		name  string
		other DateRange
		days  int
	}{
		{"inside", DateRange{Start: 12, End: 14}, 3},
		{"overlap left", DateRange{Start: 0, End: 10}, 1},
		{"disjoint", DateRange{Start: 21, End: 30}, 0},
		{"covering", DateRange{Start: 0, End: 40}, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.Intersect(tc.other).Days(); got != tc.days {
				t.Fatalf("expected %d days, got %d", tc.days, got)
			}
		})
	}
}

func TestPositiveIndexEntryWindow(t *testing.T) {
	e := NewPositiveIndexEntry("p1", "MRSA", NewDate(2024, time.January, 15))
	if !e.Covers(NewDate(2024, time.January, 1)) || !e.Covers(NewDate(2024, time.January, 29)) {
		t.Fatalf("window bounds must be inclusive: %+v", e)
	}
	if e.Covers(NewDate(2023, time.December, 31)) || e.Covers(NewDate(2024, time.January, 30)) {
		t.Fatalf("window too wide: %+v", e)
	}
}

func TestMicrobiologyIsPositive(t *testing.T) {
	for _, v := range []string{"positive", "POSITIVE", "Positive"} {
		if !(MicrobiologyRecord{Result: v}).IsPositive() {
			t.Fatalf("%q should be positive", v)
		}
	}
	for _, v := range []string{"negative", "pos", "", " positive "} {
		if (MicrobiologyRecord{Result: v}).IsPositive() {
			t.Fatalf("%q should not be positive", v)
		}
	}
}

func TestEmptyResultShape(t *testing.T) {
	b, err := json.Marshal(EmptyResult())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"clusters":{},"stats":{"infections":[],"total_clusters":0,"patients_positive":0}}`
	if string(b) != want {
		t.Fatalf("unexpected empty result json:\n got %s\nwant %s", b, want)
	}
}
