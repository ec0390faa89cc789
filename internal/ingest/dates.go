package ingest

import (
	"errors"
	"time"

	"wardtrace/pkg/domain"
)

// dateLayouts lists the accepted timestamp spellings, most common first.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
}

var errUnrecognizedDate = errors.New("unrecognized date format")

// ParseDate parses a timestamp in any accepted layout and keeps only the
// calendar day.
func ParseDate(s string) (domain.Date, error) {
	if s == "" {
		return 0, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.DateOf(t), nil
		}
	}
	return 0, errUnrecognizedDate
}
