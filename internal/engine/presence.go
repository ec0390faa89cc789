package engine

import (
	"errors"
	"fmt"

	"wardtrace/pkg/domain"
)

// DefaultMaxPresenceRows bounds the expanded presence table of one run.
const DefaultMaxPresenceRows = 5_000_000

// ErrPresenceLimit is returned when ward stays would expand past the
// configured presence row cap.
var ErrPresenceLimit = errors.New("presence expansion exceeds row limit")

// HorizonOf spans every window of the index. ok is false for an empty index.
func HorizonOf(index []domain.PositiveIndexEntry) (horizon domain.DateRange, ok bool) {
	for i, e := range index {
		if i == 0 {
			horizon = e.Window()
			continue
		}
		if e.WindowStart < horizon.Start {
			horizon.Start = e.WindowStart
		}
		if e.WindowEnd > horizon.End {
			horizon.End = e.WindowEnd
		}
	}
	return horizon, len(index) > 0
}

// ExpandPresence emits one row per day of each stay clipped to the horizon.
// Stays that do not intersect the horizon are discarded. limit <= 0 means
// DefaultMaxPresenceRows. The row count is checked before any row of the
// offending stay is materialized.
func ExpandPresence(transfers []domain.TransferRecord, horizon domain.DateRange, limit int) ([]domain.PresenceRecord, error) {
	if limit <= 0 {
		limit = DefaultMaxPresenceRows
	}
	total := 0
	for _, t := range transfers {
		total += t.Stay().Intersect(horizon).Days()
		if total > limit {
			return nil, fmt.Errorf("%w: more than %d rows", ErrPresenceLimit, limit)
		}
	}
	out := make([]domain.PresenceRecord, 0, total)
	for _, t := range transfers {
		span := t.Stay().Intersect(horizon)
		for d := span.Start; d <= span.End; d++ {
			out = append(out, domain.PresenceRecord{PatientID: t.PatientID, Date: d, Location: t.Location})
		}
	}
	return out, nil
}
