// Package persistence holds the row shape shared by the snapshot table drivers.
package persistence

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a snapshot id is unknown.
var ErrNotFound = errors.New("persistence: snapshot not found")

// Record is one stored snapshot. Payload is opaque to the drivers.
type Record struct {
	ID        string
	CreatedAt time.Time
	Payload   []byte
}

// Meta is a Record without its payload.
type Meta struct {
	ID        string
	CreatedAt time.Time
	Size      int
}

// Less orders records by creation time then id, the order used for "latest".
func Less(a, b Meta) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
