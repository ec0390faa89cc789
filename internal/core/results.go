package core

import (
	"sync/atomic"
	"time"

	"wardtrace/internal/engine"
	"wardtrace/pkg/domain"
)

// Published is one completed run as readers see it. Values are never
// mutated after Publish.
type Published struct {
	RunID       string             `json:"run_id"`
	PublishedAt time.Time          `json:"published_at"`
	Result      domain.Result      `json:"result"`
	WardSummary domain.WardSummary `json:"ward_summary"`
	Report      engine.Report      `json:"report"`
}

// ResultStore holds the latest published run. Publish swaps a single
// pointer, so a reader sees either the old run or the new one in full.
type ResultStore struct {
	latest atomic.Pointer[Published]
}

// NewResultStore returns an empty store.
func NewResultStore() *ResultStore { return &ResultStore{} }

// Publish replaces the latest run with a private copy of p.
func (s *ResultStore) Publish(p Published) {
	cp := p
	cp.Result = p.Result.Clone()
	cp.WardSummary = cloneWardSummary(p.WardSummary)
	s.latest.Store(&cp)
}

// Latest returns the current run, or false before the first Publish.
func (s *ResultStore) Latest() (*Published, bool) {
	p := s.latest.Load()
	return p, p != nil
}

func cloneWardSummary(in domain.WardSummary) domain.WardSummary {
	out := make(domain.WardSummary, len(in))
	for loc, counts := range in {
		inner := make(map[string]int, len(counts))
		for infection, n := range counts {
			inner[infection] = n
		}
		out[loc] = inner
	}
	return out
}
