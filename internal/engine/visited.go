package engine

import (
	"sync"

	"github.com/roach88/corpussync/internal/doi"
)

// Outcome is what happened to an identity this run.
type Outcome int

const (
	// OutcomePending means the identity is claimed but not yet settled.
	OutcomePending Outcome = iota
	// OutcomeStaged means a fresh copy is in the staging area.
	OutcomeStaged
	// OutcomeUnchanged means the local copy already matches the registry.
	OutcomeUnchanged
	// OutcomeFailed means the fetch failed after retries or was malformed.
	OutcomeFailed
	// OutcomeVanished means the registry no longer has the identity.
	OutcomeVanished
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeStaged:
		return "staged"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeFailed:
		return "failed"
	case OutcomeVanished:
		return "vanished"
	}
	return "unknown"
}

// Visited records every identity fetched or attempted in a run.
//
// Claim is the only way an identity enters the set, and it succeeds once
// per identity. Every fetch in a run goes through Claim first, so no
// identity is fetched twice and amendment chains with cycles terminate:
//
//	A (retraction) → B (correction) → A
//	round 1 claims B, round 2 tries to claim A, which was claimed when A
//	was planned, so round 2 is empty and resolution stops.
//
// Thread-safe: fetch workers call Mark concurrently.
type Visited struct {
	mu   sync.Mutex
	seen map[doi.DOI]Outcome
}

// NewVisited creates an empty set.
func NewVisited() *Visited {
	return &Visited{seen: make(map[doi.DOI]Outcome)}
}

// Claim adds id as pending. Returns false if id was already present.
func (v *Visited) Claim(id doi.DOI) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.seen[id]; ok {
		return false
	}
	v.seen[id] = OutcomePending
	return true
}

// Mark settles the outcome of id.
func (v *Visited) Mark(id doi.DOI, o Outcome) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[id] = o
}

// Outcome reports the outcome of id and whether it was visited at all.
func (v *Visited) Outcome(id doi.DOI) (Outcome, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.seen[id]
	return o, ok
}

// Len returns the number of visited identities.
func (v *Visited) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}
