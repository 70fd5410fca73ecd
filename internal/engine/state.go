package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/events"
	"github.com/roach88/corpussync/internal/fault"
)

// runState is everything one run owns. It is created by Run and passed
// to every stage; nothing in it outlives the run.
type runState struct {
	id      string
	started time.Time

	staging *Staging
	visited *Visited
	drafts  *draftLedger

	canonical doi.Set
	local     doi.Set
	need      doi.Set

	// expanded holds amendments whose references were already followed.
	// Only the resolver loop touches it, between rounds.
	expanded doi.Set
	round    int

	mu              sync.Mutex
	failures        map[doi.DOI]Failure
	vanished        doi.Set
	merged          []events.Change
	amended         int
	promoted        int
	rounds          int
	registryRebuilt bool
}

func newRunState(id string, started time.Time, staging *Staging) *runState {
	return &runState{
		id:        id,
		started:   started,
		staging:   staging,
		visited:   NewVisited(),
		drafts:    newDraftLedger(doi.NewSet()),
		canonical: doi.NewSet(),
		local:     doi.NewSet(),
		need:      doi.NewSet(),
		expanded:  doi.NewSet(),
		failures:  make(map[doi.DOI]Failure),
		vanished:  doi.NewSet(),
	}
}

// nextRound starts a resolver round and returns its number.
func (st *runState) nextRound() int {
	st.round++
	st.mu.Lock()
	st.rounds++
	st.mu.Unlock()
	return st.round
}

func (st *runState) stage(e *Entry) {
	st.staging.Put(e)
	st.visited.Mark(e.Doc.DOI, OutcomeStaged)
	if e.Origin == OriginAmendment {
		st.mu.Lock()
		st.amended++
		st.mu.Unlock()
	}
}

// fail records a per-identity failure. NotFound is reported as vanished
// rather than failed.
func (st *runState) fail(id doi.DOI, err error) Outcome {
	st.mu.Lock()
	defer st.mu.Unlock()

	if fault.IsNotFound(err) {
		st.vanished.Add(id)
		st.visited.Mark(id, OutcomeVanished)
		return OutcomeVanished
	}
	st.failures[id] = Failure{
		DOI:    id,
		Kind:   fault.KindOf(err),
		Reason: err.Error(),
	}
	st.visited.Mark(id, OutcomeFailed)
	return OutcomeFailed
}

func (st *runState) promote() {
	st.mu.Lock()
	st.promoted++
	st.mu.Unlock()
}

func (st *runState) markMerged(e *Entry, at time.Time) {
	action := events.ActionUpdated
	if !st.local.Has(e.Doc.DOI) {
		action = events.ActionCreated
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.merged = append(st.merged, events.Change{
		RunID:       st.id,
		DOI:         string(e.Doc.DOI),
		Action:      action,
		Kind:        string(e.Doc.Kind),
		Draft:       e.Doc.Draft,
		Origin:      string(e.Origin),
		Fingerprint: e.Doc.Fingerprint.String(),
		MergedAt:    at,
	})
}

// changes returns merged changes ordered by DOI.
func (st *runState) changes() []events.Change {
	st.mu.Lock()
	out := make([]events.Change, len(st.merged))
	copy(out, st.merged)
	st.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DOI < out[j].DOI })
	return out
}

// summary snapshots the run. err is the abort cause, if any.
func (st *runState) summary(finished time.Time, stale []doi.DOI, err error) *RunSummary {
	st.mu.Lock()
	defer st.mu.Unlock()

	failures := make([]Failure, 0, len(st.failures))
	for _, f := range st.failures {
		failures = append(failures, f)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].DOI < failures[j].DOI })

	added, removed := st.drafts.diff()
	s := &RunSummary{
		RunID:           st.id,
		StartedAt:       st.started,
		FinishedAt:      finished,
		Canonical:       st.canonical.Len(),
		Local:           st.local.Len(),
		Discovered:      st.need.Len(),
		Fetched:         st.staging.Len(),
		Amended:         st.amended,
		Promoted:        st.promoted,
		NewDrafts:       added,
		RemovedDrafts:   removed,
		Merged:          len(st.merged),
		Failed:          len(failures),
		Failures:        failures,
		VanishedIDs:     st.vanished.Sorted(),
		StaleDrafts:     stale,
		Rounds:          st.rounds,
		RegistryRebuilt: st.registryRebuilt,
	}
	if err != nil {
		s.Aborted = true
		s.AbortReason = err.Error()
	}
	return s
}

// draftLedger is the in-memory draft registry for one run. It starts from
// the persisted set and is saved back only after a complete merge.
type draftLedger struct {
	mu      sync.Mutex
	initial doi.Set
	current doi.Set
}

func newDraftLedger(initial doi.Set) *draftLedger {
	return &draftLedger{initial: initial.Clone(), current: initial.Clone()}
}

// wasDraft reports whether id was registered when the run started.
func (l *draftLedger) wasDraft(id doi.DOI) bool {
	return l.initial.Has(id)
}

func (l *draftLedger) add(id doi.DOI) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.Add(id)
}

// remove drops id and reports whether it was present.
func (l *draftLedger) remove(id doi.DOI) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.current.Has(id) {
		return false
	}
	l.current.Remove(id)
	return true
}

func (l *draftLedger) snapshot() doi.Set {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// diff returns the number of identities added and removed this run.
func (l *draftLedger) diff() (added, removed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Difference(l.initial).Len(), l.initial.Difference(l.current).Len()
}

// staleDrafts returns registry identities whose latest snapshot was first
// published longer than maxAge before now. Staged copies win over local
// ones; unreadable local copies are skipped.
func staleDrafts(ctx context.Context, st *runState, local LocalStore, now time.Time, maxAge time.Duration) []doi.DOI {
	if maxAge <= 0 {
		return nil
	}
	var stale []doi.DOI
	for _, id := range st.drafts.snapshot().Sorted() {
		var doc *article.Document
		if e, ok := st.staging.Get(id); ok {
			doc = e.Doc
		} else {
			d, err := local.Get(ctx, id)
			if err != nil {
				continue
			}
			doc = d
		}
		if doc.PublishedAt.IsZero() {
			continue
		}
		if now.Sub(doc.PublishedAt) > maxAge {
			stale = append(stale, id)
		}
	}
	return stale
}
