package engine

import (
	"context"

	"github.com/roach88/corpussync/internal/doi"
)

// resolve expands staged amendments to the documents they reference until
// a round claims nothing new. Each round waits for the previous one, and
// fetches inside a round run in parallel. A target whose local copy
// already matches the registry is visited but not staged.
func (e *Engine) resolve(ctx context.Context, st *runState) {
	for ctx.Err() == nil {
		targets := frontier(st)
		if len(targets) == 0 {
			return
		}
		round := st.nextRound()
		e.logger.Info("resolving amendment references", "round", round, "targets", len(targets))
		e.fetchIfChanged(ctx, st, targets, OriginAmendment, round)
	}
}

// frontier claims the unvisited references of every staged amendment not
// yet expanded and returns them in DOI order.
func frontier(st *runState) []doi.DOI {
	var targets []doi.DOI
	for _, entry := range st.staging.Entries() {
		id := entry.Doc.DOI
		if !entry.Doc.IsAmendment() || st.expanded.Has(id) {
			continue
		}
		st.expanded.Add(id)
		for _, rel := range entry.Doc.Related {
			if st.visited.Claim(rel) {
				targets = append(targets, rel)
			}
		}
	}
	return targets
}
