package engine

import (
	"context"

	"github.com/roach88/corpussync/internal/doi"
)

// checkPromotions visits every identity in the draft registry that this
// run has not fetched yet. A changed remote copy is staged; whether that
// promotes or keeps the entry is decided by discoverDrafts. Entries whose
// registry copy could not be fetched, or did not change, are checked
// against the local snapshot for drift.
func (e *Engine) checkPromotions(ctx context.Context, st *runState) {
	var pending, settled []doi.DOI
	for _, id := range st.drafts.initial.Sorted() {
		if o, seen := st.visited.Outcome(id); seen {
			if o != OutcomeStaged {
				settled = append(settled, id)
			}
			continue
		}
		st.visited.Claim(id)
		pending = append(pending, id)
	}

	if len(pending) > 0 {
		e.logger.Info("checking drafts for promotion", "drafts", len(pending))
		e.fetchIfChanged(ctx, st, pending, OriginPromotion, 0)
	}
	for _, id := range pending {
		if o, _ := st.visited.Outcome(id); o != OutcomeStaged {
			settled = append(settled, id)
		}
	}

	for _, id := range settled {
		if ctx.Err() != nil {
			return
		}
		e.checkDrift(ctx, st, id)
	}
}

// checkDrift drops a registry entry whose local snapshot is already final.
// The registry is a hint; the stored document is the truth.
func (e *Engine) checkDrift(ctx context.Context, st *runState, id doi.DOI) {
	doc, err := e.local.Get(ctx, id)
	if err != nil {
		return
	}
	if !doc.Draft && st.drafts.remove(id) {
		e.logger.Warn("draft registry entry already final locally, removing", "doi", id)
	}
}

// discoverDrafts applies the staged truth to the registry: staged drafts
// are added, staged finals are removed. A removal of an identity that was
// registered when the run started counts as a promotion.
func (e *Engine) discoverDrafts(st *runState) {
	for _, entry := range st.staging.Entries() {
		id := entry.Doc.DOI
		if entry.Doc.Draft {
			st.drafts.add(id)
			continue
		}
		if st.drafts.remove(id) && st.drafts.wasDraft(id) {
			st.promote()
			e.logger.Info("draft promoted", "doi", id, "origin", entry.Origin)
		}
	}
	added, removed := st.drafts.diff()
	e.logger.Info("draft registry updated in memory",
		"added", added,
		"removed", removed,
		"size", st.drafts.snapshot().Len(),
	)
}
