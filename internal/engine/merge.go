package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/corpussync/internal/fault"
)

// merge writes every staged document into the local store, one wave per
// resolver round, highest round first. Writes inside a wave run in
// parallel. The first failed write stops the merge; documents already
// written stay written.
func (e *Engine) merge(ctx context.Context, st *runState) error {
	for _, wave := range st.staging.Waves() {
		if err := ctx.Err(); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.mergeWorkers)
		for _, entry := range wave {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.local.Put(gctx, entry.Doc); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fault.Persistence("put", entry.Doc.DOI, err)
				}
				st.markMerged(entry, e.clock.Now())
				e.metrics.IncDocument("merge", "merged")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("merge round %d: %w", wave[0].Round, err)
		}
	}
	return nil
}
