// Package engine implements the corpus synchronization engine.
//
// A run reconciles the local corpus with the remote registry in five
// stages, all sharing one run-scoped state object:
//
//  1. Plan: need = canonical − local.
//  2. Fetch: every identity in need is fetched into the staging area by a
//     bounded worker pool, with retry for transient failures.
//  3. Resolve: amendments (corrections, retractions, expressions of
//     concern) in staging pull in the documents they reference, round by
//     round, until a round adds nothing new.
//  4. Track drafts: every identity in the draft registry is checked for
//     promotion, then staged drafts are added and staged finals removed.
//  5. Merge: staged documents are written to the local store one at a
//     time, deepest amendment round first.
//
// The draft registry is saved once, after every merge succeeded. An
// interrupted run leaves merged documents in place and the registry as it
// was, so the next run picks up where this one stopped.
//
// Per-document failures never abort a run. A run aborts only when the
// canonical or local identity sets cannot be enumerated, the draft
// registry cannot be loaded, a write to the local store or the draft
// registry fails, or the context is cancelled.
package engine
