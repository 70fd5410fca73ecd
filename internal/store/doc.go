// Package store provides SQLite-backed durable storage for corpussync.
//
// A single database file holds three things:
//   - Documents: an alternative local store backend (one row per DOI)
//   - Runs: the run ledger, one row per sync run plus its per-DOI failures
//   - Drafts: an alternative draft registry backend
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every write is a single statement or a single transaction, so a document
// row is either the old snapshot or the new one, never a mix.
package store
