// Package harness runs synchronization scenarios end to end against an
// in-memory registry and corpus.
//
// # Scenario Format
//
// Scenarios are YAML files. The initial corpus and draft registry are
// seeded first, then each entry under runs changes the registry and runs
// the engine once:
//
//	name: retraction_refreshes_target
//	description: "A new retraction refreshes the article it retracts"
//	local:
//	  - doi: 10.1371/journal.pone.0000006
//	    body: original
//	drafts: []
//	runs:
//	  - registry:
//	      - doi: 10.1371/journal.pone.0000005
//	        type: retraction
//	        related: [10.1371/journal.pone.0000006]
//	    failures:
//	      - doi: 10.1371/journal.pone.0000007
//	        kind: transient
//	    expect:
//	      changes: [10.1371/journal.pone.0000005, 10.1371/journal.pone.0000006]
//	      local: [10.1371/journal.pone.0000005, 10.1371/journal.pone.0000006]
//
// Omitting drafts leaves the registry uninitialized so the first run
// rebuilds it from the corpus. Registry changes persist across runs;
// failures, interrupts and write faults apply to their own run only.
//
// # Golden Files
//
// RunWithGolden compares a snapshot of every run against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
