package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden representation of a scenario execution. It
// leaves out timestamps, run IDs and error text so it stays stable.
type Snapshot struct {
	Scenario string        `json:"scenario"`
	Runs     []RunSnapshot `json:"runs"`
}

// RunSnapshot is the golden representation of one run.
type RunSnapshot struct {
	Discovered    int      `json:"discovered"`
	Fetched       int      `json:"fetched"`
	Amended       int      `json:"amended"`
	Promoted      int      `json:"promoted"`
	NewDrafts     int      `json:"new_drafts"`
	RemovedDrafts int      `json:"removed_drafts"`
	Merged        int      `json:"merged"`
	Changes       []string `json:"changes"`
	Failed        []string `json:"failed"`
	Vanished      []string `json:"vanished"`
	Drafts        []string `json:"drafts"`
	Local         []string `json:"local"`
	Aborted       bool     `json:"aborted"`
	AbortCode     string   `json:"abort_code,omitempty"`
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(name string, result *Result) Snapshot {
	snap := Snapshot{Scenario: name, Runs: make([]RunSnapshot, 0, len(result.Runs))}
	for _, rr := range result.Runs {
		s := rr.Summary
		failed := make([]string, 0, len(s.Failures))
		for _, f := range s.Failures {
			failed = append(failed, f.DOI.String())
		}
		vanished := make([]string, 0, len(s.VanishedIDs))
		for _, id := range s.VanishedIDs {
			vanished = append(vanished, id.String())
		}
		snap.Runs = append(snap.Runs, RunSnapshot{
			Discovered:    s.Discovered,
			Fetched:       s.Fetched,
			Amended:       s.Amended,
			Promoted:      s.Promoted,
			NewDrafts:     s.NewDrafts,
			RemovedDrafts: s.RemovedDrafts,
			Merged:        s.Merged,
			Changes:       sorted(rr.Changes),
			Failed:        failed,
			Vanished:      vanished,
			Drafts:        sorted(rr.Drafts),
			Local:         sorted(rr.Local),
			Aborted:       s.Aborted,
			AbortCode:     rr.AbortCode,
		})
	}
	return snap
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Expectation mismatches and
// golden differences fail t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(name, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
