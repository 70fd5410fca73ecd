package harness

import (
	"github.com/roach88/corpussync/internal/engine"
)

// RunResult is the observable outcome of one run.
type RunResult struct {
	Summary *engine.RunSummary

	// Err is the run's abort error, nil for completed runs.
	Err error

	// AbortCode is the RunError code of an aborted run.
	AbortCode string

	// Changes lists published merge events by DOI, sorted.
	Changes []string

	// Drafts is the persisted draft registry after the run, sorted. Nil
	// when the registry was never initialized.
	Drafts []string

	// Local is every corpus identity after the run, sorted.
	Local []string
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause matched.
	Pass bool

	Runs []RunResult

	// Errors contains expectation mismatches. Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Runs:   []RunResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
