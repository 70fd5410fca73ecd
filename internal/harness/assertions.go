package harness

import (
	"fmt"
	"slices"
	"strings"
)

// ExpectationError describes one mismatch between a run and its expect
// clause.
type ExpectationError struct {
	Run      int    // 1-based run number
	Field    string // expect field that failed
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "run %d: expectation failed: %s\n", e.Run, e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// checkExpect compares a run against its expect clause and returns one
// message per mismatch.
func checkExpect(index int, rr *RunResult, e *Expect) []string {
	var errs []string
	add := func(field, expected, actual string) {
		errs = append(errs, (&ExpectationError{
			Run:      index + 1,
			Field:    field,
			Expected: expected,
			Actual:   actual,
		}).Error())
	}

	if rr.Summary.Aborted != e.Aborted {
		actual := "completed"
		if rr.Summary.Aborted {
			actual = "aborted: " + rr.Summary.AbortReason
		}
		add("aborted", fmt.Sprint(e.Aborted), actual)
	}
	if e.AbortCode != "" && rr.AbortCode != e.AbortCode {
		add("abort_code", e.AbortCode, rr.AbortCode)
	}

	failed := make([]string, len(rr.Summary.Failures))
	for i, f := range rr.Summary.Failures {
		failed[i] = f.DOI.String()
	}
	vanished := make([]string, len(rr.Summary.VanishedIDs))
	for i, id := range rr.Summary.VanishedIDs {
		vanished[i] = id.String()
	}

	for _, c := range []struct {
		field    string
		expected []string
		actual   []string
	}{
		{"changes", e.Changes, rr.Changes},
		{"failed", e.Failed, failed},
		{"vanished", e.Vanished, vanished},
		{"drafts", e.Drafts, rr.Drafts},
		{"local", e.Local, rr.Local},
	} {
		if c.expected == nil {
			continue
		}
		if !sameSet(c.expected, c.actual) {
			add(c.field, fmt.Sprint(sorted(c.expected)), fmt.Sprint(sorted(c.actual)))
		}
	}
	return errs
}

// sameSet compares a and b ignoring order. Duplicates are significant.
func sameSet(a, b []string) bool {
	return slices.Equal(sorted(a), sorted(b))
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return out
}
