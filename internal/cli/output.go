package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// output writes command results to stdout, either as the command's own
// text layout or as a JSON envelope. Diagnostics go to diag so they never
// interleave with JSON.
type output struct {
	json    bool
	verbose bool
	w       io.Writer
	diag    io.Writer
}

// envelope is the document every command writes with --format json.
type envelope struct {
	Status string         `json:"status"` // "ok" or "error"
	RunID  string         `json:"run_id,omitempty"`
	Data   any            `json:"data,omitempty"`
	Error  *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"` // RunError code, or CONFIG_INVALID etc.
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// report is a command result.
type report interface {
	renderText(w io.Writer, verbose bool) error
}

// runScoped is a report produced by a sync run; its ID goes in the envelope.
type runScoped interface {
	runID() string
}

func newOutput(format string, verbose bool, w, diag io.Writer) *output {
	if diag == nil {
		diag = w
	}
	return &output{json: format == "json", verbose: verbose, w: w, diag: diag}
}

// ok writes a successful result.
func (o *output) ok(r report) error {
	if o.json {
		return o.encode(envelope{Status: "ok", RunID: runIDOf(r), Data: r})
	}
	return r.renderText(o.w, o.verbose)
}

// fail writes a failed result. partial, when non-nil, is what the command
// got done before failing: the envelope's details in JSON, rendered after
// the error line on diag in text.
func (o *output) fail(code string, err error, partial report) error {
	if o.json {
		e := &envelopeError{Code: code, Message: err.Error()}
		if partial != nil {
			e.Details = partial
		}
		return o.encode(envelope{Status: "error", RunID: runIDOf(partial), Error: e})
	}
	fmt.Fprintf(o.diag, "Error [%s]: %v\n", code, err)
	if partial == nil {
		return nil
	}
	return partial.renderText(o.diag, o.verbose)
}

// logf writes a diagnostic line in verbose mode.
func (o *output) logf(format string, args ...any) {
	if o.verbose {
		fmt.Fprintf(o.diag, format+"\n", args...)
	}
}

func (o *output) encode(e envelope) error {
	if err := json.NewEncoder(o.w).Encode(e); err != nil {
		return fmt.Errorf("write json output: %w", err)
	}
	return nil
}

func runIDOf(r report) string {
	if s, ok := r.(runScoped); ok {
		return s.runID()
	}
	return ""
}
