package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/corpussync/internal/doi"
)

// Scenario defines a multi-run synchronization test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Local seeds the corpus before the first run.
	Local []Article `yaml:"local,omitempty"`

	// Drafts seeds the draft registry. Nil leaves it uninitialized.
	Drafts []string `yaml:"drafts"`

	// Registry is published before the first run.
	Registry []Article `yaml:"registry,omitempty"`

	// Runs are executed in order against the same corpus.
	Runs []RunStep `yaml:"runs"`
}

// Article describes one document version.
type Article struct {
	DOI       string   `yaml:"doi"`
	Type      string   `yaml:"type,omitempty"`
	Related   []string `yaml:"related,omitempty"`
	Draft     bool     `yaml:"draft,omitempty"`
	VORUpdate bool     `yaml:"vor_update,omitempty"`
	Body      string   `yaml:"body,omitempty"`

	// Raw replaces the generated XML, for undecodable content.
	Raw string `yaml:"raw,omitempty"`
}

// RunStep changes the registry and runs the engine once.
type RunStep struct {
	// Registry documents are published or replaced before the run.
	Registry []Article `yaml:"registry,omitempty"`

	// Remove drops identities from the registry before the run.
	Remove []string `yaml:"remove,omitempty"`

	// Failures are injected for this run only.
	Failures []Failure `yaml:"failures,omitempty"`

	// ListError makes enumeration fail for this run.
	ListError bool `yaml:"list_error,omitempty"`

	// InterruptAt cancels the run when the merge reaches this identity.
	InterruptAt string `yaml:"interrupt_at,omitempty"`

	// FailPut makes the local store reject the write of this identity.
	FailPut string `yaml:"fail_put,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Failure kinds accepted in scenarios.
const (
	FailTransient = "transient"
	FailNotFound  = "not_found"
)

// Failure makes registry calls for one identity fail.
type Failure struct {
	DOI  string `yaml:"doi"`
	Kind string `yaml:"kind"`

	// Times limits the failure to the first N calls. Zero fails every call.
	Times int `yaml:"times,omitempty"`
}

// Expect checks a run's outcome. A nil list is not checked; an empty list
// must match exactly.
type Expect struct {
	// Changes lists the identities published as merged.
	Changes  []string `yaml:"changes"`
	Failed   []string `yaml:"failed"`
	Vanished []string `yaml:"vanished"`

	// Drafts is the persisted draft registry after the run.
	Drafts []string `yaml:"drafts"`

	// Local is the full set of corpus identities after the run.
	Local []string `yaml:"local"`

	Aborted   bool   `yaml:"aborted,omitempty"`
	AbortCode string `yaml:"abort_code,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "expects:" vs "expect:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(path), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	for i, a := range s.Local {
		if err := validateArticle(fmt.Sprintf("local[%d]", i), a); err != nil {
			return err
		}
	}
	if err := validateDOIs("drafts", s.Drafts); err != nil {
		return err
	}
	for i, a := range s.Registry {
		if err := validateArticle(fmt.Sprintf("registry[%d]", i), a); err != nil {
			return err
		}
	}

	for i, run := range s.Runs {
		if err := validateRun(i, &run); err != nil {
			return err
		}
	}
	return nil
}

func validateRun(index int, r *RunStep) error {
	prefix := fmt.Sprintf("runs[%d]", index)
	for i, a := range r.Registry {
		if err := validateArticle(fmt.Sprintf("%s.registry[%d]", prefix, i), a); err != nil {
			return err
		}
	}
	if err := validateDOIs(prefix+".remove", r.Remove); err != nil {
		return err
	}
	for i, f := range r.Failures {
		field := fmt.Sprintf("%s.failures[%d]", prefix, i)
		if !doi.Valid(f.DOI) {
			return fmt.Errorf("%s: invalid doi %q", field, f.DOI)
		}
		switch f.Kind {
		case FailTransient, FailNotFound:
		default:
			return fmt.Errorf("%s: unknown failure kind %q", field, f.Kind)
		}
		if f.Times < 0 {
			return fmt.Errorf("%s: times must be non-negative", field)
		}
	}
	for field, v := range map[string]string{"interrupt_at": r.InterruptAt, "fail_put": r.FailPut} {
		if v != "" && !doi.Valid(v) {
			return fmt.Errorf("%s.%s: invalid doi %q", prefix, field, v)
		}
	}
	if e := r.Expect; e != nil {
		if e.AbortCode != "" && !e.Aborted {
			return fmt.Errorf("%s.expect: abort_code requires aborted: true", prefix)
		}
		for field, ids := range map[string][]string{
			"changes": e.Changes, "failed": e.Failed, "vanished": e.Vanished,
			"drafts": e.Drafts, "local": e.Local,
		} {
			if err := validateDOIs(prefix+".expect."+field, ids); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateArticle(field string, a Article) error {
	if !doi.Valid(a.DOI) {
		return fmt.Errorf("%s: invalid doi %q", field, a.DOI)
	}
	return validateDOIs(field+".related", a.Related)
}

func validateDOIs(field string, ids []string) error {
	for i, id := range ids {
		if !doi.Valid(id) {
			return fmt.Errorf("%s[%d]: invalid doi %q", field, i, id)
		}
	}
	return nil
}
