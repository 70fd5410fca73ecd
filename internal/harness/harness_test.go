package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Runs, len(s.Runs))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/04_interrupted_merge_resumes.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := NewSnapshot(s.Name, first).Marshal()
	require.NoError(t, err)
	b, err := NewSnapshot(s.Name, second).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsMismatch(t *testing.T) {
	s := &Scenario{
		Name:        "mismatch",
		Description: "expects a document the registry never had",
		Registry:    []Article{{DOI: "10.1371/journal.pone.0000001"}},
		Runs: []RunStep{{
			Expect: &Expect{
				Changes: []string{"10.1371/journal.pone.0000002"},
				Local:   []string{"10.1371/journal.pone.0000001"},
			},
		}},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "run 1: expectation failed: changes")
}

func TestRun_FailuresApplyToOneRun(t *testing.T) {
	s := &Scenario{
		Name:        "list_error",
		Description: "enumeration fails once",
		Registry:    []Article{{DOI: "10.1371/journal.pone.0000001"}},
		Runs: []RunStep{
			{ListError: true, Expect: &Expect{Aborted: true, AbortCode: "ENUMERATE_FAILED", Local: []string{}}},
			{Expect: &Expect{Local: []string{"10.1371/journal.pone.0000001"}}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Runs, 2)
	assert.Error(t, result.Runs[0].Err)
	assert.NoError(t, result.Runs[1].Err)
}

func TestRun_InvalidLocalSeed(t *testing.T) {
	s := &Scenario{
		Name:        "bad_seed",
		Description: "local document does not decode",
		Local:       []Article{{DOI: "10.1371/journal.pone.0000001", Raw: "<article"}},
		Runs:        []RunStep{{}},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to seed scenario")
}
