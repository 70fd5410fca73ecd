package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/fault"
	"github.com/roach88/corpussync/internal/store"
)

func TestRunLedger_RecordsSummary(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	summary := &engine.RunSummary{
		RunID:       "run-1",
		StartedAt:   started,
		FinishedAt:  started.Add(90 * time.Second),
		Discovered:  3,
		Fetched:     4,
		Amended:     1,
		Merged:      3,
		Failed:      1,
		Failures:    []engine.Failure{{DOI: doi.MustParse("10.1371/journal.pone.0000009"), Kind: fault.KindMalformed, Reason: "bad xml"}},
		VanishedIDs: []doi.DOI{doi.MustParse("10.1371/journal.pone.0000008")},
	}

	require.NoError(t, runLedger{st}.RecordRun(context.Background(), summary))

	runs, err := st.LatestRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 3, got.Merged)
	assert.Equal(t, 1, got.Vanished)
	assert.False(t, got.Aborted)
	assert.Equal(t, []store.FailureRecord{{DOI: "10.1371/journal.pone.0000009", Reason: "bad xml"}}, got.Failures)
}
