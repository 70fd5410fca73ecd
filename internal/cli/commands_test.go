package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/engine"
	"github.com/roach88/corpussync/internal/store"
	"github.com/roach88/corpussync/internal/testutil"
)

var (
	articleA = doi.MustParse("10.1371/journal.pone.0000001")
	articleB = doi.MustParse("10.1371/journal.pone.0000002")
	articleC = doi.MustParse("10.1371/journal.pone.0000003")
)

// cliEnv is a corpus directory and config wired to a fake registry
// served over HTTP.
type cliEnv struct {
	t          *testing.T
	reg        *testutil.FakeRegistry
	corpus     string
	configPath string
	env        map[string]string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	reg := testutil.NewFakeRegistry()
	srv := testutil.NewRegistryServer(t, reg)
	corpus := filepath.Join(t.TempDir(), "corpus")

	cfg := fmt.Sprintf(`corpus_dir: %q
registry:
  article_base: %q
  search_base: %q
fetch:
  workers: 2
  max_attempts: 2
  initial_backoff: 1ms
  max_backoff: 2ms
`, corpus, srv.URL, srv.URL)
	configPath := filepath.Join(t.TempDir(), "corpussync.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))

	return &cliEnv{t: t, reg: reg, corpus: corpus, configPath: configPath, env: map[string]string{}}
}

func (e *cliEnv) exec(args ...string) (string, error) {
	e.t.Helper()
	opts := &RootOptions{
		Getenv:    func(k string) string { return e.env[k] },
		LogWriter: io.Discard,
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) runJSON() (*engine.RunSummary, error) {
	e.t.Helper()
	out, err := e.exec("run", "--format", "json")
	var resp struct {
		Status string             `json:"status"`
		Data   *engine.RunSummary `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp.Data, err
}

func TestRunCommand_SyncsCorpus(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String(), Body: "final"})
	env.reg.Publish(testutil.ArticleSpec{DOI: articleB.String(), Draft: true})

	summary, err := env.runJSON()
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 2, summary.Merged)
	assert.Equal(t, 1, summary.NewDrafts)
	assert.False(t, summary.Aborted)

	assert.FileExists(t, filepath.Join(env.corpus, articleA.Filename()))
	assert.FileExists(t, filepath.Join(env.corpus, articleB.Filename()))
	assert.NoFileExists(t, filepath.Join(env.corpus, LockName))

	// Nothing changed upstream: the second run merges nothing.
	summary, err = env.runJSON()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Discovered)
	assert.Equal(t, 0, summary.Merged)
}

func TestRunCommand_Promotion(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.Publish(testutil.ArticleSpec{DOI: articleB.String(), Draft: true})
	_, err := env.runJSON()
	require.NoError(t, err)

	env.reg.Publish(testutil.ArticleSpec{DOI: articleB.String(), VORUpdate: true, Body: "version of record"})
	summary, err := env.runJSON()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Promoted)
	assert.Equal(t, 1, summary.RemovedDrafts)

	out, err := env.exec("drafts", "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunCommand_TextOutput(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	env.reg.FailAlways(articleC, errors.New("upstream exploded"))
	env.reg.Publish(testutil.ArticleSpec{DOI: articleC.String()})

	out, err := env.exec("run")
	require.NoError(t, err, "per-document failures do not fail the run")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "merged 1")
	assert.Contains(t, out, "FAILED "+articleC.String())
}

func TestRunCommand_EnumerationAbort(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.FailList(errors.New("search down"))

	out, err := env.exec("run", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp envelope
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeEnumerate), resp.Error.Code)

	status, err := env.exec("status", "--format", "json")
	require.NoError(t, err)
	var sresp struct {
		Data statusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(status), &sresp))
	require.Len(t, sresp.Data.Runs, 1)
	assert.True(t, sresp.Data.Runs[0].Aborted)
}

func TestRunCommand_Locked(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	require.NoError(t, os.MkdirAll(env.corpus, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.corpus, LockName), []byte("1"), 0o644))

	_, err := env.exec("run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoFileExists(t, filepath.Join(env.corpus, articleA.Filename()))

	_, err = env.exec("run", "--force-unlock")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(env.corpus, articleA.Filename()))
	assert.NoFileExists(t, filepath.Join(env.corpus, LockName))
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	env.env["CORPUSSYNC_FETCH_WORKERS"] = "0"

	_, err := env.exec("run")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPlanCommand(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	_, err := env.runJSON()
	require.NoError(t, err)

	env.reg.Publish(testutil.ArticleSpec{DOI: articleB.String()})
	env.reg.Publish(testutil.ArticleSpec{DOI: articleC.String()})
	env.reg.ResetCounts()

	out, err := env.exec("plan", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data planReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, planReport{Canonical: 3, Local: 1, New: 2, IDs: []doi.DOI{articleB, articleC}}, resp.Data)
	assert.Zero(t, env.reg.TotalFetches(), "plan must not download documents")
	assert.NoFileExists(t, filepath.Join(env.corpus, articleB.Filename()))

	out, err = env.exec("plan", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "2 new articles to download")
	assert.Contains(t, out, articleC.String())
}

func TestDraftsCommands(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.exec("drafts", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	env.reg.Publish(testutil.ArticleSpec{DOI: articleB.String(), Draft: true})
	env.reg.Publish(testutil.ArticleSpec{DOI: articleC.String(), Draft: true})
	_, err = env.runJSON()
	require.NoError(t, err)

	out, err := env.exec("drafts", "list")
	require.NoError(t, err)
	assert.Equal(t, articleB.String()+"\n"+articleC.String()+"\n", out)

	// Losing the registry file is recoverable from the corpus itself.
	require.NoError(t, os.Remove(filepath.Join(env.corpus, ".corpussync", "uncorrected_proofs_list.txt")))
	out, err = env.exec("drafts", "rebuild", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data draftsReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, draftsReport{Count: 2, IDs: []doi.DOI{articleB, articleC}, Rebuilt: true}, resp.Data)
}

func TestStatusCommand(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.exec("status")
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded\n", out)

	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	first, err := env.runJSON()
	require.NoError(t, err)
	second, err := env.runJSON()
	require.NoError(t, err)

	out, err = env.exec("status", "--format", "json", "-n", "1")
	require.NoError(t, err)
	var resp struct {
		Data struct {
			Runs []store.RunRecord `json:"runs"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Runs, 1)
	assert.Contains(t, []string{first.RunID, second.RunID}, resp.Data.Runs[0].ID)

	_, err = env.exec("status", "-n", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReadOnlyCommands_LeaveInflightWritesAlone(t *testing.T) {
	env := newCLIEnv(t)
	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	_, err := env.runJSON()
	require.NoError(t, err)

	// Another run holds the lock and is mid-write.
	release, err := acquireLock(env.corpus, false)
	require.NoError(t, err)
	inflight := filepath.Join(env.corpus, ".tmp-"+articleB.Filename()+"-inflight")
	require.NoError(t, os.WriteFile(inflight, []byte("partial"), 0o644))

	for _, args := range [][]string{{"status"}, {"plan"}, {"drafts", "list"}} {
		_, err := env.exec(args...)
		require.NoError(t, err, "%v", args)
		assert.FileExists(t, inflight, "%v must not touch a locked corpus", args)
	}

	_, err = env.exec("run")
	assert.ErrorIs(t, err, ErrLocked)
	assert.FileExists(t, inflight, "a refused run must not sweep temp files")

	// Once the holder is gone, the next writer sweeps what it left behind.
	release()
	_, err = env.runJSON()
	require.NoError(t, err)
	assert.NoFileExists(t, inflight)
	assert.FileExists(t, filepath.Join(env.corpus, articleA.Filename()))
}

func writeArchive(t *testing.T, specs ...testutil.ArticleSpec) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "allofplos_xml.zip")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, spec := range specs {
		w, err := zw.Create("allofplos_xml/" + doi.MustParse(spec.DOI).Filename())
		require.NoError(t, err)
		_, err = w.Write(testutil.ArticleXML(spec))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func TestSeedCommand(t *testing.T) {
	env := newCLIEnv(t)
	archive := writeArchive(t,
		testutil.ArticleSpec{DOI: articleA.String()},
		testutil.ArticleSpec{DOI: articleB.String(), Draft: true},
	)

	out, err := env.exec("seed", "--archive", archive, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data struct {
			Imported int `json:"imported"`
			Drafts   int `json:"drafts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	assert.Equal(t, 2, resp.Data.Imported)
	assert.Equal(t, 1, resp.Data.Drafts)

	out, err = env.exec("drafts", "list")
	require.NoError(t, err)
	assert.Equal(t, articleB.String()+"\n", out)

	// The seeded articles are not downloaded again.
	env.reg.Publish(testutil.ArticleSpec{DOI: articleA.String()})
	env.reg.Publish(testutil.ArticleSpec{DOI: articleB.String(), Draft: true})
	env.reg.Publish(testutil.ArticleSpec{DOI: articleC.String()})
	summary, err := env.runJSON()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Discovered)
	assert.FileExists(t, filepath.Join(env.corpus, articleC.Filename()))

	out, err = env.exec("seed", "--archive", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 0 articles (2 already present, 0 rejected)")
}

func TestSeedCommand_BadArchive(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.exec("seed", "--archive", filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, filepath.Join(env.corpus, LockName))

	_, err = env.exec("seed")
	require.Error(t, err, "--archive is required")
}
