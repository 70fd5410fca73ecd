package engine

import (
	"log/slog"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
)

func stagedDoc(id string, content string) *article.Document {
	return &article.Document{
		DOI:         doi.MustParse(id),
		Content:     []byte(content),
		Fingerprint: article.FingerprintOf([]byte(content)),
		Kind:        article.KindArticle,
	}
}

func TestStaging_PutGet(t *testing.T) {
	s := newStaging(nil, "run-1", slog.New(slog.DiscardHandler))
	e := &Entry{Doc: stagedDoc("10.1371/journal.pone.0000001", "a"), Origin: OriginPlanned}

	s.Put(e)

	got, ok := s.Get(e.Doc.DOI)
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get(doi.MustParse("10.1371/journal.pone.0000002"))
	assert.False(t, ok)
}

func TestStaging_EntriesSorted(t *testing.T) {
	s := newStaging(nil, "run-1", slog.New(slog.DiscardHandler))
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000003", "c")})
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000001", "a")})
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000002", "b")})

	var ids []string
	for _, e := range s.Entries() {
		ids = append(ids, e.Doc.DOI.String())
	}
	assert.Equal(t, []string{
		"10.1371/journal.pone.0000001",
		"10.1371/journal.pone.0000002",
		"10.1371/journal.pone.0000003",
	}, ids)
}

func TestStaging_WavesHighestRoundFirst(t *testing.T) {
	s := newStaging(nil, "run-1", slog.New(slog.DiscardHandler))
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000001", "a"), Round: 0})
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000002", "b"), Round: 2})
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000003", "c"), Round: 1})
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000004", "d"), Round: 0})

	waves := s.Waves()
	require.Len(t, waves, 3)
	assert.Equal(t, 2, waves[0][0].Round)
	assert.Equal(t, 1, waves[1][0].Round)
	require.Len(t, waves[2], 2)
	assert.Equal(t, "10.1371/journal.pone.0000001", waves[2][0].Doc.DOI.String())
	assert.Equal(t, "10.1371/journal.pone.0000004", waves[2][1].Doc.DOI.String())
}

func TestStaging_EmptyWaves(t *testing.T) {
	s := newStaging(nil, "run-1", slog.New(slog.DiscardHandler))
	assert.Empty(t, s.Waves())
	assert.NoError(t, s.Discard())
}

func TestStaging_Spill(t *testing.T) {
	fs := memfs.New()
	s := newStaging(fs, "run-1", slog.New(slog.DiscardHandler))
	s.Put(&Entry{Doc: stagedDoc("10.1371/journal.pone.0000001", "<article/>")})

	content, err := util.ReadFile(fs, "run-1/journal.pone.0000001.xml")
	require.NoError(t, err)
	assert.Equal(t, "<article/>", string(content))

	require.NoError(t, s.Discard())
	_, err = fs.Stat("run-1")
	assert.Error(t, err, "spill directory should be removed")
}
