package article_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/testutil"
)

const (
	target  = "10.1371/journal.pone.0000001"
	target2 = "10.1371/journal.pone.0000002"
	notice  = "10.1371/journal.pone.0000100"
)

func TestDecode_Article(t *testing.T) {
	content := testutil.ArticleXML(testutil.ArticleSpec{
		DOI:  target,
		Epub: time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC),
		Body: "v1",
	})

	doc, err := article.Decode(doi.MustParse(target), content)
	require.NoError(t, err)

	assert.Equal(t, article.KindArticle, doc.Kind)
	assert.False(t, doc.Draft)
	assert.False(t, doc.IsAmendment())
	assert.Empty(t, doc.Related)
	assert.Equal(t, time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC), doc.PublishedAt)
	assert.Equal(t, article.FingerprintOf(content), doc.Fingerprint)
	assert.Equal(t, content, doc.Content)
}

func TestDecode_Kinds(t *testing.T) {
	tests := []struct {
		name      string
		spec      testutil.ArticleSpec
		wantKind  article.Kind
		wantDraft bool
	}{
		{
			name:     "correction",
			spec:     testutil.ArticleSpec{DOI: notice, Type: "correction", Related: []string{target}},
			wantKind: article.KindCorrection,
		},
		{
			name:     "retraction",
			spec:     testutil.ArticleSpec{DOI: notice, Type: "retraction", Related: []string{target}},
			wantKind: article.KindRetraction,
		},
		{
			name:     "expression of concern",
			spec:     testutil.ArticleSpec{DOI: notice, Type: "expression-of-concern", Related: []string{target}},
			wantKind: article.KindExpressionOfConcern,
		},
		{
			name:      "uncorrected proof",
			spec:      testutil.ArticleSpec{DOI: notice, Draft: true},
			wantKind:  article.KindDraft,
			wantDraft: true,
		},
		{
			name:     "version of record",
			spec:     testutil.ArticleSpec{DOI: notice, VORUpdate: true},
			wantKind: article.KindArticle,
		},
		{
			name:      "draft correction keeps amendment kind",
			spec:      testutil.ArticleSpec{DOI: notice, Type: "correction", Related: []string{target}, Draft: true},
			wantKind:  article.KindCorrection,
			wantDraft: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := article.Decode(doi.MustParse(notice), testutil.ArticleXML(tt.spec))
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, doc.Kind)
			assert.Equal(t, tt.wantDraft, doc.Draft)
			if tt.wantKind.IsAmendment() {
				assert.Equal(t, []doi.DOI{target}, doc.Related)
			}
		})
	}
}

func TestDecode_RelatedFallback(t *testing.T) {
	// A correction whose links use the wrong relation still yields its links.
	content := testutil.ArticleXML(testutil.ArticleSpec{
		DOI:      notice,
		Type:     "correction",
		Related:  []string{target, target2, "not-a-doi"},
		Relation: "companion",
	})

	doc, err := article.Decode(doi.MustParse(notice), content)
	require.NoError(t, err)
	assert.Equal(t, []doi.DOI{target, target2}, doc.Related)
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string][]byte{
		"not xml":       []byte("this is not xml"),
		"truncated":     []byte(`<article article-type="research-article"><front>`),
		"doi mismatch":  testutil.ArticleXML(testutil.ArticleSpec{DOI: target2}),
		"invalid embed": testutil.ArticleXML(testutil.ArticleSpec{DOI: "garbage"}),
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := article.Decode(doi.MustParse(target), content)
			require.Error(t, err)
			assert.ErrorIs(t, err, article.ErrMalformed)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := article.FingerprintOf([]byte("one"))
	b := article.FingerprintOf([]byte("one"))
	c := article.FingerprintOf([]byte("two"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 64)
	assert.Equal(t, string(a)[:12], a.Short())
}
