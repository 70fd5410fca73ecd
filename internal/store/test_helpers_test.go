package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/testutil"
)

// createTestStore creates a new on-disk store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.now = func() time.Time { return testutil.Epoch }
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDocument decodes a synthetic document.
func createTestDocument(t *testing.T, spec testutil.ArticleSpec) *article.Document {
	t.Helper()
	doc, err := article.Decode(doi.DOI(spec.DOI), testutil.ArticleXML(spec))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	return doc
}

func draftSpec(id string) testutil.ArticleSpec {
	return testutil.ArticleSpec{DOI: id, Draft: true}
}
