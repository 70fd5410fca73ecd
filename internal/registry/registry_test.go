package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/fault"
	"github.com/roach88/corpussync/internal/testutil"
)

const (
	okID      = doi.DOI("10.1371/journal.pone.0000001")
	missingID = doi.DOI("10.1371/journal.pone.0000404")
	flakyID   = doi.DOI("10.1371/journal.pone.0000503")
	brokenID  = doi.DOI("10.1371/journal.pone.0000400")
	garbageID = doi.DOI("10.1371/journal.pone.0000777")
	bioID     = doi.DOI("10.1371/journal.pbio.0000001")
)

type fakeRegistry struct {
	server *httptest.Server
	hits   atomic.Int64
	ua     atomic.Value
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{}

	r := chi.NewRouter()
	r.Get("/terms", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("terms.fl") != "id" {
			http.Error(w, "bad field", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"terms": map[string]any{
				"id": []any{string(okID), 1, string(bioID), 1, "10.1371/image.pone.v01.i01", 1},
			},
		})
	})
	r.Get("/{site}/article/file", func(w http.ResponseWriter, req *http.Request) {
		f.hits.Add(1)
		f.ua.Store(req.Header.Get("User-Agent"))
		id := doi.DOI(req.URL.Query().Get("id"))
		switch id {
		case missingID:
			http.NotFound(w, req)
		case flakyID:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		case brokenID:
			http.Error(w, "bad request", http.StatusBadRequest)
		case garbageID:
			_, _ = io.WriteString(w, "<html>maintenance</html>")
		default:
			if chi.URLParam(req, "site") != id.Site() {
				http.Error(w, "wrong site", http.StatusBadRequest)
				return
			}
			_, _ = w.Write(testutil.ArticleXML(testutil.ArticleSpec{DOI: string(id), Body: "remote"}))
		}
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRegistry) client() *Client {
	return New(Config{
		ArticleBase: f.server.URL,
		SearchBase:  f.server.URL,
		UserAgent:   "corpussync-test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListAllIDs(t *testing.T) {
	f := newFakeRegistry(t)

	ids, err := f.client().ListAllIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []doi.DOI{bioID, okID}, ids.Sorted())
}

func TestFetch(t *testing.T) {
	f := newFakeRegistry(t)
	c := f.client()

	doc, err := c.Fetch(context.Background(), okID)
	require.NoError(t, err)
	assert.Equal(t, okID, doc.DOI)
	assert.Equal(t, article.KindArticle, doc.Kind)
	assert.Equal(t, "corpussync-test", f.ua.Load())

	fp, err := c.FetchFingerprint(context.Background(), okID)
	require.NoError(t, err)
	assert.Equal(t, doc.Fingerprint, fp)

	_, err = c.Fetch(context.Background(), bioID)
	require.NoError(t, err, "site segment follows the journal code")
}

func TestFetch_ErrorClassification(t *testing.T) {
	f := newFakeRegistry(t)
	c := f.client()

	tests := []struct {
		id   doi.DOI
		kind fault.Kind
	}{
		{missingID, fault.KindNotFound},
		{flakyID, fault.KindTransient},
		{brokenID, fault.KindMalformed},
		{garbageID, fault.KindMalformed},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			_, err := c.Fetch(context.Background(), tt.id)
			require.Error(t, err)
			assert.Equal(t, tt.kind, fault.KindOf(err))
		})
	}
}

func TestFetch_TransportErrorIsTransient(t *testing.T) {
	f := newFakeRegistry(t)
	c := f.client()
	f.server.Close()

	_, err := c.FetchFingerprint(context.Background(), okID)
	require.Error(t, err)
	assert.True(t, fault.IsTransient(err))
}

func TestFetch_ContextTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := New(Config{ArticleBase: slow.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, okID)
	require.Error(t, err)
	assert.True(t, fault.IsRetryable(err))
}

func TestFetch_ReusesFingerprintedBody(t *testing.T) {
	ctx := context.Background()
	f := newFakeRegistry(t)
	c := f.client()

	fp, err := c.FetchFingerprint(ctx, okID)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.hits.Load())

	doc, err := c.Fetch(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, fp, doc.Fingerprint)
	assert.EqualValues(t, 1, f.hits.Load(), "a changed document is transferred once")

	_, err = c.Fetch(ctx, okID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.hits.Load(), "a fingerprinted body is reused only once")
}

func TestFetch_ExpiredHandoffRefetches(t *testing.T) {
	ctx := context.Background()
	f := newFakeRegistry(t)
	c := f.client()
	now := testutil.Epoch
	c.handoff.now = func() time.Time { return now }

	_, err := c.FetchFingerprint(ctx, okID)
	require.NoError(t, err)
	now = now.Add(DefaultHandoffTTL + time.Second)

	_, err = c.Fetch(ctx, okID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.hits.Load())
}

func TestFetch_HandoffDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFakeRegistry(t)
	c := New(Config{ArticleBase: f.server.URL, HandoffSize: -1}, nil)

	_, err := c.FetchFingerprint(ctx, okID)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, okID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.hits.Load())
}

func TestHandoff_EvictsOldestWhenFull(t *testing.T) {
	h := newHandoff(2, time.Minute)
	now := testutil.Epoch
	h.now = func() time.Time { return now }

	h.put(okID, []byte("a"))
	now = now.Add(time.Second)
	h.put(bioID, []byte("b"))
	now = now.Add(time.Second)
	h.put(flakyID, []byte("c"))

	_, ok := h.take(okID)
	assert.False(t, ok, "oldest entry evicted")
	body, ok := h.take(bioID)
	require.True(t, ok)
	assert.Equal(t, "b", string(body))
	_, ok = h.take(flakyID)
	assert.True(t, ok)
}
