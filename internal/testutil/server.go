package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/fault"
)

// NewRegistryServer serves reg over the same HTTP surface as the real
// registry: a Solr-style /terms listing and /{site}/article/file
// downloads. Failures programmed on reg map to status codes: NotFound to
// 404, Malformed to 400, everything else to 503. Fingerprint requests
// are downloads too, so every request counts as a fetch.
func NewRegistryServer(t *testing.T, reg *FakeRegistry) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/terms", func(w http.ResponseWriter, req *http.Request) {
		ids, err := reg.ListAllIDs(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		terms := make([]any, 0, 2*ids.Len())
		for _, id := range ids.Sorted() {
			terms = append(terms, id.String(), 1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"terms": map[string]any{"id": terms}})
	})
	r.Get("/{site}/article/file", func(w http.ResponseWriter, req *http.Request) {
		id, err := doi.Parse(req.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		content, err := reg.Raw(req.Context(), id)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write(content)
		case fault.IsNotFound(err):
			http.NotFound(w, req)
		case fault.IsMalformed(err):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}
