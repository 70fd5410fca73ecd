package testutil

import (
	"context"
	"sync"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
	"github.com/roach88/corpussync/internal/fault"
)

// FakeRegistry is an in-memory registry with programmable failures. It
// counts every call so tests can assert what a run fetched.
type FakeRegistry struct {
	mu           sync.Mutex
	docs         map[doi.DOI][]byte
	failAlways   map[doi.DOI]error
	failTimes    map[doi.DOI]int
	failErr      map[doi.DOI]error
	listErr      error
	fetches      map[doi.DOI]int
	fingerprints map[doi.DOI]int
}

// NewFakeRegistry creates an empty registry.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		docs:         make(map[doi.DOI][]byte),
		failAlways:   make(map[doi.DOI]error),
		failTimes:    make(map[doi.DOI]int),
		failErr:      make(map[doi.DOI]error),
		fetches:      make(map[doi.DOI]int),
		fingerprints: make(map[doi.DOI]int),
	}
}

// Publish adds or replaces the document described by spec.
func (r *FakeRegistry) Publish(spec ArticleSpec) doi.DOI {
	id := doi.MustParse(spec.DOI)
	r.SetContent(id, ArticleXML(spec))
	return id
}

// SetContent stores raw bytes for id, which need not decode.
func (r *FakeRegistry) SetContent(id doi.DOI, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id] = content
}

// Remove drops id from the registry.
func (r *FakeRegistry) Remove(id doi.DOI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
}

// FailAlways makes every call for id return err. A nil err clears it.
func (r *FakeRegistry) FailAlways(id doi.DOI, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failAlways, id)
		return
	}
	r.failAlways[id] = err
}

// FailTimes makes the next n calls for id return err.
func (r *FakeRegistry) FailTimes(id doi.DOI, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failTimes[id] = n
	r.failErr[id] = err
}

// FailList makes ListAllIDs return err. A nil err clears it.
func (r *FakeRegistry) FailList(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listErr = err
}

// Fingerprint returns the fingerprint of the current content of id.
func (r *FakeRegistry) Fingerprint(id doi.DOI) article.Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return article.FingerprintOf(r.docs[id])
}

// Content returns the current content of id.
func (r *FakeRegistry) Content(id doi.DOI) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docs[id]
}

// Fetches returns how many times Fetch was called for id.
func (r *FakeRegistry) Fetches(id doi.DOI) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches[id]
}

// FingerprintCalls returns how many times FetchFingerprint was called
// for id.
func (r *FakeRegistry) FingerprintCalls(id doi.DOI) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fingerprints[id]
}

// TotalFetches returns the number of Fetch calls across all identities.
func (r *FakeRegistry) TotalFetches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.fetches {
		n += c
	}
	return n
}

// ResetCounts zeroes all call counters.
func (r *FakeRegistry) ResetCounts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches = make(map[doi.DOI]int)
	r.fingerprints = make(map[doi.DOI]int)
}

// ListAllIDs implements engine.Registry.
func (r *FakeRegistry) ListAllIDs(ctx context.Context) (doi.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	ids := make(doi.Set, len(r.docs))
	for id := range r.docs {
		ids.Add(id)
	}
	return ids, nil
}

// Raw returns the current bytes of id, counted as a fetch.
func (r *FakeRegistry) Raw(ctx context.Context, id doi.DOI) ([]byte, error) {
	return r.lookup(ctx, id, r.fetches, "fetch")
}

// Fetch implements engine.Registry.
func (r *FakeRegistry) Fetch(ctx context.Context, id doi.DOI) (*article.Document, error) {
	content, err := r.lookup(ctx, id, r.fetches, "fetch")
	if err != nil {
		return nil, err
	}
	doc, err := article.Decode(id, content)
	if err != nil {
		return nil, fault.Malformed("fetch", id, err)
	}
	return doc, nil
}

// FetchFingerprint implements engine.Registry.
func (r *FakeRegistry) FetchFingerprint(ctx context.Context, id doi.DOI) (article.Fingerprint, error) {
	content, err := r.lookup(ctx, id, r.fingerprints, "fingerprint")
	if err != nil {
		return "", err
	}
	return article.FingerprintOf(content), nil
}

func (r *FakeRegistry) lookup(ctx context.Context, id doi.DOI, counter map[doi.DOI]int, op string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	counter[id]++
	if err := r.failAlways[id]; err != nil {
		return nil, err
	}
	if r.failTimes[id] > 0 {
		r.failTimes[id]--
		return nil, r.failErr[id]
	}
	content, ok := r.docs[id]
	if !ok {
		return nil, fault.NotFound(op, id)
	}
	return content, nil
}
