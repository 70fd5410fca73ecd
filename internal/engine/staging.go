package engine

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
)

// Origin names the stage that staged a document.
type Origin string

const (
	OriginPlanned   Origin = "planned"
	OriginAmendment Origin = "amendment"
	OriginPromotion Origin = "promotion"
)

// Entry is one staged document.
type Entry struct {
	Doc    *article.Document
	Origin Origin
	// Round is the resolver round that fetched the document; planned and
	// promotion fetches are round 0. Merge runs highest round first.
	Round int
}

// Staging holds the documents fetched by one run until merge.
//
// When a spill filesystem is configured every staged document is also
// written to <run id>/<filename> there, so an aborted run can be
// inspected. The spill is removed once the run completes.
type Staging struct {
	mu      sync.Mutex
	entries map[doi.DOI]*Entry

	spill  billy.Filesystem
	dir    string
	logger *slog.Logger
}

func newStaging(spill billy.Filesystem, runID string, logger *slog.Logger) *Staging {
	s := &Staging{
		entries: make(map[doi.DOI]*Entry),
		spill:   spill,
		dir:     runID,
		logger:  logger,
	}
	if spill != nil {
		if err := spill.MkdirAll(s.dir, 0o755); err != nil {
			logger.Warn("staging spill disabled", "dir", s.dir, "error", err)
			s.spill = nil
		}
	}
	return s
}

// Put stages e, replacing any earlier entry for the same identity.
func (s *Staging) Put(e *Entry) {
	s.mu.Lock()
	s.entries[e.Doc.DOI] = e
	s.mu.Unlock()

	if s.spill == nil {
		return
	}
	name := s.spill.Join(s.dir, e.Doc.DOI.Filename())
	if err := util.WriteFile(s.spill, name, e.Doc.Content, 0o644); err != nil {
		s.logger.Warn("failed to spill staged document", "doi", e.Doc.DOI, "error", err)
	}
}

// Get returns the staged entry for id.
func (s *Staging) Get(id doi.DOI) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of staged documents.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns every entry ordered by DOI.
func (s *Staging) Entries() []*Entry {
	s.mu.Lock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Doc.DOI < out[j].Doc.DOI })
	return out
}

// Waves groups entries by round, highest round first. Amendment targets
// are always fetched in a later round than the amendment that named them,
// so merging waves in order writes targets before their amendments.
func (s *Staging) Waves() [][]*Entry {
	byRound := make(map[int][]*Entry)
	var rounds []int
	for _, e := range s.Entries() {
		if _, ok := byRound[e.Round]; !ok {
			rounds = append(rounds, e.Round)
		}
		byRound[e.Round] = append(byRound[e.Round], e)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(rounds)))

	waves := make([][]*Entry, 0, len(rounds))
	for _, r := range rounds {
		waves = append(waves, byRound[r])
	}
	return waves
}

// Discard removes the spill directory, if any.
func (s *Staging) Discard() error {
	if s.spill == nil {
		return nil
	}
	return util.RemoveAll(s.spill, s.dir)
}
