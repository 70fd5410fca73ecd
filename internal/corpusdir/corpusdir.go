// Package corpusdir stores corpus documents as one XML file per DOI in a
// flat directory, the layout consumers of the corpus read directly.
//
// Writes go to a hidden temporary file in the same directory and are
// published with a rename, so readers only ever observe complete
// documents.
package corpusdir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
)

const tempPrefix = ".tmp-"

// Store is a directory-backed local store.
type Store struct {
	fs     billy.Filesystem
	root   string // OS path when backed by the real filesystem, for directory fsync
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates dir if needed and returns a store over it. Open never
// touches existing files; see Recover.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create corpus directory: %w", err)
	}
	s := New(osfs.New(dir, osfs.WithBoundOS()), opts...)
	s.root = dir
	return s, nil
}

// New returns a store over an existing billy filesystem (memfs in tests).
func New(bfs billy.Filesystem, opts ...Option) *Store {
	s := &Store{fs: bfs, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListIDs returns the DOI of every document file. Files whose names do not
// map to a DOI are ignored.
func (s *Store) ListIDs(ctx context.Context) (doi.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.readDir()
	if err != nil {
		return nil, err
	}
	ids := make(doi.Set, len(entries))
	for _, e := range entries {
		if e.IsDir() || !doi.IsCorpusFilename(e.Name()) {
			continue
		}
		id, err := doi.FromFilename(e.Name())
		if err != nil {
			continue
		}
		ids.Add(id)
	}
	return ids, nil
}

// Fingerprint hashes the stored bytes of id. ok is false when id is absent.
func (s *Store) Fingerprint(ctx context.Context, id doi.DOI) (article.Fingerprint, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	content, err := util.ReadFile(s.fs, id.Filename())
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", id, err)
	}
	return article.FingerprintOf(content), true, nil
}

// Get reads and decodes the stored snapshot of id. Returns an error
// matching fs.ErrNotExist when absent.
func (s *Store) Get(ctx context.Context, id doi.DOI) (*article.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := util.ReadFile(s.fs, id.Filename())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return article.Decode(id, content)
}

// Put atomically creates or replaces the file for doc.
func (s *Store) Put(ctx context.Context, doc *article.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := doc.DOI.Filename()
	tmp := tempPrefix + final + "-" + uuid.NewString()

	if err := s.writeTemp(tmp, doc.Content); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("publish %s: %w", doc.DOI, err)
	}
	if err := s.syncDir(); err != nil {
		return fmt.Errorf("sync directory after %s: %w", doc.DOI, err)
	}

	s.logger.Debug("document stored", "doi", doc.DOI, "fingerprint", doc.Fingerprint.Short())
	return nil
}

func (s *Store) writeTemp(name string, content []byte) error {
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

// syncDir fsyncs the directory so the rename survives a crash. No-op for
// in-memory filesystems.
func (s *Store) syncDir() error {
	if s.root == "" {
		return nil
	}
	d, err := os.Open(s.root)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Recover removes temporary files left behind by an interrupted writer and
// returns how many were removed. It must only be called while holding the
// corpus lock: the temp files of a live run look exactly like stale ones.
func (s *Store) Recover(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := s.readDir()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		if err := s.fs.Remove(e.Name()); err != nil {
			return removed, fmt.Errorf("remove stale temp file %s: %w", e.Name(), err)
		}
		removed++
		s.logger.Info("removed stale temp file", "file", e.Name())
	}
	return removed, nil
}

// readDir lists the store root. A root that does not exist yet is empty.
func (s *Store) readDir() ([]os.FileInfo, error) {
	entries, err := s.fs.ReadDir(".")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list corpus directory: %w", err)
	}
	return entries, nil
}
