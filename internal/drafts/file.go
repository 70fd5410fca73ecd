package drafts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/roach88/corpussync/internal/doi"
)

// FileStore keeps the registry as a newline separated DOI list.
type FileStore struct {
	fs     billy.Filesystem
	name   string
	root   string // OS directory for fsync; empty for in-memory filesystems
	logger *slog.Logger
}

// NewFileStore returns a store for file name inside bfs.
func NewFileStore(bfs billy.Filesystem, name string, logger *slog.Logger) *FileStore {
	if name == "" {
		name = DefaultFilename
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{fs: bfs, name: name, logger: logger}
}

// OpenFileStore returns a store for the file at path, creating its
// directory if needed.
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create draft registry directory: %w", err)
	}
	s := NewFileStore(osfs.New(dir, osfs.WithBoundOS()), filepath.Base(path), logger)
	s.root = dir
	return s, nil
}

// Load reads the list. Lines that are not valid DOIs are skipped.
func (s *FileStore) Load(ctx context.Context) (doi.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, s.name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}

	ids := doi.NewSet()
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, err := doi.Parse(line)
		if err != nil {
			s.logger.Warn("ignoring invalid draft registry entry", "entry", line)
			continue
		}
		ids.Add(id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.name, err)
	}
	return ids, nil
}

// Save replaces the list atomically (temp file then rename).
func (s *FileStore) Save(ctx context.Context, ids doi.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, id := range ids.Sorted() {
		buf.WriteString(string(id))
		buf.WriteByte('\n')
	}

	tmp := "." + s.name + "-" + uuid.NewString()
	if err := s.writeTemp(tmp, buf.Bytes()); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write draft registry: %w", err)
	}
	if err := s.fs.Rename(tmp, s.name); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("publish draft registry: %w", err)
	}
	if err := s.syncDir(); err != nil {
		return fmt.Errorf("sync draft registry directory: %w", err)
	}
	return nil
}

// writeTemp writes data to name and fsyncs it before closing.
func (s *FileStore) writeTemp(name string, data []byte) error {
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func (s *FileStore) syncDir() error {
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
