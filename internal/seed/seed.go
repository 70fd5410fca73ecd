// Package seed bootstraps a local corpus from a bulk archive of article
// XML, so a new mirror does not download every article one request at a
// time. Archives are .zip, .tar, .tar.gz or .tgz; entries are matched by
// their corpus filename regardless of directory.
package seed

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/roach88/corpussync/internal/article"
	"github.com/roach88/corpussync/internal/doi"
)

// MaxEntrySize bounds a single archive entry. The largest PLOS articles
// are a few megabytes.
const MaxEntrySize = 64 << 20

var (
	// ErrUnsupportedArchive is returned for archives that are neither zip
	// nor tar.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	// ErrUnreadableArchive is returned when the archive cannot be opened.
	ErrUnreadableArchive = errors.New("unreadable archive")
)

// Store is the part of a local store seeding writes through.
type Store interface {
	ListIDs(ctx context.Context) (doi.Set, error)
	Put(ctx context.Context, doc *article.Document) error
}

// Options controls an import.
type Options struct {
	// Overwrite replaces documents already present locally. By default
	// they are kept, since the local copy is at least as new as a bulk
	// snapshot.
	Overwrite bool
	Logger    *slog.Logger
}

// Rejection is an archive entry that looked like an article but could not
// be imported.
type Rejection struct {
	Entry  string `json:"entry"`
	Reason string `json:"reason"`
}

// Result reports an import.
type Result struct {
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Ignored  int         `json:"ignored"`
	Rejected []Rejection `json:"rejected"`
}

// Import stores every article in the archive at archivePath. A failed Put
// stops the import and is returned; entries already written stay, and a
// repeated import skips them.
func Import(ctx context.Context, archivePath string, st Store, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	existing, err := st.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local documents: %w", err)
	}

	res := &Result{Rejected: []Rejection{}}
	seen := doi.NewSet()
	err = walk(archivePath, func(name string, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !doi.IsCorpusFilename(name) {
			res.Ignored++
			return nil
		}
		id, err := doi.FromFilename(name)
		if err != nil {
			res.reject(name, err.Error())
			return nil
		}
		if seen.Has(id) {
			res.reject(name, "duplicate entry for "+string(id))
			return nil
		}
		seen.Add(id)
		if existing.Has(id) && !opts.Overwrite {
			res.Skipped++
			return nil
		}

		content, err := io.ReadAll(io.LimitReader(r, MaxEntrySize+1))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if len(content) > MaxEntrySize {
			res.reject(name, fmt.Sprintf("larger than %d bytes", MaxEntrySize))
			return nil
		}
		doc, err := article.Decode(id, content)
		if err != nil {
			res.reject(name, err.Error())
			return nil
		}
		if err := st.Put(ctx, doc); err != nil {
			return fmt.Errorf("store %s: %w", id, err)
		}
		res.Imported++
		if res.Imported%10000 == 0 {
			logger.Info("seeding corpus", "imported", res.Imported)
		}
		return nil
	})

	sort.Slice(res.Rejected, func(i, j int) bool { return res.Rejected[i].Entry < res.Rejected[j].Entry })
	for _, r := range res.Rejected {
		logger.Warn("archive entry rejected", "entry", r.Entry, "reason", r.Reason)
	}
	if err != nil {
		return res, err
	}
	logger.Info("corpus seeded",
		"archive", archivePath,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"rejected", len(res.Rejected),
	)
	return res, nil
}

func (r *Result) reject(entry, reason string) {
	r.Rejected = append(r.Rejected, Rejection{Entry: entry, Reason: reason})
}

// walk calls fn for every regular file in the archive.
func walk(archivePath string, fn func(name string, r io.Reader) error) error {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return walkZip(archivePath, fn)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return walkTar(archivePath, true, fn)
	case strings.HasSuffix(lower, ".tar"):
		return walkTar(archivePath, false, fn)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, path.Base(archivePath))
	}
}

func walkZip(archivePath string, fn func(string, io.Reader) error) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open zip: %w", ErrUnreadableArchive, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = fn(f.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func walkTar(archivePath string, gzipped bool, fn func(string, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open tar: %w", ErrUnreadableArchive, err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: open gzip: %w", ErrUnreadableArchive, err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(hdr.Name, tr); err != nil {
			return err
		}
	}
}
