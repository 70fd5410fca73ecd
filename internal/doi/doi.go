// Package doi defines the identity of a corpus document.
//
// A DOI is the stable key used everywhere in the sync engine: as the set
// element during planning, as the staging key, and as the basis of the
// on-disk filename. All DOIs entering the system pass through Parse so two
// spellings of the same identifier never produce two entries.
package doi

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Prefix is the registrant prefix shared by every corpus DOI.
const Prefix = "10.1371/"

const (
	annotationPrefix = Prefix + "annotation/"
	correctionFile   = "plos.correction."
	fileSuffix       = ".xml"
)

var (
	doiPattern = regexp.MustCompile(`^10\.1371/((journal\.p[a-zA-Z]{3}\.[0-9]{7})|(annotation/[a-zA-Z0-9]{8}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{12}))$`)

	filePattern = regexp.MustCompile(`^((journal\.p[a-zA-Z]{3}\.[0-9]{7})|(plos\.correction\.[a-zA-Z0-9]{8}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{4}-[a-zA-Z0-9]{12}))\.xml$`)
)

// ErrInvalid is returned for strings that are not corpus DOIs.
var ErrInvalid = errors.New("invalid DOI")

// ErrInvalidFilename is returned for filenames that do not map to a DOI.
var ErrInvalidFilename = errors.New("invalid corpus filename")

// DOI is a normalised corpus identifier, e.g. "10.1371/journal.pone.0000001".
type DOI string

// String implements fmt.Stringer.
func (d DOI) String() string {
	return string(d)
}

// Parse normalises s (trim + Unicode NFC) and validates it.
func Parse(s string) (DOI, error) {
	n := norm.NFC.String(strings.TrimSpace(s))
	if !doiPattern.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return DOI(n), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) DOI {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Valid reports whether s is already a normalised corpus DOI.
func Valid(s string) bool {
	return doiPattern.MatchString(s)
}

// IsAnnotation reports whether d uses the annotation form.
func (d DOI) IsAnnotation() bool {
	return strings.HasPrefix(string(d), annotationPrefix)
}

// JournalCode returns the four letter journal code ("pone", "pbio", ...)
// or "annotation" for annotation DOIs.
func (d DOI) JournalCode() string {
	if d.IsAnnotation() {
		return "annotation"
	}
	// journal.pone.0000001
	parts := strings.SplitN(strings.TrimPrefix(string(d), Prefix), ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Filename returns the base filename used by the filesystem store.
//
//	10.1371/journal.pone.0000001            -> journal.pone.0000001.xml
//	10.1371/annotation/<uuid>               -> plos.correction.<uuid>.xml
func (d DOI) Filename() string {
	if d.IsAnnotation() {
		return correctionFile + strings.TrimPrefix(string(d), annotationPrefix) + fileSuffix
	}
	return strings.TrimPrefix(string(d), Prefix) + fileSuffix
}

// FromFilename maps a corpus filename (or path) back to its DOI.
func FromFilename(name string) (DOI, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if !filePattern.MatchString(base) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	stem := strings.TrimSuffix(base, fileSuffix)
	if strings.HasPrefix(stem, correctionFile) {
		return DOI(annotationPrefix + strings.TrimPrefix(stem, correctionFile)), nil
	}
	return DOI(Prefix + stem), nil
}

// IsCorpusFilename reports whether name looks like a corpus document file.
func IsCorpusFilename(name string) bool {
	return filePattern.MatchString(path.Base(name))
}

// journalSites maps journal codes to the site segment of the article URL.
var journalSites = map[string]string{
	"pone":       "plosone",
	"pcbi":       "ploscompbiol",
	"pntd":       "plosntds",
	"pgen":       "plosgenetics",
	"ppat":       "plospathogens",
	"pbio":       "plosbiology",
	"pmed":       "plosmedicine",
	"pctr":       "plosclinicaltrials",
	"pstr":       "sustainabilitytransformation",
	"pclm":       "climate",
	"pwat":       "water",
	"pgph":       "globalpublichealth",
	"pdig":       "digitalhealth",
	"annotation": "plosone",
}

// Site returns the journal site segment for d, defaulting to "plosone".
func (d DOI) Site() string {
	if site, ok := journalSites[d.JournalCode()]; ok {
		return site
	}
	return "plosone"
}

// ArticleURL returns the URL of the document's XML under base
// (e.g. "https://journals.plos.org").
func (d DOI) ArticleURL(base string) string {
	q := url.Values{}
	q.Set("id", string(d))
	q.Set("type", "manuscript")
	return strings.TrimRight(base, "/") + "/" + d.Site() + "/article/file?" + q.Encode()
}
