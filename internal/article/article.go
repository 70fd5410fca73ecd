// Package article decodes the handful of JATS fields the sync engine
// needs from a corpus document: its kind, amendment targets, draft state
// and publication date. Everything else in the XML is carried as opaque
// bytes.
package article

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/corpussync/internal/doi"
)

// Kind classifies a document for reconciliation.
type Kind string

const (
	KindArticle             Kind = "article"
	KindCorrection          Kind = "correction"
	KindRetraction          Kind = "retraction"
	KindExpressionOfConcern Kind = "expression-of-concern"
	KindDraft               Kind = "draft"
)

// IsAmendment reports whether documents of this kind modify another document.
func (k Kind) IsAmendment() bool {
	switch k {
	case KindCorrection, KindRetraction, KindExpressionOfConcern:
		return true
	}
	return false
}

// relationFor is the related-article-type naming the amended document.
var relationFor = map[Kind]string{
	KindCorrection:          "corrected-article",
	KindRetraction:          "retracted-article",
	KindExpressionOfConcern: "object-of-concern",
}

// Publication stage markers carried in custom-meta.
const (
	stageUncorrectedProof = "uncorrected-proof"
	stageVORUpdate        = "vor-update-to-uncorrected-proof"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed document")

// Document is one fetched snapshot of a corpus document. It is never
// mutated after Decode returns.
type Document struct {
	DOI         doi.DOI
	Content     []byte
	Fingerprint Fingerprint
	Kind        Kind

	// Related lists the documents this amendment modifies. Empty for
	// non-amendments.
	Related []doi.DOI

	// Draft is true while the document is an uncorrected proof.
	Draft bool

	// PublishedAt is the epub date, zero when absent.
	PublishedAt time.Time
}

// IsAmendment reports whether the document modifies other documents.
func (d *Document) IsAmendment() bool {
	return d.Kind.IsAmendment()
}

type jatsArticle struct {
	XMLName     xml.Name        `xml:"article"`
	ArticleType string          `xml:"article-type,attr"`
	Meta        jatsArticleMeta `xml:"front>article-meta"`
}

type jatsArticleMeta struct {
	IDs      []jatsArticleID  `xml:"article-id"`
	PubDates []jatsPubDate    `xml:"pub-date"`
	Related  []jatsRelated    `xml:"related-article"`
	Custom   []jatsCustomMeta `xml:"custom-meta-group>custom-meta"`
}

type jatsArticleID struct {
	Type  string `xml:"pub-id-type,attr"`
	Value string `xml:",chardata"`
}

type jatsPubDate struct {
	Type  string `xml:"pub-type,attr"`
	Day   string `xml:"day"`
	Month string `xml:"month"`
	Year  string `xml:"year"`
}

type jatsRelated struct {
	Type  string     `xml:"related-article-type,attr"`
	Attrs []xml.Attr `xml:",any,attr"`
}

type jatsCustomMeta struct {
	Name  string `xml:"meta-name"`
	Value string `xml:"meta-value"`
}

// Decode parses content as the document identified by id.
//
// The embedded DOI, when present, must match id. Related DOIs that do not
// validate are dropped.
func Decode(id doi.DOI, content []byte) (*Document, error) {
	var a jatsArticle
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}

	for _, aid := range a.Meta.IDs {
		if aid.Type != "doi" {
			continue
		}
		embedded, err := doi.Parse(aid.Value)
		if err != nil || embedded != id {
			return nil, fmt.Errorf("%w: %s: embedded doi %q does not match", ErrMalformed, id, strings.TrimSpace(aid.Value))
		}
	}

	doc := &Document{
		DOI:         id,
		Content:     content,
		Fingerprint: FingerprintOf(content),
		Draft:       isDraft(a.Meta.Custom),
		PublishedAt: epubDate(a.Meta.PubDates),
	}

	kind := Kind(strings.TrimSpace(a.ArticleType))
	switch {
	case kind.IsAmendment():
		doc.Kind = kind
		doc.Related = relatedDOIs(kind, a.Meta.Related)
	case doc.Draft:
		doc.Kind = KindDraft
	default:
		doc.Kind = KindArticle
	}

	return doc, nil
}

func isDraft(custom []jatsCustomMeta) bool {
	draft := false
	for _, m := range custom {
		switch strings.TrimSpace(m.Value) {
		case stageUncorrectedProof:
			draft = true
		case stageVORUpdate:
			draft = false
		}
	}
	return draft
}

func epubDate(dates []jatsPubDate) time.Time {
	for _, d := range dates {
		if d.Type != "epub" {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(d.Year))
		if err != nil {
			return time.Time{}
		}
		month := atoiDefault(d.Month, 1)
		day := atoiDefault(d.Day, 1)
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n == 0 {
		return def
	}
	return n
}

// relatedDOIs prefers links of the relation matching the amendment kind and
// falls back to every related link when none match.
func relatedDOIs(kind Kind, related []jatsRelated) []doi.DOI {
	want := relationFor[kind]
	var matched, all []doi.DOI
	seenAll := make(map[doi.DOI]bool)
	seenMatched := make(map[doi.DOI]bool)
	for _, r := range related {
		id, ok := hrefDOI(r.Attrs)
		if !ok {
			continue
		}
		if !seenAll[id] {
			seenAll[id] = true
			all = append(all, id)
		}
		if r.Type == want && !seenMatched[id] {
			seenMatched[id] = true
			matched = append(matched, id)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return all
}

func hrefDOI(attrs []xml.Attr) (doi.DOI, bool) {
	for _, attr := range attrs {
		if attr.Name.Local != "href" {
			continue
		}
		id, err := doi.Parse(strings.TrimPrefix(strings.TrimSpace(attr.Value), "info:doi/"))
		if err != nil {
			return "", false
		}
		return id, true
	}
	return "", false
}
