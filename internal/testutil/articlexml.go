package testutil

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// ArticleSpec describes a synthetic JATS document for tests.
type ArticleSpec struct {
	DOI string

	// Type is the article-type attribute ("research-article", "correction",
	// "retraction", "expression-of-concern"). Defaults to "research-article".
	Type string

	// Related lists amended DOIs. Relation defaults to the relation
	// matching Type.
	Related  []string
	Relation string

	// Draft marks the document as an uncorrected proof. VORUpdate marks it
	// as the version of record replacing one.
	Draft     bool
	VORUpdate bool

	Epub time.Time

	// Body is free text used to vary content between revisions.
	Body string
}

var defaultRelation = map[string]string{
	"correction":            "corrected-article",
	"retraction":            "retracted-article",
	"expression-of-concern": "object-of-concern",
}

// ArticleXML renders spec as a minimal JATS document. Output is
// deterministic for a given spec.
func ArticleXML(spec ArticleSpec) []byte {
	typ := spec.Type
	if typ == "" {
		typ = "research-article"
	}
	relation := spec.Relation
	if relation == "" {
		relation = defaultRelation[typ]
	}
	if relation == "" {
		relation = "companion"
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<article article-type=%q xmlns:xlink="http://www.w3.org/1999/xlink">`+"\n", typ)
	b.WriteString("<front><article-meta>\n")
	fmt.Fprintf(&b, `<article-id pub-id-type="doi">%s</article-id>`+"\n", html.EscapeString(spec.DOI))
	if !spec.Epub.IsZero() {
		fmt.Fprintf(&b, `<pub-date pub-type="epub"><day>%d</day><month>%d</month><year>%d</year></pub-date>`+"\n",
			spec.Epub.Day(), int(spec.Epub.Month()), spec.Epub.Year())
	}
	for _, rel := range spec.Related {
		fmt.Fprintf(&b, `<related-article related-article-type=%q ext-link-type="uri" xlink:href="info:doi/%s"/>`+"\n",
			relation, html.EscapeString(rel))
	}
	switch {
	case spec.Draft:
		b.WriteString("<custom-meta-group><custom-meta><meta-name>Publication Update</meta-name><meta-value>uncorrected-proof</meta-value></custom-meta></custom-meta-group>\n")
	case spec.VORUpdate:
		b.WriteString("<custom-meta-group><custom-meta><meta-name>Publication Update</meta-name><meta-value>vor-update-to-uncorrected-proof</meta-value></custom-meta></custom-meta-group>\n")
	}
	b.WriteString("</article-meta></front>\n")
	fmt.Fprintf(&b, "<body><p>%s</p></body>\n", html.EscapeString(spec.Body))
	b.WriteString("</article>\n")
	return []byte(b.String())
}
