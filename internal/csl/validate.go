package csl

import (
	"fmt"
	"strings"
)

// entryTypes are the CSL item types the pipeline knows how to handle
// downstream. The validator flags anything else up front so type problems
// surface before network activity rather than at render time.
var entryTypes = map[string]bool{
	"article":           true,
	"article-journal":   true,
	"article-magazine":  true,
	"article-newspaper": true,
	"book":              true,
	"chapter":           true,
	"paper-conference":  true,
	"report":            true,
	"thesis":            true,
	"webpage":           true,
	"dataset":           true,
	"software":          true,
	"misc":              true,
}

// ValidateDocument checks every entry against the schema rules and returns
// one error per violation, including the shape violations recorded while
// decoding. It performs no I/O and never mutates the document.
func ValidateDocument(doc *Document) []*SchemaError {
	errs := append([]*SchemaError(nil), doc.Errs...)
	seen := make(map[string]int, len(doc.Entries))

	for i := range doc.Entries {
		e := &doc.Entries[i]

		if e.CiteKey == "" {
			errs = append(errs, &SchemaError{Index: i, Field: "id", Msg: "missing required cite-key"})
		} else if prev, dup := seen[e.CiteKey]; dup {
			errs = append(errs, &SchemaError{CiteKey: e.CiteKey, Index: i,
				Msg: fmt.Sprintf("duplicate cite-key (first used by entry %d)", prev)})
		} else {
			seen[e.CiteKey] = i
		}

		if e.Type != "" && !entryTypes[e.Type] {
			errs = append(errs, &SchemaError{CiteKey: e.CiteKey, Index: i, Field: "type",
				Msg: fmt.Sprintf("unknown entry type %q", e.Type)})
		}

		if e.DOI != "" && !ValidDOI(e.DOI) {
			errs = append(errs, &SchemaError{CiteKey: e.CiteKey, Index: i, Field: "DOI",
				Msg: fmt.Sprintf("malformed DOI %q", e.DOI)})
		}

		// Nothing to fetch and nothing to render.
		if e.DOI == "" && len(e.Overrides) == 0 {
			errs = append(errs, &SchemaError{CiteKey: e.CiteKey, Index: i,
				Msg: "entry has no DOI and no fields"})
		}
	}
	return errs
}

// EntryErrors returns the subset of errs belonging to the entry at index i.
func EntryErrors(errs []*SchemaError, i int) []*SchemaError {
	var out []*SchemaError
	for _, e := range errs {
		if e.Index == i {
			out = append(out, e)
		}
	}
	return out
}

// ValidDOI reports whether s looks like a DOI: the "10." directory prefix,
// a registrant code, and a suffix separated by a slash.
func ValidDOI(s string) bool {
	if !strings.HasPrefix(s, "10.") {
		return false
	}
	slash := strings.IndexByte(s, '/')
	return slash > 3 && slash < len(s)-1
}
