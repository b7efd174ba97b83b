// Package csl defines the CSL-JSON data model for bibliographic entries.
package csl

import "fmt"

// Document is an ordered collection of bibliographic entries parsed from a
// CSL-JSON array.
type Document struct {
	Entries []Entry

	// Errs holds entry-scoped shape violations found while decoding. They
	// fail the offending entry at validation time, never the whole batch.
	Errs []*SchemaError
}

// Entry represents a single bibliographic entry. CiteKey and Type come from
// the input document and are never replaced by fetched data. Overrides holds
// the user-authored fields from the input document; Fields holds the final
// (fetched and/or merged) field set.
type Entry struct {
	CiteKey   string
	DOI       string
	Type      string
	Fields    FieldList
	Overrides FieldList
}

// Field is a named field value. Order of fields within an entry is
// significant and preserved end-to-end.
type Field struct {
	Name  string
	Value FieldValue
}

// FieldList is an ordered list of fields with unique names.
type FieldList []Field

// Get returns the value for name, if present.
func (l FieldList) Get(name string) (FieldValue, bool) {
	for _, f := range l {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether a field with the given name exists.
func (l FieldList) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Set replaces the value of an existing field in place, or appends a new one.
// A FieldList never holds two fields with the same name.
func (l FieldList) Set(name string, v FieldValue) FieldList {
	for i, f := range l {
		if f.Name == name {
			l[i].Value = v
			return l
		}
	}
	return append(l, Field{Name: name, Value: v})
}

// Delete removes the named field, preserving the order of the rest.
func (l FieldList) Delete(name string) FieldList {
	for i, f := range l {
		if f.Name == name {
			return append(l[:i:i], l[i+1:]...)
		}
	}
	return l
}

// FieldValue is the closed set of value shapes a field can take. The variant
// tag is assigned once at the input boundary and preserved through merge,
// transliteration and rendering.
type FieldValue interface {
	fieldValue()
}

// PlainText is an unstructured text value.
type PlainText string

// Literal is a verbatim value (identifiers, URLs) that is never
// transliterated or escaped.
type Literal string

// RichText is text carrying embedded markup spans, e.g. italics inside a
// title. Crossref delivers these as JATS-style tags in the string.
type RichText []Span

// Span is a run of text with a single style applied.
type Span struct {
	Text  string
	Style SpanStyle
}

// SpanStyle enumerates the markup styles recognized in rich text.
type SpanStyle int

const (
	StyleNone SpanStyle = iota
	StyleItalic
	StyleBold
	StyleSubscript
	StyleSuperscript
	StyleSmallCaps
)

// NameList is an ordered list of person (or institution) names.
type NameList []Name

// Name is a structured person name. Institutional names use Literal only.
type Name struct {
	Family  string
	Given   string
	Literal string
}

// StructuredDate is a date with optional month and day (0 means unknown).
type StructuredDate struct {
	Year  int
	Month int
	Day   int
}

func (PlainText) fieldValue()      {}
func (Literal) fieldValue()        {}
func (RichText) fieldValue()       {}
func (NameList) fieldValue()       {}
func (StructuredDate) fieldValue() {}

// SchemaError describes a structural violation in the input document. It is
// scoped to a single entry and never aborts the batch.
type SchemaError struct {
	CiteKey string
	Index   int // position of the entry in the document
	Field   string
	Msg     string
}

func (e *SchemaError) Error() string {
	id := e.CiteKey
	if id == "" {
		id = fmt.Sprintf("entry %d", e.Index)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %s", id, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", id, e.Msg)
}
