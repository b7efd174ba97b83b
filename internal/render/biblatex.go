// Package render serializes final record sets into the output grammars.
package render

import (
	"fmt"
	"strings"

	"github.com/matsen/bibfill/internal/csl"
)

// RenderError reports field content that cannot be expressed in the target
// grammar. It is scoped to a single entry.
type RenderError struct {
	CiteKey string
	Field   string
	Msg     string
}

func (e *RenderError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %s", e.CiteKey, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.CiteKey, e.Msg)
}

// entryTypeMap converts CSL item types to biblatex entry types.
var entryTypeMap = map[string]string{
	"article-journal":   "article",
	"article-magazine":  "article",
	"article-newspaper": "article",
	"paper-conference":  "inproceedings",
	"thesis":            "thesis",
	"report":            "report",
	"book":              "book",
	"chapter":           "incollection",
	"webpage":           "online",
	"dataset":           "dataset",
	"software":          "software",
	"article":           "misc",
	"misc":              "misc",
}

// fieldNameMap converts CSL field names to biblatex field names. Fields not
// listed pass through when they are already well-formed biblatex names.
var fieldNameMap = map[string]string{
	"title":            "title",
	"author":           "author",
	"editor":           "editor",
	"translator":       "translator",
	"container-title":  "journaltitle",
	"collection-title": "series",
	"issued":           "date",
	"accessed":         "urldate",
	"event-date":       "eventdate",
	"event-title":      "eventtitle",
	"page":             "pages",
	"issue":            "number",
	"number":           "number",
	"volume":           "volume",
	"edition":          "edition",
	"version":          "version",
	"genre":            "type",
	"publisher":        "publisher",
	"publisher-place":  "location",
	"chapter-number":   "chapter",
	"note":             "note",
	"DOI":              "doi",
	"URL":              "url",
	"ISBN":             "isbn",
	"ISSN":             "issn",
	"PMID":             "pmid",
	"PMCID":            "pmcid",
}

// Biblatex renders one entry in the bibliography grammar:
//
//	@type{citekey,
//	    field = {value},
//	}
//
// Values must already be transliterated; the renderer is a pure function of
// the record set and performs no substitution of its own.
func Biblatex(e csl.Entry) (string, error) {
	entryType, err := biblatexType(e)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "@%s{%s,\n", entryType, e.CiteKey)

	// thesis and report entries carry their kind as a type field when the
	// record itself does not supply a genre.
	if (entryType == "thesis" || entryType == "report") && !e.Fields.Has("genre") {
		fmt.Fprintf(&b, "    type = {%s},\n", e.Type)
	}

	for _, f := range e.Fields {
		name, err := biblatexFieldName(e, f.Name, entryType)
		if err != nil {
			return "", err
		}
		if name == "" {
			continue
		}
		value, err := biblatexValue(e.CiteKey, f)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "    %s = {%s},\n", name, value)
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// BiblatexList renders the whole record set, one entry after another.
func BiblatexList(entries []csl.Entry) (string, error) {
	var parts []string
	for _, e := range entries {
		s, err := Biblatex(e)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n"), nil
}

func biblatexType(e csl.Entry) (string, error) {
	ty := e.Type
	if ty == "" {
		ty = "misc"
	}

	// Articles carrying an arXiv genre render as eprint-style misc
	// entries; plain "article" without a journal is misc as well.
	if ty == "article" {
		if g, ok := e.Fields.Get("genre"); ok {
			if pt, ok := g.(csl.PlainText); ok && strings.EqualFold(strings.TrimSpace(string(pt)), "working paper") {
				return "report", nil
			}
		}
	}

	bt, ok := entryTypeMap[ty]
	if !ok {
		return "", &RenderError{CiteKey: e.CiteKey, Msg: fmt.Sprintf("no biblatex entry type for %q", ty)}
	}
	return bt, nil
}

func biblatexFieldName(e csl.Entry, name, entryType string) (string, error) {
	switch name {
	case "container-title":
		// Journal for articles, book title for proceedings and
		// collection chapters.
		if entryType == "inproceedings" || entryType == "incollection" {
			return "booktitle", nil
		}
		return "journaltitle", nil
	case "publisher":
		// Theses and reports credit an institution, not a publisher.
		if entryType == "thesis" || entryType == "report" {
			return "institution", nil
		}
		return "publisher", nil
	}

	if mapped, ok := fieldNameMap[name]; ok {
		return mapped, nil
	}

	// An unmapped name survives only if it is already a plausible
	// biblatex identifier.
	lower := strings.ToLower(name)
	for _, r := range lower {
		if r < 'a' || r > 'z' {
			return "", &RenderError{CiteKey: e.CiteKey, Field: name,
				Msg: "field name cannot be expressed in the bibliography grammar"}
		}
	}
	return lower, nil
}

func biblatexValue(citeKey string, f csl.Field) (string, error) {
	switch v := f.Value.(type) {
	case csl.PlainText:
		if !texBalanced(string(v)) {
			return "", &RenderError{CiteKey: citeKey, Field: f.Name,
				Msg: "unbalanced braces cannot be expressed in the bibliography grammar"}
		}
		return string(v), nil

	case csl.Literal:
		// Verbatim values skip transliteration, so a stray brace or a
		// trailing backslash would break the field's delimiters.
		if !texBalanced(string(v)) {
			return "", &RenderError{CiteKey: citeKey, Field: f.Name,
				Msg: "unbalanced braces cannot be expressed in the bibliography grammar"}
		}
		return string(v), nil

	case csl.RichText:
		var b strings.Builder
		for _, span := range v {
			macro := styleMacro(span.Style)
			if macro == "" {
				b.WriteString(span.Text)
				continue
			}
			fmt.Fprintf(&b, `\%s{%s}`, macro, span.Text)
		}
		return b.String(), nil

	case csl.NameList:
		parts := make([]string, 0, len(v))
		for _, n := range v {
			s, err := formatName(n)
			if err != nil {
				return "", &RenderError{CiteKey: citeKey, Field: f.Name, Msg: err.Error()}
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " and "), nil

	case csl.StructuredDate:
		return formatDate(v), nil

	default:
		return "", &RenderError{CiteKey: citeKey, Field: f.Name, Msg: "unknown value variant"}
	}
}

func styleMacro(s csl.SpanStyle) string {
	switch s {
	case csl.StyleItalic:
		return "emph"
	case csl.StyleBold:
		return "textbf"
	case csl.StyleSubscript:
		return "textsubscript"
	case csl.StyleSuperscript:
		return "textsuperscript"
	case csl.StyleSmallCaps:
		return "textsc"
	}
	return ""
}

// texBalanced reports whether a value nests braces correctly once emitted
// inside {...}. Backslash-escaped characters count as literal text; a
// trailing backslash would escape the closing delimiter.
func texBalanced(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i == len(s)-1 {
				return false
			}
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// formatName renders a single name as "Family, Given". Institutional names
// are braced so biblatex does not split them on whitespace.
func formatName(n csl.Name) (string, error) {
	switch {
	case n.Literal != "":
		return "{" + n.Literal + "}", nil
	case n.Family != "" && n.Given != "":
		return n.Family + ", " + n.Given, nil
	case n.Family != "":
		return n.Family, nil
	default:
		return "", fmt.Errorf("name has no family or literal part")
	}
}

// formatDate composes a biblatex date: YYYY, YYYY-MM or YYYY-MM-DD.
func formatDate(d csl.StructuredDate) string {
	switch {
	case d.Month == 0:
		return fmt.Sprintf("%d", d.Year)
	case d.Day == 0:
		return fmt.Sprintf("%d-%02d", d.Year, d.Month)
	default:
		return fmt.Sprintf("%d-%02d-%02d", d.Year, d.Month, d.Day)
	}
}
