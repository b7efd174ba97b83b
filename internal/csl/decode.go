package csl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Field classes. CSL-JSON is a dynamically shaped format; these sets drive
// the conversion into the closed FieldValue variants. Unknown shapes are a
// SchemaError at the boundary, not a runtime surprise later.
var (
	nameFields = map[string]bool{
		"author":            true,
		"editor":            true,
		"translator":        true,
		"container-author":  true,
		"collection-editor": true,
		"composer":          true,
		"director":          true,
		"interviewer":       true,
		"original-author":   true,
		"recipient":         true,
	}

	dateFields = map[string]bool{
		"issued":        true,
		"accessed":      true,
		"event-date":    true,
		"original-date": true,
		"submitted":     true,
	}

	verbatimFields = map[string]bool{
		"DOI":   true,
		"URL":   true,
		"ISBN":  true,
		"ISSN":  true,
		"PMID":  true,
		"PMCID": true,
	}
)

// ParseDocument reads a CSL-JSON array and returns a Document. The fields of
// each entry land in Overrides: in the input document they are user-authored
// values that take precedence over anything fetched later. A document that is
// not a JSON array is a whole-batch fatal error; per-entry shape problems are
// deferred to the validator.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("top-level JSON value must be an array")
	}

	var doc Document
	for dec.More() {
		idx := len(doc.Entries)
		e, errs, err := decodeEntry(dec, idx)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", idx, err)
		}
		e.Overrides = e.Fields
		e.Fields = nil
		doc.Entries = append(doc.Entries, e)
		doc.Errs = append(doc.Errs, errs...)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &doc, nil
}

// DecodeEntry parses a single CSL-JSON object (e.g. a fetched record) into an
// Entry with Fields populated in source order. A fetched record must decode
// wholly: any shape violation is returned as an error.
func DecodeEntry(data []byte) (Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	e, errs, err := decodeEntry(dec, 0)
	if err != nil {
		return Entry{}, err
	}
	if len(errs) > 0 {
		return Entry{}, errs[0]
	}
	return e, nil
}

// decodeEntry reads one JSON object. JSON-level problems (truncation, not an
// object) are a hard error; entry-scoped shape violations are collected and
// the offending field skipped, so the caller decides whether they fail the
// entry or the whole call.
func decodeEntry(dec *json.Decoder, idx int) (Entry, []*SchemaError, error) {
	tok, err := dec.Token()
	if err != nil {
		return Entry{}, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Entry{}, nil, fmt.Errorf("entry must be a JSON object")
	}

	var e Entry
	var errs []*SchemaError
	addErr := func(field, msg string) {
		errs = append(errs, &SchemaError{Index: idx, Field: field, Msg: msg})
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Entry{}, nil, err
		}
		key := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Entry{}, nil, fmt.Errorf("field %q: %w", key, err)
		}

		switch key {
		case "id":
			if err := json.Unmarshal(raw, &e.CiteKey); err != nil {
				addErr("id", "cite-key must be a string")
			}
		case "type":
			if err := json.Unmarshal(raw, &e.Type); err != nil {
				addErr("type", "entry type must be a string")
			}
		default:
			v, convErr := convertValue(key, raw)
			if convErr != nil {
				addErr(key, convErr.Error())
				continue
			}
			if e.Fields.Has(key) {
				addErr(key, "duplicate field")
				continue
			}
			e.Fields = append(e.Fields, Field{Name: key, Value: v})
			if key == "DOI" {
				if lit, ok := v.(Literal); ok {
					e.DOI = string(lit)
				}
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return Entry{}, nil, err
	}

	// The cite-key may decode after a bad field; stamp it on every error.
	for _, se := range errs {
		se.CiteKey = e.CiteKey
	}
	return e, errs, nil
}

// convertValue maps a raw JSON value to its FieldValue variant based on the
// field name and the value shape.
func convertValue(name string, raw json.RawMessage) (FieldValue, error) {
	switch {
	case nameFields[name]:
		return convertNameList(raw)
	case dateFields[name]:
		return convertDate(raw)
	case verbatimFields[name]:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("expected a string")
		}
		return Literal(s), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if containsMarkup(s) {
			return parseRichText(s), nil
		}
		return PlainText(s), nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return PlainText(n.String()), nil
	}

	return nil, fmt.Errorf("unsupported value shape %s", jsonTypeName(raw))
}

func convertNameList(raw json.RawMessage) (NameList, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("expected an array of name objects")
	}

	list := make(NameList, 0, len(items))
	for i, item := range items {
		var n Name
		for part, dst := range map[string]*string{
			"family":  &n.Family,
			"given":   &n.Given,
			"literal": &n.Literal,
		} {
			if rv, ok := item[part]; ok {
				if err := json.Unmarshal(rv, dst); err != nil {
					return nil, fmt.Errorf("name %d: %q must be a string", i, part)
				}
			}
		}
		if n.Family == "" && n.Literal == "" {
			return nil, fmt.Errorf("name %d: needs a family or literal part", i)
		}
		list = append(list, n)
	}
	return list, nil
}

// convertDate accepts the two CSL date encodings: {"date-parts": [[y,m,d]]}
// and {"raw": "YYYY-MM-DD"} (month and day optional in both).
func convertDate(raw json.RawMessage) (StructuredDate, error) {
	var obj struct {
		DateParts [][]int `json:"date-parts"`
		Raw       string  `json:"raw"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return StructuredDate{}, fmt.Errorf("expected a date object")
	}

	if len(obj.DateParts) > 0 {
		if len(obj.DateParts) != 1 {
			return StructuredDate{}, fmt.Errorf("expected a single date")
		}
		parts := obj.DateParts[0]
		if len(parts) == 0 || len(parts) > 3 {
			return StructuredDate{}, fmt.Errorf("date-parts must have 1 to 3 elements")
		}
		var d StructuredDate
		d.Year = parts[0]
		if len(parts) > 1 {
			d.Month = parts[1]
		}
		if len(parts) > 2 {
			d.Day = parts[2]
		}
		return checkDate(d)
	}

	if obj.Raw != "" {
		return parseRawDate(obj.Raw)
	}

	return StructuredDate{}, fmt.Errorf("date must have a date-parts or raw property")
}

func parseRawDate(s string) (StructuredDate, error) {
	parts := strings.Split(s, "-")
	if len(parts) > 3 {
		return StructuredDate{}, fmt.Errorf("bad date format %q: acceptable formats are YYYY, YYYY-MM and YYYY-MM-DD", s)
	}
	var d StructuredDate
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return StructuredDate{}, fmt.Errorf("bad date format %q", s)
		}
		switch i {
		case 0:
			if len(p) != 4 {
				return StructuredDate{}, fmt.Errorf("bad date format %q: year must have four digits", s)
			}
			d.Year = n
		case 1:
			d.Month = n
		case 2:
			d.Day = n
		}
	}
	return checkDate(d)
}

func checkDate(d StructuredDate) (StructuredDate, error) {
	if d.Month < 0 || d.Month > 12 {
		return d, fmt.Errorf("months are from 1 to 12")
	}
	if d.Day < 0 || d.Day > 31 {
		return d, fmt.Errorf("days are from 1 to 31")
	}
	if d.Day != 0 && d.Month == 0 {
		return d, fmt.Errorf("a date with a day needs a month")
	}
	return d, nil
}

// markupTags maps the JATS-style tags Crossref embeds in title strings to
// span styles.
var markupTags = map[string]SpanStyle{
	"i":   StyleItalic,
	"b":   StyleBold,
	"sub": StyleSubscript,
	"sup": StyleSuperscript,
	"scp": StyleSmallCaps,
}

func containsMarkup(s string) bool {
	for tag := range markupTags {
		if strings.Contains(s, "<"+tag+">") {
			return true
		}
	}
	return false
}

// parseRichText splits a string with embedded markup tags into spans.
// Unknown or unbalanced tags are kept as plain text rather than rejected:
// titles in the wild are messy and losing characters is worse than losing
// styling.
func parseRichText(s string) RichText {
	var spans RichText
	var plain strings.Builder

	flush := func() {
		if plain.Len() > 0 {
			spans = append(spans, Span{Text: plain.String()})
			plain.Reset()
		}
	}

	for len(s) > 0 {
		open := strings.IndexByte(s, '<')
		if open < 0 {
			plain.WriteString(s)
			break
		}
		matched := false
		for tag, style := range markupTags {
			prefix := "<" + tag + ">"
			if !strings.HasPrefix(s[open:], prefix) {
				continue
			}
			closeTag := "</" + tag + ">"
			end := strings.Index(s[open:], closeTag)
			if end < 0 {
				continue
			}
			plain.WriteString(s[:open])
			flush()
			inner := s[open+len(prefix) : open+end]
			spans = append(spans, Span{Text: inner, Style: style})
			s = s[open+end+len(closeTag):]
			matched = true
			break
		}
		if !matched {
			plain.WriteString(s[:open+1])
			s = s[open+1:]
		}
	}
	flush()
	return spans
}

func jsonTypeName(raw json.RawMessage) string {
	t := bytes.TrimLeft(raw, " \t\n\r")
	if len(t) == 0 {
		return "empty"
	}
	switch t[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
