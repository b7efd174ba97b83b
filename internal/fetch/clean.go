package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Resolver responses need a clean-up pass before they are usable: Crossref
// pads records with registry bookkeeping, mislabels some entry types, and
// HTML-escapes ampersands in container titles. Cleaning operates on the raw
// JSON so field order is preserved for the merge step.

// droppedFields is registry metadata that has no place in a bibliography.
var droppedFields = []string{
	"abstract",
	"alternative-id",
	"article-number",
	"assertion",
	"content-domain",
	"copyright",
	"created",
	"deposited",
	"funder",
	"indexed",
	"is-referenced-by-count",
	"ISSN",
	"journal-issue",
	"license",
	"link",
	"member",
	"prefix",
	"published",
	"published-online",
	"published-print",
	"publisher-location",
	"reference",
	"reference-count",
	"references-count",
	"relation",
	"resource",
	"score",
	"short-title",
	"subject",
	"subtitle",
	"update-policy",
}

// typeRemap fixes out-of-spec CSL types seen in the wild. Crossref likes
// listing conference papers as book-chapters.
var typeRemap = map[string]string{
	"book-chapter":        "paper-conference",
	"journal-article":     "article-journal",
	"proceedings-article": "paper-conference",
}

type rawField struct {
	name  string
	value json.RawMessage
}

// rawJSON marshals without HTML escaping, so "&" survives as itself in the
// cleaned payload instead of turning into a unicode escape.
func rawJSON(v any) json.RawMessage {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil
	}
	return bytes.TrimSuffix(b.Bytes(), []byte{'\n'})
}

// CleanRecord normalizes a fetched CSL-JSON record in place, preserving the
// order of the fields it keeps.
func CleanRecord(payload json.RawMessage, log *slog.Logger) (json.RawMessage, error) {
	fields, err := splitObject(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	fields = dropFields(fields)
	fields = promotePrintISBN(fields)
	fields = remapType(fields, log)
	fields = cleanAuthors(fields)
	fields = tagArXiv(fields)
	fields = unescapeAmpersands(fields)

	return joinObject(fields), nil
}

func dropFields(fields []rawField) []rawField {
	drop := make(map[string]bool, len(droppedFields))
	for _, f := range droppedFields {
		drop[f] = true
	}
	out := fields[:0]
	for _, f := range fields {
		if drop[f.name] {
			continue
		}
		// Drop empty leftovers like "original-title": [].
		v := bytes.TrimSpace(f.value)
		if string(v) == "[]" || string(v) == "{}" || string(v) == "null" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// promotePrintISBN replaces the isbn-type array with a plain ISBN field
// holding the print ISBN, when one exists.
func promotePrintISBN(fields []rawField) []rawField {
	for i, f := range fields {
		if f.name != "isbn-type" {
			continue
		}
		var kinds []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(f.value, &kinds); err != nil {
			return removeField(fields, i)
		}
		for _, k := range kinds {
			if k.Type == "print" && k.Value != "" {
				if hasField(fields, "ISBN") {
					return removeField(fields, i)
				}
				fields[i] = rawField{name: "ISBN", value: rawJSON(k.Value)}
				return fields
			}
		}
		return removeField(fields, i)
	}
	return fields
}

func remapType(fields []rawField, log *slog.Logger) []rawField {
	for i, f := range fields {
		if f.name != "type" {
			continue
		}
		var ty string
		if err := json.Unmarshal(f.value, &ty); err != nil {
			return fields
		}
		if mapped, ok := typeRemap[ty]; ok {
			log.Warn("converting out-of-spec type, inferred type may be wrong",
				"invalid", ty, "inferred", mapped)
			fields[i].value = rawJSON(mapped)
		}
		return fields
	}
	return fields
}

// cleanAuthors strips per-author registry fields (ORCID, sequence,
// affiliation) and maps institutional "name" parts to CSL "literal".
func cleanAuthors(fields []rawField) []rawField {
	for i, f := range fields {
		if !isNameField(f.name) {
			continue
		}
		var names []map[string]json.RawMessage
		if err := json.Unmarshal(f.value, &names); err != nil {
			continue
		}
		cleaned := make([]map[string]string, 0, len(names))
		for _, n := range names {
			m := map[string]string{}
			for _, part := range []string{"family", "given", "literal"} {
				var s string
				if rv, ok := n[part]; ok && json.Unmarshal(rv, &s) == nil {
					m[part] = s
				}
			}
			var inst string
			if rv, ok := n["name"]; ok && json.Unmarshal(rv, &inst) == nil && m["literal"] == "" {
				m["literal"] = inst
			}
			cleaned = append(cleaned, m)
		}
		if v := rawJSON(cleaned); v != nil {
			fields[i].value = v
		}
	}
	return fields
}

func isNameField(name string) bool {
	switch name {
	case "author", "editor", "translator", "container-author", "collection-editor":
		return true
	}
	return false
}

// tagArXiv marks arXiv-published records with a genre so the renderer can
// emit eprint fields.
func tagArXiv(fields []rawField) []rawField {
	var publisher string
	for _, f := range fields {
		if f.name == "publisher" {
			json.Unmarshal(f.value, &publisher)
		}
	}
	if publisher != "arXiv" || hasField(fields, "genre") {
		return fields
	}
	return append(fields, rawField{name: "genre", value: rawJSON("arxiv")})
}

func unescapeAmpersands(fields []rawField) []rawField {
	for i, f := range fields {
		switch f.name {
		case "title", "container-title", "container-title-short":
			var s string
			if json.Unmarshal(f.value, &s) == nil && strings.Contains(s, "&amp;") {
				fields[i].value = rawJSON(strings.ReplaceAll(s, "&amp;", "&"))
			}
		}
	}
	return fields
}

func hasField(fields []rawField, name string) bool {
	for _, f := range fields {
		if f.name == name {
			return true
		}
	}
	return false
}

func removeField(fields []rawField, i int) []rawField {
	return append(fields[:i:i], fields[i+1:]...)
}

// splitObject decomposes a JSON object into its fields in source order.
func splitObject(data []byte) ([]rawField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	var fields []rawField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields = append(fields, rawField{name: keyTok.(string), value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

// joinObject reassembles fields into a JSON object, preserving order.
func joinObject(fields []rawField) json.RawMessage {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(rawJSON(f.name))
		b.WriteByte(':')
		b.Write(f.value)
	}
	b.WriteByte('}')
	return b.Bytes()
}
