package csl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalEntry serializes an entry back to a CSL-JSON object, preserving
// field order. encoding/json maps would reorder keys, so the object is
// assembled by hand.
func MarshalEntry(e Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')

	writeKV := func(key string, val any) error {
		if b.Len() > 1 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
		return nil
	}

	if e.CiteKey != "" {
		if err := writeKV("id", e.CiteKey); err != nil {
			return nil, err
		}
	}
	if e.Type != "" {
		if err := writeKV("type", e.Type); err != nil {
			return nil, err
		}
	}
	for _, f := range e.Fields {
		if err := writeKV(f.Name, valueToJSON(f.Value)); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
	}

	b.WriteByte('}')
	return b.Bytes(), nil
}

// MarshalDocument serializes entries as a CSL-JSON array, one entry per line.
func MarshalDocument(entries []Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("[\n")
	for i, e := range entries {
		data, err := MarshalEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.CiteKey, err)
		}
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.Write(data)
	}
	b.WriteString("\n]\n")
	return b.Bytes(), nil
}

// valueToJSON converts a FieldValue back into the shape json.Marshal expects
// for CSL-JSON output.
func valueToJSON(v FieldValue) any {
	switch v := v.(type) {
	case PlainText:
		return string(v)
	case Literal:
		return string(v)
	case RichText:
		return richTextString(v)
	case NameList:
		names := make([]map[string]string, 0, len(v))
		for _, n := range v {
			m := map[string]string{}
			if n.Family != "" {
				m["family"] = n.Family
			}
			if n.Given != "" {
				m["given"] = n.Given
			}
			if n.Literal != "" {
				m["literal"] = n.Literal
			}
			names = append(names, m)
		}
		return names
	case StructuredDate:
		parts := []int{v.Year}
		if v.Month != 0 {
			parts = append(parts, v.Month)
			if v.Day != 0 {
				parts = append(parts, v.Day)
			}
		}
		return map[string][][]int{"date-parts": {parts}}
	default:
		return nil
	}
}

// richTextString reassembles rich text spans into the tagged string form.
func richTextString(rt RichText) string {
	var b strings.Builder
	for _, span := range rt {
		tag := ""
		for t, style := range markupTags {
			if style == span.Style {
				tag = t
				break
			}
		}
		if tag == "" {
			b.WriteString(span.Text)
			continue
		}
		b.WriteString("<" + tag + ">")
		b.WriteString(span.Text)
		b.WriteString("</" + tag + ">")
	}
	return b.String()
}
