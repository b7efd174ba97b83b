// Package merge combines fetched bibliographic records with user overrides.
package merge

import "github.com/matsen/bibfill/internal/csl"

// EmptyOverridePolicy decides what an override set to an explicit empty
// string means. Upstream tools disagree, so it is configurable rather than
// guessed.
type EmptyOverridePolicy int

const (
	// EmptyIgnore treats an empty override as no override: the fetched
	// value survives. Matches the original fill-missing-fields behavior.
	EmptyIgnore EmptyOverridePolicy = iota

	// EmptySuppress treats an empty override as a deletion: the field is
	// omitted from the merged entry entirely.
	EmptySuppress
)

// Merge combines a fetched record with the user-authored entry. For every
// field name appearing in either source the override wins; field order is
// fetched order first, then override-only fields in input-document order.
//
// Cite-key and entry type are identifiers, not bibliographic content: they
// come from the input document verbatim and are never replaced by the fetch
// (the fetched type fills in only when the input leaves it empty). When
// fetched is nil the entry is fully user-authored and becomes its override
// set verbatim.
func Merge(fetched *csl.Entry, input csl.Entry, policy EmptyOverridePolicy) csl.Entry {
	out := csl.Entry{
		CiteKey: input.CiteKey,
		DOI:     input.DOI,
		Type:    input.Type,
	}

	overrides := input.Overrides
	if policy == EmptyIgnore {
		overrides = dropEmpty(overrides)
	}

	var fetchedFields csl.FieldList
	if fetched != nil {
		fetchedFields = fetched.Fields
		if out.Type == "" {
			out.Type = fetched.Type
		}
	}

	used := make(map[string]bool, len(overrides))
	for _, f := range fetchedFields {
		if ov, ok := overrides.Get(f.Name); ok {
			used[f.Name] = true
			if policy == EmptySuppress && isEmpty(ov) {
				continue
			}
			out.Fields = append(out.Fields, csl.Field{Name: f.Name, Value: ov})
			continue
		}
		out.Fields = append(out.Fields, f)
	}

	for _, f := range overrides {
		if used[f.Name] {
			continue
		}
		if policy == EmptySuppress && isEmpty(f.Value) {
			continue
		}
		out.Fields = append(out.Fields, f)
	}

	return out
}

func dropEmpty(l csl.FieldList) csl.FieldList {
	out := make(csl.FieldList, 0, len(l))
	for _, f := range l {
		if isEmpty(f.Value) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isEmpty(v csl.FieldValue) bool {
	switch v := v.(type) {
	case csl.PlainText:
		return v == ""
	case csl.Literal:
		return v == ""
	case csl.RichText:
		return len(v) == 0
	case csl.NameList:
		return len(v) == 0
	default:
		return false
	}
}
