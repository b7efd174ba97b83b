package merge

import (
	"testing"

	"github.com/matsen/bibfill/internal/csl"
)

func fieldNames(l csl.FieldList) []string {
	names := make([]string, len(l))
	for i, f := range l {
		names[i] = f.Name
	}
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergeOverridesWin(t *testing.T) {
	fetched := &csl.Entry{
		Type: "article-journal",
		Fields: csl.FieldList{
			{Name: "title", Value: csl.PlainText("Fetched Title")},
			{Name: "volume", Value: csl.PlainText("12")},
			{Name: "page", Value: csl.PlainText("1-10")},
		},
	}
	input := csl.Entry{
		CiteKey: "smith2020",
		DOI:     "10.1/x",
		Overrides: csl.FieldList{
			{Name: "title", Value: csl.PlainText("Corrected Title")},
			{Name: "note", Value: csl.PlainText("hand-checked")},
		},
	}

	out := Merge(fetched, input, EmptyIgnore)

	if out.CiteKey != "smith2020" || out.DOI != "10.1/x" {
		t.Errorf("identifiers: %q %q", out.CiteKey, out.DOI)
	}
	if v, _ := out.Fields.Get("title"); v != csl.PlainText("Corrected Title") {
		t.Errorf("title = %#v, override must win", v)
	}
	if v, _ := out.Fields.Get("volume"); v != csl.PlainText("12") {
		t.Errorf("volume = %#v, fetched value must survive", v)
	}

	// Fetched order first, override-only fields appended in input order.
	want := []string{"title", "volume", "page", "note"}
	if got := fieldNames(out.Fields); !equalNames(got, want) {
		t.Errorf("field order = %v, want %v", got, want)
	}
}

func TestMergeTypePrecedence(t *testing.T) {
	fetched := &csl.Entry{Type: "article-journal"}

	out := Merge(fetched, csl.Entry{CiteKey: "k", Type: "report"}, EmptyIgnore)
	if out.Type != "report" {
		t.Errorf("Type = %q, input type must win", out.Type)
	}

	out = Merge(fetched, csl.Entry{CiteKey: "k"}, EmptyIgnore)
	if out.Type != "article-journal" {
		t.Errorf("Type = %q, fetched type must fill an empty input type", out.Type)
	}
}

func TestMergeWithoutFetched(t *testing.T) {
	input := csl.Entry{
		CiteKey: "local",
		Type:    "misc",
		Overrides: csl.FieldList{
			{Name: "title", Value: csl.PlainText("Notes")},
			{Name: "issued", Value: csl.StructuredDate{Year: 2024}},
		},
	}
	out := Merge(nil, input, EmptyIgnore)
	if !equalNames(fieldNames(out.Fields), []string{"title", "issued"}) {
		t.Errorf("fields = %v", fieldNames(out.Fields))
	}
}

func TestMergeDeterministic(t *testing.T) {
	fetched := &csl.Entry{Fields: csl.FieldList{
		{Name: "title", Value: csl.PlainText("T")},
		{Name: "volume", Value: csl.PlainText("1")},
	}}
	input := csl.Entry{CiteKey: "k", Overrides: csl.FieldList{
		{Name: "note", Value: csl.PlainText("n")},
	}}

	first := Merge(fetched, input, EmptyIgnore)
	for i := 0; i < 10; i++ {
		again := Merge(fetched, input, EmptyIgnore)
		if !equalNames(fieldNames(first.Fields), fieldNames(again.Fields)) {
			t.Fatalf("merge not deterministic: %v vs %v", fieldNames(first.Fields), fieldNames(again.Fields))
		}
	}
}

func TestMergeEmptyOverridePolicies(t *testing.T) {
	fetched := &csl.Entry{Fields: csl.FieldList{
		{Name: "title", Value: csl.PlainText("Fetched")},
		{Name: "note", Value: csl.PlainText("from registry")},
	}}
	input := csl.Entry{CiteKey: "k", Overrides: csl.FieldList{
		{Name: "note", Value: csl.PlainText("")},
		{Name: "edition", Value: csl.PlainText("")},
	}}

	// Ignore: the empty override is as if absent; fetched note survives.
	out := Merge(fetched, input, EmptyIgnore)
	if v, _ := out.Fields.Get("note"); v != csl.PlainText("from registry") {
		t.Errorf("EmptyIgnore: note = %#v", v)
	}
	if out.Fields.Has("edition") {
		t.Error("EmptyIgnore: empty override-only field must not appear")
	}

	// Suppress: the empty override deletes the field.
	out = Merge(fetched, input, EmptySuppress)
	if out.Fields.Has("note") {
		t.Error("EmptySuppress: note must be deleted")
	}
	if out.Fields.Has("edition") {
		t.Error("EmptySuppress: empty override-only field must not appear")
	}
	if !out.Fields.Has("title") {
		t.Error("EmptySuppress: untouched fetched field lost")
	}
}

func TestMergeEmptyVariants(t *testing.T) {
	fetched := &csl.Entry{Fields: csl.FieldList{
		{Name: "author", Value: csl.NameList{{Family: "Curie"}}},
		{Name: "title", Value: csl.RichText{{Text: "T"}}},
	}}
	input := csl.Entry{CiteKey: "k", Overrides: csl.FieldList{
		{Name: "author", Value: csl.NameList{}},
		{Name: "title", Value: csl.RichText{}},
	}}

	out := Merge(fetched, input, EmptyIgnore)
	if v, _ := out.Fields.Get("author"); len(v.(csl.NameList)) != 1 {
		t.Errorf("empty NameList override must be ignored: %#v", v)
	}
	if v, _ := out.Fields.Get("title"); len(v.(csl.RichText)) != 1 {
		t.Errorf("empty RichText override must be ignored: %#v", v)
	}
}
