package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/matsen/bibfill/internal/csl"
)

func TestBiblatexEntry(t *testing.T) {
	e := csl.Entry{
		CiteKey: "curie1903",
		Type:    "article-journal",
		Fields: csl.FieldList{
			{Name: "title", Value: csl.PlainText(`Recherches sur les substances radioactives`)},
			{Name: "author", Value: csl.NameList{
				{Family: "Curie", Given: "Marie"},
				{Family: "Curie", Given: "Pierre"},
			}},
			{Name: "container-title", Value: csl.PlainText("Annales de chimie et de physique")},
			{Name: "volume", Value: csl.PlainText("30")},
			{Name: "page", Value: csl.PlainText("99-203")},
			{Name: "issued", Value: csl.StructuredDate{Year: 1903}},
			{Name: "DOI", Value: csl.Literal("10.1/x")},
		},
	}

	got, err := Biblatex(e)
	if err != nil {
		t.Fatalf("Biblatex: %v", err)
	}

	want := "@article{curie1903,\n" +
		"    title = {Recherches sur les substances radioactives},\n" +
		"    author = {Curie, Marie and Curie, Pierre},\n" +
		"    journaltitle = {Annales de chimie et de physique},\n" +
		"    volume = {30},\n" +
		"    pages = {99-203},\n" +
		"    date = {1903},\n" +
		"    doi = {10.1/x},\n" +
		"}\n"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBiblatexReportSynthesizesType(t *testing.T) {
	e := csl.Entry{
		CiteKey: "smith2020",
		Type:    "report",
		Fields: csl.FieldList{
			{Name: "title", Value: csl.PlainText(`Caf\'e`)},
		},
	}
	got, err := Biblatex(e)
	if err != nil {
		t.Fatalf("Biblatex: %v", err)
	}
	want := "@report{smith2020,\n" +
		"    type = {report},\n" +
		"    title = {Caf\\'e},\n" +
		"}\n"
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	// An explicit genre supplies the type field instead.
	e.Fields = append(e.Fields, csl.Field{Name: "genre", Value: csl.PlainText("White paper")})
	got, err = Biblatex(e)
	if err != nil {
		t.Fatalf("Biblatex: %v", err)
	}
	if strings.Count(got, "type = {") != 1 {
		t.Errorf("want exactly one type field:\n%s", got)
	}
	if !strings.Contains(got, "type = {White paper}") {
		t.Errorf("genre must map to type:\n%s", got)
	}
}

func TestBiblatexEntryTypes(t *testing.T) {
	tests := []struct {
		cslType string
		want    string
	}{
		{"article-journal", "@article"},
		{"paper-conference", "@inproceedings"},
		{"chapter", "@incollection"},
		{"book", "@book"},
		{"thesis", "@thesis"},
		{"report", "@report"},
		{"webpage", "@online"},
		{"dataset", "@dataset"},
		{"article", "@misc"},
		{"", "@misc"},
	}
	for _, tt := range tests {
		e := csl.Entry{CiteKey: "k", Type: tt.cslType,
			Fields: csl.FieldList{{Name: "title", Value: csl.PlainText("T")}}}
		got, err := Biblatex(e)
		if err != nil {
			t.Fatalf("Biblatex(%q): %v", tt.cslType, err)
		}
		if !strings.HasPrefix(got, tt.want+"{") {
			t.Errorf("type %q rendered as %q, want %s", tt.cslType, strings.SplitN(got, "{", 2)[0], tt.want)
		}
	}
}

func TestBiblatexContextualFieldNames(t *testing.T) {
	// container-title is the journal for articles but the book title for
	// conference papers; publisher becomes institution for theses.
	e := csl.Entry{CiteKey: "k", Type: "paper-conference", Fields: csl.FieldList{
		{Name: "container-title", Value: csl.PlainText("Proc. of X")},
	}}
	got, _ := Biblatex(e)
	if !strings.Contains(got, "booktitle = {Proc. of X}") {
		t.Errorf("conference container-title:\n%s", got)
	}

	e = csl.Entry{CiteKey: "k", Type: "thesis", Fields: csl.FieldList{
		{Name: "genre", Value: csl.PlainText("PhD thesis")},
		{Name: "publisher", Value: csl.PlainText("MIT")},
	}}
	got, _ = Biblatex(e)
	if !strings.Contains(got, "institution = {MIT}") {
		t.Errorf("thesis publisher:\n%s", got)
	}
}

func TestBiblatexRichText(t *testing.T) {
	e := csl.Entry{CiteKey: "k", Type: "article-journal", Fields: csl.FieldList{
		{Name: "title", Value: csl.RichText{
			{Text: "Genomes of "},
			{Text: "E. coli", Style: csl.StyleItalic},
			{Text: " strain K", Style: csl.StyleNone},
		}},
	}}
	got, err := Biblatex(e)
	if err != nil {
		t.Fatalf("Biblatex: %v", err)
	}
	if !strings.Contains(got, `title = {Genomes of \emph{E. coli} strain K}`) {
		t.Errorf("rich text title:\n%s", got)
	}
}

func TestBiblatexNames(t *testing.T) {
	e := csl.Entry{CiteKey: "k", Type: "misc", Fields: csl.FieldList{
		{Name: "author", Value: csl.NameList{
			{Family: "Curie", Given: "Marie"},
			{Family: "Aristotle"},
			{Literal: "The Royal Society"},
		}},
	}}
	got, err := Biblatex(e)
	if err != nil {
		t.Fatalf("Biblatex: %v", err)
	}
	want := `author = {Curie, Marie and Aristotle and {The Royal Society}}`
	if !strings.Contains(got, want) {
		t.Errorf("got:\n%s\nwant line: %s", got, want)
	}
}

func TestBiblatexDates(t *testing.T) {
	tests := []struct {
		date csl.StructuredDate
		want string
	}{
		{csl.StructuredDate{Year: 2020}, "date = {2020}"},
		{csl.StructuredDate{Year: 2020, Month: 3}, "date = {2020-03}"},
		{csl.StructuredDate{Year: 2020, Month: 3, Day: 9}, "date = {2020-03-09}"},
	}
	for _, tt := range tests {
		e := csl.Entry{CiteKey: "k", Type: "misc", Fields: csl.FieldList{
			{Name: "issued", Value: tt.date},
		}}
		got, err := Biblatex(e)
		if err != nil {
			t.Fatalf("Biblatex: %v", err)
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("date %+v rendered as:\n%s\nwant %s", tt.date, got, tt.want)
		}
	}
}

func TestBiblatexRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		e    csl.Entry
	}{
		{
			"unknown entry type",
			csl.Entry{CiteKey: "k", Type: "hologram"},
		},
		{
			"unmappable field name",
			csl.Entry{CiteKey: "k", Type: "misc", Fields: csl.FieldList{
				{Name: "custom_field!", Value: csl.PlainText("x")},
			}},
		},
		{
			"name with no parts",
			csl.Entry{CiteKey: "k", Type: "misc", Fields: csl.FieldList{
				{Name: "author", Value: csl.NameList{{Given: "Orphan"}}},
			}},
		},
		{
			"unbalanced brace in verbatim value",
			csl.Entry{CiteKey: "k", Type: "misc", Fields: csl.FieldList{
				{Name: "DOI", Value: csl.Literal("10.1000/odd}suffix")},
			}},
		},
		{
			"trailing backslash",
			csl.Entry{CiteKey: "k", Type: "misc", Fields: csl.FieldList{
				{Name: "note", Value: csl.PlainText(`ends badly\`)},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Biblatex(tt.e)
			var re *RenderError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v, want RenderError", err)
			}
			if re.CiteKey != "k" {
				t.Errorf("RenderError.CiteKey = %q", re.CiteKey)
			}
		})
	}
}

func TestBiblatexList(t *testing.T) {
	entries := []csl.Entry{
		{CiteKey: "a", Type: "misc", Fields: csl.FieldList{{Name: "title", Value: csl.PlainText("A")}}},
		{CiteKey: "b", Type: "misc", Fields: csl.FieldList{{Name: "title", Value: csl.PlainText("B")}}},
	}
	got, err := BiblatexList(entries)
	if err != nil {
		t.Fatalf("BiblatexList: %v", err)
	}
	if !strings.Contains(got, "@misc{a,") || !strings.Contains(got, "@misc{b,") {
		t.Errorf("entries missing:\n%s", got)
	}
	if strings.Index(got, "@misc{a,") > strings.Index(got, "@misc{b,") {
		t.Error("entry order not preserved")
	}
}
