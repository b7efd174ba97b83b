package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/matsen/bibfill/internal/csl"
)

func TestCSLJSON(t *testing.T) {
	entries := []csl.Entry{
		{
			CiteKey: "etude2020",
			Type:    "article-journal",
			Fields: csl.FieldList{
				{Name: "title", Value: csl.PlainText("Étude de cas")},
				{Name: "DOI", Value: csl.Literal("10.1/x")},
			},
		},
		{
			CiteKey: "local2024",
			Type:    "misc",
			Fields: csl.FieldList{
				{Name: "title", Value: csl.PlainText("Local Notes")},
			},
		},
	}

	data, err := CSLJSON(entries)
	if err != nil {
		t.Fatalf("CSLJSON: %v", err)
	}
	if !json.Valid(data) {
		t.Fatalf("output is not valid JSON:\n%s", data)
	}

	out := string(data)
	if !strings.Contains(out, "Étude de cas") {
		t.Errorf("output must stay Unicode:\n%s", out)
	}
	if strings.Index(out, "etude2020") > strings.Index(out, "local2024") {
		t.Error("entry order not preserved")
	}
}
