package render

import "github.com/matsen/bibfill/internal/csl"

// CSLJSON renders the record set in the canonical structured format: a
// CSL-JSON array with field order preserved and values untransliterated.
func CSLJSON(entries []csl.Entry) ([]byte, error) {
	return csl.MarshalDocument(entries)
}
