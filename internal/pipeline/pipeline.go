// Package pipeline drives entries through validate, fetch, merge,
// transliterate and render.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/matsen/bibfill/internal/csl"
	"github.com/matsen/bibfill/internal/fetch"
	"github.com/matsen/bibfill/internal/merge"
	"github.com/matsen/bibfill/internal/render"
	"github.com/matsen/bibfill/internal/translit"
)

// Target selects the output grammar.
type Target int

const (
	// TargetCSL emits the canonical structured record format,
	// untransliterated.
	TargetCSL Target = iota

	// TargetBiblatex emits the typeset-ready bibliography.
	TargetBiblatex
)

// ParseTarget maps a CLI format name to a Target.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "json", "csl":
		return TargetCSL, nil
	case "biblatex", "bib":
		return TargetBiblatex, nil
	}
	return 0, fmt.Errorf("unknown output format %q (expected json or biblatex)", s)
}

// Suffix returns the conventional file extension for the target.
func (t Target) Suffix() string {
	if t == TargetBiblatex {
		return "bib"
	}
	return "json"
}

// Stage names the pipeline stage at which an entry failed. Within one entry
// stages run strictly in this order; an entry never moves backward and a
// failure is terminal for that entry only.
type Stage string

const (
	StageValidate      Stage = "validate"
	StageFetch         Stage = "fetch"
	StageMerge         Stage = "merge"
	StageTransliterate Stage = "transliterate"
	StageRender        Stage = "render"
)

// Failure records one entry's terminal error and the stage that produced it.
type Failure struct {
	CiteKey string `json:"cite_key"`
	Index   int    `json:"index"`
	Stage   Stage  `json:"stage"`
	Reason  string `json:"reason"`

	Err error `json:"-"`
}

// Warning reports an unmapped codepoint encountered during transliteration.
type Warning struct {
	CiteKey   string `json:"cite_key"`
	Field     string `json:"field"`
	Codepoint string `json:"codepoint"`
}

// Options configure a run.
type Options struct {
	Target Target

	// MaxConcurrentEntries bounds how many entries are in flight at once.
	MaxConcurrentEntries int

	// EmptyOverride selects the merge policy for explicit empty overrides.
	EmptyOverride merge.EmptyOverridePolicy
}

// Report is the outcome of a run: the rendered output for every entry that
// made it through, plus per-entry failures and warnings. A run is an overall
// success only when every entry rendered; partial success still carries the
// renderable entries' output.
type Report struct {
	Output    []byte    `json:"-"`
	Total     int       `json:"total"`
	Succeeded []string  `json:"succeeded"`
	Failures  []Failure `json:"failures,omitempty"`
	Warnings  []Warning `json:"warnings,omitempty"`
}

// OK reports whether every entry rendered.
func (r *Report) OK() bool {
	return len(r.Failures) == 0
}

// Pipeline owns the long-lived resources a run needs. The fetcher (and the
// cache and limiter inside it) is shared across all entries of a run.
type Pipeline struct {
	fetcher  *fetch.Fetcher
	translit *translit.Transliterator
	log      *slog.Logger
}

// New assembles a pipeline from its injected collaborators.
func New(fetcher *fetch.Fetcher, tr *translit.Transliterator, log *slog.Logger) *Pipeline {
	if tr == nil {
		tr = translit.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{fetcher: fetcher, translit: tr, log: log}
}

// Validate checks the document against the schema. It performs no network
// access and does not mutate the document.
func Validate(doc *csl.Document) []*csl.SchemaError {
	return csl.ValidateDocument(doc)
}

// ClearCache drops cached resolution records so the next run re-fetches.
func (p *Pipeline) ClearCache(namespace string) error {
	return p.fetcher.ClearCache(namespace)
}

// entryResult is the per-entry outcome collected by the workers.
type entryResult struct {
	entry    csl.Entry
	failure  *Failure
	warnings []Warning
}

// Run drives every entry through the pipeline, entries concurrent up to the
// configured bound. A failure on one entry never cancels its siblings; only
// an unparsable document (handled by the caller at parse time) is fatal to
// the batch.
func (p *Pipeline) Run(ctx context.Context, doc *csl.Document, opts Options) *Report {
	schemaErrs := Validate(doc)

	workers := opts.MaxConcurrentEntries
	if workers < 1 {
		workers = 4
	}

	results := make([]entryResult, len(doc.Entries))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range doc.Entries {
		e := doc.Entries[i]

		if errs := csl.EntryErrors(schemaErrs, i); len(errs) > 0 {
			results[i] = entryResult{failure: &Failure{
				CiteKey: e.CiteKey,
				Index:   i,
				Stage:   StageValidate,
				Reason:  errs[0].Error(),
				Err:     errs[0],
			}}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, e csl.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.runEntry(ctx, i, e, opts)
		}(i, e)
	}
	wg.Wait()

	report := &Report{Total: len(doc.Entries)}
	var bib []byte
	var finals []csl.Entry
	for i, res := range results {
		if res.failure != nil {
			report.Failures = append(report.Failures, *res.failure)
			p.log.Error("entry failed", "cite_key", res.failure.CiteKey,
				"stage", res.failure.Stage, "err", res.failure.Reason)
			continue
		}
		if opts.Target == TargetBiblatex {
			s, err := render.Biblatex(res.entry)
			if err != nil {
				f := Failure{CiteKey: doc.Entries[i].CiteKey, Index: i,
					Stage: StageRender, Reason: err.Error(), Err: err}
				report.Failures = append(report.Failures, f)
				p.log.Error("entry failed", "cite_key", f.CiteKey,
					"stage", f.Stage, "err", f.Reason)
				continue
			}
			if len(bib) > 0 {
				bib = append(bib, '\n')
			}
			bib = append(bib, s...)
		} else {
			finals = append(finals, res.entry)
		}
		report.Succeeded = append(report.Succeeded, doc.Entries[i].CiteKey)
		report.Warnings = append(report.Warnings, res.warnings...)
	}

	if opts.Target == TargetBiblatex {
		report.Output = bib
		return report
	}
	out, err := render.CSLJSON(finals)
	if err != nil {
		report.Failures = append(report.Failures, Failure{
			Stage: StageRender, Reason: err.Error(), Err: err,
		})
		p.log.Error("rendering document failed", "err", err)
		return report
	}
	report.Output = out
	return report
}

// runEntry advances one entry through fetch, merge and transliteration.
// Failure at any stage is terminal for the entry with the stage recorded.
// Rendering happens afterwards, over the collected record set.
func (p *Pipeline) runEntry(ctx context.Context, idx int, e csl.Entry, opts Options) entryResult {
	fail := func(stage Stage, err error) entryResult {
		return entryResult{failure: &Failure{
			CiteKey: e.CiteKey, Index: idx, Stage: stage,
			Reason: err.Error(), Err: err,
		}}
	}

	var fetched *csl.Entry
	if e.DOI != "" {
		rec, err := p.fetcher.Resolve(ctx, e.DOI)
		if err != nil {
			return fail(StageFetch, err)
		}
		fetched = rec
	}

	final := merge.Merge(fetched, e, opts.EmptyOverride)

	var warnings []Warning
	if opts.Target == TargetBiblatex {
		translated, ws := p.translit.Entry(final)
		final = translated
		for _, w := range ws {
			warnings = append(warnings, Warning{
				CiteKey:   e.CiteKey,
				Field:     w.Field,
				Codepoint: fmt.Sprintf("U+%04X", w.Codepoint),
			})
			p.log.Warn("unmapped codepoint", "cite_key", e.CiteKey,
				"field", w.Field, "codepoint", fmt.Sprintf("U+%04X", w.Codepoint))
		}
	}

	return entryResult{entry: final, warnings: warnings}
}
