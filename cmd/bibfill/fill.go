package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matsen/bibfill/internal/cache"
	"github.com/matsen/bibfill/internal/config"
	"github.com/matsen/bibfill/internal/csl"
	"github.com/matsen/bibfill/internal/fetch"
	"github.com/matsen/bibfill/internal/merge"
	"github.com/matsen/bibfill/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	fillFormat  string
	fillOutput  string
	fillEntries string
	fillMailto  string
)

func init() {
	fillCmd.Flags().StringVar(&fillFormat, "format", "json", "Output format: json or biblatex")
	fillCmd.Flags().StringVarP(&fillOutput, "output", "o", "", "Output path (- for stdout, default <input>-filled.<ext>)")
	fillCmd.Flags().StringVar(&fillEntries, "entry", "", "Process only these cite-keys (comma-separated)")
	fillCmd.Flags().StringVar(&fillMailto, "mailto", "", "Contact address for the resolver's polite pool")
	rootCmd.AddCommand(fillCmd)
}

var fillCmd = &cobra.Command{
	Use:   "fill <input.json>",
	Short: "Resolve DOIs and fill in bibliography entries",
	Long: `Fill completes each entry of the input document: the DOI is resolved to
its published metadata, the user's own fields override the fetched ones,
and the merged records are written out as CSL-JSON or biblatex.

Entries without a DOI pass through on their user fields alone. A failed
entry never blocks the rest; output is written for every entry that
succeeded.

Examples:
  bibfill fill refs.json
  bibfill fill refs.json --format biblatex -o refs.bib
  bibfill fill refs.json --entry smith2020,jones2021 -o -`,
	Args: cobra.ExactArgs(1),
	RunE: runFill,
}

// FillResponse is the JSON status report printed after a run. The rendered
// output itself goes to the output path, not here.
type FillResponse struct {
	Status    string             `json:"status"`
	Output    string             `json:"output,omitempty"`
	Total     int                `json:"total"`
	Succeeded []string           `json:"succeeded"`
	Failures  []pipeline.Failure `json:"failures,omitempty"`
	Warnings  []pipeline.Warning `json:"warnings,omitempty"`
}

func runFill(cmd *cobra.Command, args []string) error {
	input := args[0]

	target, err := pipeline.ParseTarget(fillFormat)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if fillMailto != "" {
		cfg.Mailto = fillMailto
	}

	doc, err := parseDocument(input)
	if err != nil {
		exitWithError(ExitDataError, "parsing %s: %v", input, err)
	}

	if fillEntries != "" {
		if err := filterEntries(doc, fillEntries); err != nil {
			exitWithError(ExitError, "%v", err)
		}
	}

	p, store, err := buildPipeline(cfg)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	defer store.Close()

	report := p.Run(cmd.Context(), doc, pipeline.Options{
		Target:               target,
		MaxConcurrentEntries: cfg.MaxConcurrentEntries,
		EmptyOverride:        emptyPolicy(cfg.EmptyOverride),
	})

	outPath := fillOutput
	if outPath == "" {
		outPath = defaultOutputPath(input, target)
	}
	if len(report.Succeeded) > 0 || report.OK() {
		if err := writeOutput(outPath, report.Output); err != nil {
			exitWithError(ExitError, "writing output: %v", err)
		}
	}

	printFillReport(report, outPath)
	if !report.OK() {
		os.Exit(ExitPartial)
	}
	return nil
}

func parseDocument(path string) (*csl.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csl.ParseDocument(f)
}

// buildPipeline wires the shared resources: cache store, limiter, client,
// fetcher. The store is returned so the caller can close it.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, *cache.SQLiteStore, error) {
	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache: %w", err)
	}

	limiter := fetch.NewLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.MaxInflightRequests)
	client := fetch.NewClient(
		fetch.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second}),
		fetch.WithMailto(cfg.Mailto),
		fetch.WithRetries(cfg.MaxRetries, fetch.DefaultBackoff),
		fetch.WithLogger(slog.Default()),
	)
	fetcher := fetch.NewFetcher(store, limiter, client, slog.Default())

	return pipeline.New(fetcher, nil, slog.Default()), store, nil
}

func emptyPolicy(s string) merge.EmptyOverridePolicy {
	if s == "suppress" {
		return merge.EmptySuppress
	}
	return merge.EmptyIgnore
}

// filterEntries narrows the document to the named cite-keys, preserving
// input order. Unknown keys are an error.
func filterEntries(doc *csl.Document, keys string) error {
	want := map[string]bool{}
	for _, k := range strings.Split(keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			want[k] = true
		}
	}

	var kept []csl.Entry
	for _, e := range doc.Entries {
		if want[e.CiteKey] {
			kept = append(kept, e)
			delete(want, e.CiteKey)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for k := range want {
			missing = append(missing, k)
		}
		return fmt.Errorf("cite-keys not in input: %s", strings.Join(missing, ", "))
	}
	doc.Entries = kept
	return nil
}

// defaultOutputPath derives <input>-filled.<ext> next to the input file.
func defaultOutputPath(input string, target pipeline.Target) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "-filled." + target.Suffix()
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printFillReport(r *pipeline.Report, outPath string) {
	status := "ok"
	if !r.OK() {
		status = "partial"
	}
	if len(r.Succeeded) == 0 && !r.OK() {
		status = "failed"
	}

	if humanOutput {
		fmt.Fprintf(os.Stderr, "%d/%d entries filled", len(r.Succeeded), r.Total)
		if outPath != "-" {
			fmt.Fprintf(os.Stderr, " -> %s", outPath)
		}
		fmt.Fprintln(os.Stderr)
		for _, f := range r.Failures {
			fmt.Fprintf(os.Stderr, "  [FAIL] %s (%s): %s\n", f.CiteKey, f.Stage, f.Reason)
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(os.Stderr, "  [WARN] %s: no mapping for %s in %s\n", w.CiteKey, w.Codepoint, w.Field)
		}
		return
	}

	resp := FillResponse{
		Status:    status,
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Failures:  r.Failures,
		Warnings:  r.Warnings,
	}
	if outPath != "-" {
		resp.Output = outPath
	}
	if resp.Succeeded == nil {
		resp.Succeeded = []string{}
	}
	outputJSON(resp)
}
