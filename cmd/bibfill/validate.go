package main

import (
	"fmt"
	"os"

	"github.com/matsen/bibfill/internal/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <input.json>",
	Short: "Check an input document against the schema",
	Long: `Validate parses the input document and reports every schema violation:
missing or duplicate cite-keys, unknown entry types, malformed DOIs,
and entries with neither a DOI nor any fields. No network access.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// ValidateResponse is the response for the validate command.
type ValidateResponse struct {
	Status  string          `json:"status"`
	Entries int             `json:"entries"`
	Issues  []ValidateIssue `json:"issues"`
}

// ValidateIssue is a single schema violation.
type ValidateIssue struct {
	CiteKey string `json:"cite_key,omitempty"`
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := parseDocument(args[0])
	if err != nil {
		exitWithError(ExitDataError, "parsing %s: %v", args[0], err)
	}

	errs := pipeline.Validate(doc)

	issues := make([]ValidateIssue, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, ValidateIssue{
			CiteKey: e.CiteKey,
			Index:   e.Index,
			Field:   e.Field,
			Message: e.Msg,
		})
	}

	status := "ok"
	if len(issues) > 0 {
		status = "invalid"
	}

	if humanOutput {
		if len(issues) == 0 {
			fmt.Printf("Schema check: OK\n\n%d entries checked\n", len(doc.Entries))
		} else {
			fmt.Printf("Schema check: %d issues found\n\n", len(issues))
			for _, issue := range issues {
				key := issue.CiteKey
				if key == "" {
					key = fmt.Sprintf("entry %d", issue.Index)
				}
				fmt.Printf("  [FAIL] %s: %s\n", key, issue.Message)
			}
			fmt.Printf("\n%d entries checked\n", len(doc.Entries))
		}
	} else {
		outputJSON(ValidateResponse{
			Status:  status,
			Entries: len(doc.Entries),
			Issues:  issues,
		})
	}

	if len(issues) > 0 {
		os.Exit(ExitDataError)
	}
	return nil
}
