package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(exampleCmd)
}

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a sample input document",
	Long: `Example prints a minimal input document to stdout. Each entry needs a
cite-key (id); a DOI pulls the published metadata, and any other field
overrides what the DOI provides.`,
	Run: runExample,
}

const exampleDocument = `[
  {
    "id": "matsen2015",
    "DOI": "10.1093/molbev/msv150"
  },
  {
    "id": "smith2020",
    "DOI": "10.5555/12345678",
    "type": "report",
    "title": "A Hand-Corrected Title"
  },
  {
    "id": "unpublished2024",
    "type": "misc",
    "title": "Notes Without a DOI",
    "author": [{"family": "Doe", "given": "Jane"}],
    "issued": {"date-parts": [[2024]]}
  }
]
`

func runExample(cmd *cobra.Command, args []string) {
	fmt.Print(exampleDocument)
}
