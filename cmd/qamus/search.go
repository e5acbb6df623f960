package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qamuslabs/qamus"
)

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search dictionary entries",
	Long: `Search entries by source term or Arabic script. Entitled users with
a local copy are served offline; everyone else needs connectivity.

Example:
  qamus search book
  qamus search كتاب --page 2 --size 10`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var (
	searchPage int
	searchSize int
)

func init() {
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "1-indexed result page")
	searchCmd.Flags().IntVar(&searchSize, "size", 20, "Results per page")
}

func runSearch(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := commandContext()
	defer cancel()

	term := strings.Join(args, " ")
	result, err := client.Search(ctx, term, qamus.Page{Number: searchPage, Size: searchSize})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if result.Total == 0 {
		fmt.Println("No entries found.")
		return nil
	}

	fmt.Printf("Found %d entries (page %d, served from %s)\n\n", result.Total, result.Page, result.Source)
	for _, entry := range result.Entries {
		printEntry(entry)
	}
	return nil
}

func printEntry(entry qamus.Entry) {
	marker := " "
	if entry.IsFavorite {
		marker = "*"
	}
	fmt.Printf("%s %s / %s (%s)\n", marker, entry.Term, entry.Script, entry.Category)
	if entry.Definition != "" {
		fmt.Printf("    %s\n", entry.Definition)
	}
	for _, v := range entry.Variants {
		dialects := make([]string, 0, len(v.Dialects))
		for _, d := range v.Dialects {
			dialects = append(dialects, d.Name)
		}
		line := "    " + v.Transliteration
		if v.ScriptVariant != "" {
			line += " " + v.ScriptVariant
		}
		if v.Detail != "" {
			line += ": " + v.Detail
		}
		if len(dialects) > 0 {
			line += " [" + strings.Join(dialects, ", ") + "]"
		}
		fmt.Println(line)
	}
}
