package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local store statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Println("Local Store Statistics")
	fmt.Println("----------------------")
	fmt.Printf("Entries:        %d\n", stats.EntryCount)
	fmt.Printf("Favorites:      %d\n", stats.FavoriteCount)
	fmt.Printf("Schema version: %s\n", stats.SchemaVersion)

	if !stats.LastSync.IsZero() {
		fmt.Printf("Last sync:      %s (%s ago)\n",
			stats.LastSync.Format(time.RFC3339),
			time.Since(stats.LastSync).Round(time.Second))
	} else {
		fmt.Println("Last sync:      never")
	}
	return nil
}
