package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the full dictionary for offline use",
	Long: `Download the complete dictionary from the remote store into the
local database. Requires an entitled user.

Example:
  qamus download
  qamus download --force   # re-download even if a local copy exists`,
	RunE: runDownload,
}

var downloadForce bool

func init() {
	downloadCmd.Flags().BoolVar(&downloadForce, "force", false, "Re-download even if a local copy exists")
}

func runDownload(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := commandContext()
	defer cancel()

	start := time.Now()
	fmt.Println("Downloading dictionary...")

	err = client.SyncAll(ctx, func(fraction float64) {
		fmt.Printf("\r%3.0f%%", fraction*100)
	}, downloadForce)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	fmt.Printf("Download complete: %d entries (took %s)\n",
		stats.EntryCount, time.Since(start).Round(time.Millisecond))
	return nil
}
