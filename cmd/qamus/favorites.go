package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "Manage favorite entries",
}

var favoritesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List favorite entries",
	RunE:  runFavoritesList,
}

var favoritesAddCmd = &cobra.Command{
	Use:   "add <entry-id>",
	Short: "Mark an entry as a favorite",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavoritesAdd,
}

var favoritesRemoveCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Remove an entry from favorites",
	Args:  cobra.ExactArgs(1),
	RunE:  runFavoritesRemove,
}

func init() {
	favoritesCmd.AddCommand(favoritesListCmd)
	favoritesCmd.AddCommand(favoritesAddCmd)
	favoritesCmd.AddCommand(favoritesRemoveCmd)
}

func runFavoritesList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := commandContext()
	defer cancel()

	entries, err := client.ListFavorites(ctx)
	if err != nil {
		return fmt.Errorf("list favorites: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No favorites yet.")
		return nil
	}
	for _, entry := range entries {
		printEntry(entry)
	}
	return nil
}

func runFavoritesAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := commandContext()
	defer cancel()

	if err := client.AddFavorite(ctx, args[0]); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	fmt.Println("Added.")
	return nil
}

func runFavoritesRemove(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := commandContext()
	defer cancel()

	if err := client.RemoveFavorite(ctx, args[0]); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	fmt.Println("Removed.")
	return nil
}
