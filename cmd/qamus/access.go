package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Check offline-access entitlement for the current user",
	RunE:  runAccess,
}

func runAccess(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx, cancel := commandContext()
	defer cancel()

	if client.CheckAccess(ctx) {
		fmt.Println("Offline access: granted")
	} else {
		fmt.Println("Offline access: denied")
	}
	return nil
}
