package auth

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Close the session and forget stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, store, err := storedClient()
		if err != nil {
			return err
		}

		if err := client.Logout(cmd.Context()); err != nil {
			pterm.Warning.Printf("Server logout failed: %v\n", err)
		}
		if err := store.Delete(); err != nil {
			return fmt.Errorf("failed to delete credentials: %w", err)
		}

		pterm.Success.Println("Logged out successfully")
		return nil
	},
}
