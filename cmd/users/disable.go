package users

import (
	"fmt"

	"github.com/spf13/cobra"
)

var disableCmd = &cobra.Command{
	Use:   "disable <user-id>",
	Short: "Disable a user and revoke its sessions",
	Long: `Disables a user. Its refresh sessions are deleted, so the next renewal
attempt fails; access tokens already issued stay valid until they expire.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openService(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		if err := bundle.Service.DisableUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to disable user: %w", err)
		}
		fmt.Printf("User %s disabled\n", args[0])
		return nil
	},
}
