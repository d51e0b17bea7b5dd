package sessions

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/cmdutil"
)

// SessionsCmd is the parent command for refresh session maintenance
var SessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Maintain refresh sessions",
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired refresh sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := cmdutil.MustRuntime(cmd.Context())
		bundle, err := cmdutil.NewIAMServiceBundle(rt.Config, rt.Logger, cmdutil.IAMServiceOptions{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		n, err := bundle.Service.SweepExpiredSessions(cmd.Context())
		if err != nil {
			return err
		}
		rt.Logger.Info().Int64("deleted", n).Msg("expired sessions swept")
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Delete every refresh session of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := cmdutil.MustRuntime(cmd.Context())
		bundle, err := cmdutil.NewIAMServiceBundle(rt.Config, rt.Logger, cmdutil.IAMServiceOptions{})
		if err != nil {
			return err
		}
		defer bundle.Close()

		n, err := bundle.Service.RevokeUserSessions(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		fmt.Printf("Revoked %d session(s) of %s\n", n, args[0])
		return nil
	},
}

func init() {
	SessionsCmd.AddCommand(sweepCmd)
	SessionsCmd.AddCommand(revokeCmd)
}
