package users

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/cmdutil"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage local users",
	Long:  `Commands for provisioning the users that log in to an identity service.`,
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Username (token subject) of the user")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().StringVar(&firstNameFlag, "first-name", "", "First name")
	createCmd.Flags().StringVar(&lastNameFlag, "last-name", "", "Last name")
	createCmd.Flags().StringVar(&phoneFlag, "phone", "", "Phone number")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to assign to the user (required)")
	createCmd.Flags().StringSliceVar(&permissionsInput, "permission", []string{}, "Permission slug(s) to grant")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(listCmd)
	UsersCmd.AddCommand(disableCmd)
}

func openService(cmd *cobra.Command) (*cmdutil.IAMServiceBundle, error) {
	rt := cmdutil.MustRuntime(cmd.Context())
	bundle, err := cmdutil.NewIAMServiceBundle(rt.Config, rt.Logger, cmdutil.IAMServiceOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize IAM service: %w", err)
	}
	return bundle, nil
}
