package users

import (
	"bufio"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/internal/auth"
	"github.com/hashjosh/meshauth/internal/services/iam"
)

var (
	emailFlag        string
	usernameFlag     string
	passwordFlag     string
	firstNameFlag    string
	lastNameFlag     string
	phoneFlag        string
	rolesInput       []string
	permissionsInput []string
	stdinFlag        bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new local user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}
		if len(rolesInput) == 0 {
			return fmt.Errorf("at least one role must be specified using --role")
		}

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		if _, err := mail.ParseAddress(emailFlag); err != nil {
			return fmt.Errorf("invalid email format: %w", err)
		}

		bundle, err := openService(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		user, err := bundle.Service.CreateUser(cmd.Context(), iam.CreateUserRequest{
			Username:    usernameFlag,
			Email:       emailFlag,
			Password:    password,
			FirstName:   firstNameFlag,
			LastName:    lastNameFlag,
			PhoneNumber: phoneFlag,
			Roles:       rolesInput,
			Permissions: permissionsInput,
		})
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Println("User created successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("User ID: %s\n", user.ID)
		fmt.Printf("Email: %s\n", user.Email)
		fmt.Printf("Username: %s\n", user.Username)
		fmt.Printf("Authorities: %s\n", strings.Join(auth.DeriveAuthorities(user.Roles, user.Permissions), ", "))
		fmt.Println("----------------------------------------")
		return nil
	},
}
