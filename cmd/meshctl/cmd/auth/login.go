package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/meshctl/internal/credstore"
	"github.com/hashjosh/meshauth/pkg/sdk"
)

var (
	username   string
	password   string
	stdin      bool
	rememberMe bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with a username and password",
	Long: `Logs in to the auth API of --service through the gateway and stores the
returned token pair. Later commands send the refresh token along so an expired
access token is renewed in band; rotated tokens are saved automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if username == "" {
			return fmt.Errorf("--username is required")
		}
		if stdin {
			pterm.Info.Print("Enter password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		store, err := openStore()
		if err != nil {
			return err
		}

		client := sdk.NewClient(ServerURL, Service)
		user, err := client.Login(cmd.Context(), username, password, rememberMe)
		if err != nil {
			return err
		}

		if err := store.Save(&credstore.Session{
			ServerURL:   ServerURL,
			Service:     Service,
			Username:    user.Username,
			Credentials: client.Credentials(),
		}); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		creds := client.Credentials()
		pterm.Success.Printf("Logged in as %s\n", user.Username)
		pterm.Info.Printf("Access token expires at %s\n", creds.AccessExpiresAt.Format(time.RFC1123))
		pterm.Info.Printf("Session renewable until %s\n", creds.RefreshExpiresAt.Format(time.RFC1123))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&password, "password", "p", "", "Password (use --stdin to avoid shell history)")
	loginCmd.Flags().BoolVar(&stdin, "stdin", false, "Read the password from stdin")
	loginCmd.Flags().BoolVar(&rememberMe, "remember-me", false, "Request the longer remember-me lifetimes")
}
