package auth

import (
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the identity the mesh resolves for you",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session, store, err := storedClient()
		if err != nil {
			return err
		}

		principal, err := client.Me(cmd.Context())
		if err != nil {
			return err
		}
		if err := persistRotation(client, session, store); err != nil {
			pterm.Warning.Printf("Could not save renewed tokens: %v\n", err)
		}
		creds := client.Credentials()

		pterm.DefaultSection.Println("Authentication Status")
		table := pterm.TableData{
			{"FIELD", "VALUE"},
			{"Server", session.ServerURL},
			{"Service", session.Service},
			{"Subject", principal.Subject},
			{"User ID", principal.UserID},
			{"Kind", principal.Kind},
			{"Authorities", strings.Join(principal.Authorities, ", ")},
			{"Renewable until", creds.RefreshExpiresAt.Format(time.RFC1123)},
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}
