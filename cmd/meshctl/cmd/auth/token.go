package auth

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var quiet bool

var tokenCmd = &cobra.Command{
	Use:   "ws-token",
	Short: "Fetch a short-lived token for the realtime handshake",
	Long: `Prints a token to pass as ?token= or in the Authorization header when
opening a websocket to the realtime gateway.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session, store, err := storedClient()
		if err != nil {
			return err
		}

		token, expiresAt, err := client.WebSocketToken(cmd.Context())
		if err != nil {
			return err
		}
		if err := persistRotation(client, session, store); err != nil {
			pterm.Warning.Printf("Could not save renewed tokens: %v\n", err)
		}

		if quiet {
			fmt.Println(token)
			return nil
		}
		pterm.Info.Printf("Expires at %s\n", expiresAt.Format(time.RFC1123))
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the token")
}
