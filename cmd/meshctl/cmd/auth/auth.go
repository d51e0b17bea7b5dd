package auth

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hashjosh/meshauth/cmd/meshctl/internal/credstore"
	"github.com/hashjosh/meshauth/pkg/sdk"
)

var (
	// ServerURL is the gateway URL, set by the root command
	ServerURL string
	// Service names the /api/v1/{service}/auth API used for login
	Service string

	stateDir string
)

// AuthCmd is the parent command for auth operations
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
	Long:  `Commands for logging in and inspecting the identity the mesh resolves for you.`,
}

func init() {
	AuthCmd.AddCommand(loginCmd)
	AuthCmd.AddCommand(logoutCmd)
	AuthCmd.AddCommand(statusCmd)
	AuthCmd.AddCommand(tokenCmd)
}

// Configure sets the server, service and credential directory for all auth commands.
func Configure(serverURL, service, dir string) {
	ServerURL = serverURL
	Service = service
	stateDir = dir
}

func openStore() (*credstore.FileStore, error) {
	store, err := credstore.NewFileStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}
	return store, nil
}

// storedClient rebuilds an SDK client from the stored login.
func storedClient() (*sdk.Client, *credstore.Session, *credstore.FileStore, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, nil, err
	}
	session, err := store.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w\n\nPlease run 'meshctl auth login' first", err)
	}
	client := sdk.NewClient(session.ServerURL, session.Service, sdk.WithCredentials(session.Credentials))
	return client, session, store, nil
}

// persistRotation saves tokens rotated during the last call.
func persistRotation(client *sdk.Client, session *credstore.Session, store *credstore.FileStore) error {
	creds := client.Credentials()
	if creds.AccessToken == session.Credentials.AccessToken && creds.RefreshToken == session.Credentials.RefreshToken {
		return nil
	}
	session.Credentials = creds
	return store.Save(session)
}
